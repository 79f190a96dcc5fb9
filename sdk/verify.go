package sdk

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/zirconvm/zircon/recursion"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
	"github.com/zirconvm/zircon/wrap"
)

// verifyBundle is the verification protocol shared by every real backend:
// version gate, dual-hash public value check, then mode dispatch.
func verifyBundle(b *ProofBundle, vk *stark.VerifyingKey, store *wrap.ArtifactStore) error {
	if b.Version != Version {
		return verifyErrf(VersionMismatch, "bundle %q, pipeline %q", b.Version, Version)
	}
	if err := b.payload(); err != nil {
		return verifyErr(OtherError, err)
	}
	if err := checkCommittedValues(b); err != nil {
		return err
	}

	switch b.Mode {
	case CoreMode:
		return verifyCore(b, vk)
	case CompressedMode:
		return verifyCompressed(b, vk)
	case PlonkMode:
		return verifyOuter(b, vk, store, wrap.PlonkSystem)
	case Groth16Mode:
		return verifyOuter(b, vk, store, wrap.Groth16System)
	default:
		return verifyErrf(OtherError, "%v: %d", ErrUnknownMode, b.Mode)
	}
}

// checkCommittedValues performs the dual-hash commitment check. The bundle
// carries no discriminant for which hash the guest committed with, so both
// are tried; forging a payload that matches either digest requires breaking
// one of two independent hash functions.
func checkCommittedValues(b *ProofBundle) error {
	committed := b.PublicValues.CommittedValueDigest
	sha := types.Digest(sha256.Sum256(b.Output))
	b3 := types.Digest(blake3.Sum256(b.Output))
	if committed != sha && committed != b3 {
		return verifyErrf(InvalidPublicValues, "committed value digest matches neither hash of the output")
	}
	return nil
}

// verifyCore checks a core bundle: every shard proof verifies under the
// program key and the shard chain is contiguous and complete.
func verifyCore(b *ProofBundle, vk *stark.VerifyingKey) error {
	if err := stark.VerifyShardChain(b.Shards); err != nil {
		return verifyErr(CoreVerificationFailure, err)
	}
	machine := stark.NewMachine(stark.CoreKind)
	for i := range b.Shards {
		if err := machine.Verify(vk, &b.Shards[i]); err != nil {
			return verifyErr(CoreVerificationFailure, fmt.Errorf("shard %d: %w", i, err))
		}
	}
	first, last := &b.Shards[0].PublicValues, &b.Shards[len(b.Shards)-1].PublicValues
	if stark.ChainPublicValues(first, last) != b.PublicValues {
		return verifyErrf(CoreVerificationFailure, "bundle public values do not match the shard chain")
	}
	return nil
}

// verifyCompressed checks a compressed bundle: the recursion proof
// verifies under the shape-derived machine key, the registry binds the
// program key, and the folded chain is complete with every asserted
// deferred proof absorbed.
func verifyCompressed(b *ProofBundle, vk *stark.VerifyingKey) error {
	r := b.Reduced
	expected := stark.MachineVerifyingKey(stark.CompressKind, r.Shape.ID())
	if r.Vk != *expected {
		return verifyErrf(RecursionVerificationFailure, "verifying key is not the compress machine key for the proof's shape")
	}
	if err := stark.NewMachine(stark.CompressKind).Verify(&r.Vk, &r.Proof); err != nil {
		return verifyErr(RecursionVerificationFailure, err)
	}

	registry, err := recursion.NewVkeyRegistry(r.RegistryLeaves)
	if err != nil {
		return verifyErr(RecursionVerificationFailure, err)
	}
	pv := &r.Proof.PublicValues
	if registry.Root() != r.Root || pv.VkRoot != r.Root {
		return verifyErrf(RecursionVerificationFailure, "registry root mismatch")
	}
	if len(r.RegistryLeaves) == 0 || r.RegistryLeaves[0] != vk.Hash() {
		return verifyErrf(RecursionVerificationFailure, "program key is not the registry's first leaf")
	}
	if !pv.IsComplete {
		return verifyErrf(RecursionVerificationFailure, "folded chain is not complete")
	}
	if pv.AbsorbedDeferredDigest != pv.DeferredProofsDigest {
		return verifyErrf(RecursionVerificationFailure, "asserted deferred proofs were not all absorbed")
	}
	if *pv != b.PublicValues {
		return verifyErrf(RecursionVerificationFailure, "bundle public values do not match the proof")
	}
	return nil
}

// verifyOuter checks a plonk or groth16 bundle against the installed
// circuit artifacts.
func verifyOuter(b *ProofBundle, vk *stark.VerifyingKey, store *wrap.ArtifactStore, system wrap.ProofSystem) error {
	if b.Outer.System != system {
		return verifyErrf(OuterSnarkVerificationFailure, "bundle mode %s carries a %s proof", b.Mode, b.Outer.System)
	}
	if b.Outer.VkeyHash != vk.Hash() {
		return verifyErrf(OuterSnarkVerificationFailure, "proof is bound to a different program key")
	}
	if b.Outer.CommittedValuesDigest != b.PublicValues.CommittedValueDigest {
		return verifyErrf(OuterSnarkVerificationFailure, "public input digest does not match the bundle public values")
	}
	artifacts, err := store.Load(system)
	if err != nil {
		if errors.Is(err, wrap.ErrArtifactUnavailable) {
			return verifyErr(ArtifactUnavailable, err)
		}
		return verifyErr(OtherError, err)
	}
	if err := wrap.Verify(artifacts, b.Outer); err != nil {
		return verifyErr(OuterSnarkVerificationFailure, err)
	}
	return nil
}
