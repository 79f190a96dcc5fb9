package runtime

import (
	"errors"
	"fmt"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Subproof verification errors.
var (
	ErrSubproofNil            = errors.New("runtime: nil deferred proof")
	ErrSubproofVkHashMismatch = errors.New("runtime: deferred proof vkey hash mismatch")
	ErrSubproofDigestMismatch = errors.New("runtime: deferred proof committed value digest mismatch")
)

// SubproofVerifier sanity-checks a deferred proof when the guest invokes
// the verification syscall. The actual cryptographic binding happens in the
// aggregation layer; this check exists to fail fast on a wrong proof at
// execution time.
type SubproofVerifier interface {
	// VerifyDeferredProof checks the proof against the verifying key and
	// the vkey hash and committed value digest the guest asserted.
	VerifyDeferredProof(proof *stark.ShardProof, vk *stark.VerifyingKey, vkHash, committedValueDigest types.Digest) error
}

// NoOpSubproofVerifier accepts every deferred proof. It is used when
// deferred proofs are optimistically trusted, e.g. during mock execution.
type NoOpSubproofVerifier struct{}

// VerifyDeferredProof always succeeds.
func (NoOpSubproofVerifier) VerifyDeferredProof(*stark.ShardProof, *stark.VerifyingKey, types.Digest, types.Digest) error {
	return nil
}

// MachineSubproofVerifier verifies deferred proofs against the compress
// machine and checks the asserted bindings.
type MachineSubproofVerifier struct {
	machine *stark.Machine
}

// NewMachineSubproofVerifier creates a verifier backed by the given
// recursion machine.
func NewMachineSubproofVerifier(machine *stark.Machine) *MachineSubproofVerifier {
	return &MachineSubproofVerifier{machine: machine}
}

// VerifyDeferredProof checks that the asserted vkey hash and committed value
// digest match the supplied key and proof, then verifies the proof itself.
func (v *MachineSubproofVerifier) VerifyDeferredProof(proof *stark.ShardProof, vk *stark.VerifyingKey, vkHash, committedValueDigest types.Digest) error {
	if proof == nil {
		return ErrSubproofNil
	}
	if vk.Hash() != vkHash {
		return ErrSubproofVkHashMismatch
	}
	if proof.PublicValues.CommittedValueDigest != committedValueDigest {
		return ErrSubproofDigestMismatch
	}
	if err := v.machine.Verify(vk, proof); err != nil {
		return fmt.Errorf("runtime: deferred proof rejected: %w", err)
	}
	return nil
}
