package wrap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Proving and verification errors.
var (
	ErrSystemMismatch  = errors.New("wrap: proof and artifacts use different proof systems")
	ErrCircuitMismatch = errors.New("wrap: proof was produced for a different circuit version")
	ErrProofRejected   = errors.New("wrap: outer proof rejected")
)

// OuterProof is a BN254 SNARK over the outer circuit, bound to its proof
// system and circuit version.
type OuterProof struct {
	// System is the proof system the proof was produced with.
	System ProofSystem

	// Version is the circuit version the proof was produced for.
	Version string

	// Proof is the serialized SNARK proof.
	Proof []byte

	// VkeyHash and CommittedValuesDigest are the public inputs.
	VkeyHash              types.Digest
	CommittedValuesDigest types.Digest
}

// Prove produces the outer SNARK for a wrapped pipeline proof under the
// given program verifying key hash.
func Prove(a *Artifacts, vkHash types.Digest, wrapped *stark.ShardProof) (*OuterProof, error) {
	assignment := OuterAssignment(vkHash, wrapped)
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("wrap: witness: %w", err)
	}

	var buf bytes.Buffer
	switch a.System {
	case Groth16System:
		proof, err := groth16.Prove(a.CCS, a.Groth16Pk, witness)
		if err != nil {
			return nil, fmt.Errorf("wrap: groth16 prove: %w", err)
		}
		if _, err := proof.WriteTo(&buf); err != nil {
			return nil, err
		}
	case PlonkSystem:
		proof, err := plonk.Prove(a.CCS, a.PlonkPk, witness)
		if err != nil {
			return nil, fmt.Errorf("wrap: plonk prove: %w", err)
		}
		if _, err := proof.WriteTo(&buf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProofSystem, a.System)
	}

	return &OuterProof{
		System:                a.System,
		Version:               CircuitVersion,
		Proof:                 buf.Bytes(),
		VkeyHash:              vkHash,
		CommittedValuesDigest: wrapped.PublicValues.CommittedValueDigest,
	}, nil
}

// Verify checks an outer proof against the artifacts. The public witness
// is rebuilt from the proof's claimed digests, never taken from the proof
// bytes.
func Verify(a *Artifacts, p *OuterProof) error {
	if p.System != a.System {
		return fmt.Errorf("%w: proof %s, artifacts %s", ErrSystemMismatch, p.System, a.System)
	}
	if p.Version != CircuitVersion {
		return fmt.Errorf("%w: proof %s, circuit %s", ErrCircuitMismatch, p.Version, CircuitVersion)
	}
	public, err := frontend.NewWitness(
		PublicAssignment(p.VkeyHash, p.CommittedValuesDigest),
		ecc.BN254.ScalarField(),
		frontend.PublicOnly(),
	)
	if err != nil {
		return fmt.Errorf("wrap: public witness: %w", err)
	}

	switch p.System {
	case Groth16System:
		proof := groth16.NewProof(ecc.BN254)
		if _, err := proof.ReadFrom(bytes.NewReader(p.Proof)); err != nil {
			return fmt.Errorf("wrap: decode proof: %w", err)
		}
		if err := groth16.Verify(proof, a.Groth16Vk, public); err != nil {
			return fmt.Errorf("%w: %v", ErrProofRejected, err)
		}
	case PlonkSystem:
		proof := plonk.NewProof(ecc.BN254)
		if _, err := proof.ReadFrom(bytes.NewReader(p.Proof)); err != nil {
			return fmt.Errorf("wrap: decode proof: %w", err)
		}
		if err := plonk.Verify(proof, a.PlonkVk, public); err != nil {
			return fmt.Errorf("%w: %v", ErrProofRejected, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProofSystem, p.System)
	}
	return nil
}
