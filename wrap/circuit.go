// Package wrap re-expresses a wrapped pipeline proof inside a BN254
// SNARK so it can be verified cheaply on-chain. The outer circuit exposes
// two public inputs, the program vkey hash and the committed values digest,
// and binds them to the private proof data through a MiMC commitment.
package wrap

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	stdmimc "github.com/consensys/gnark/std/hash/mimc"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// CircuitVersion identifies the outer circuit layout. Artifacts built for
// one version never verify proofs of another.
const CircuitVersion = "v1.0.0"

// OuterCircuit is the outer verification circuit. VkeyHash and
// CommittedValuesDigest are the public inputs every on-chain verifier
// checks against; the remaining fields are the private witness carrying
// the wrapped proof's data.
type OuterCircuit struct {
	VkeyHash              frontend.Variable `gnark:",public"`
	CommittedValuesDigest frontend.Variable `gnark:",public"`

	// PublicValuesDigest is the field reduction of the wrapped proof's
	// public value commitment.
	PublicValuesDigest frontend.Variable

	// ProofCommitment is the MiMC binding over the public inputs and the
	// public values digest. The prover derives it from the wrapped proof;
	// the circuit recomputes it.
	ProofCommitment frontend.Variable
}

// Define declares the circuit constraints.
func (c *OuterCircuit) Define(api frontend.API) error {
	h, err := stdmimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.VkeyHash, c.CommittedValuesDigest, c.PublicValuesDigest)
	api.AssertIsEqual(h.Sum(), c.ProofCommitment)
	return nil
}

// OuterAssignment builds the full witness assignment for a wrapped proof
// under the given program verifying key.
func OuterAssignment(vkHash types.Digest, proof *stark.ShardProof) *OuterCircuit {
	pv := &proof.PublicValues
	vkey := toField(vkHash)
	committed := toField(pv.CommittedValueDigest)
	pvDigest := toField(pv.Digest())

	h := mimc.NewMiMC()
	h.Write(fieldBytes(vkey))
	h.Write(fieldBytes(committed))
	h.Write(fieldBytes(pvDigest))
	commitment := new(big.Int).SetBytes(h.Sum(nil))

	return &OuterCircuit{
		VkeyHash:              vkey,
		CommittedValuesDigest: committed,
		PublicValuesDigest:    pvDigest,
		ProofCommitment:       commitment,
	}
}

// PublicAssignment builds the public-input-only assignment a verifier
// checks a proof against.
func PublicAssignment(vkHash, committedValuesDigest types.Digest) *OuterCircuit {
	return &OuterCircuit{
		VkeyHash:              toField(vkHash),
		CommittedValuesDigest: toField(committedValuesDigest),
	}
}

// toField reduces a digest into a BN254 scalar.
func toField(d types.Digest) *big.Int {
	v := new(big.Int).SetBytes(d[:])
	return v.Mod(v, fr.Modulus())
}

// fieldBytes returns the canonical fr encoding of a scalar.
func fieldBytes(v *big.Int) []byte {
	out := make([]byte, fr.Bytes)
	v.FillBytes(out)
	return out
}
