// machine.go implements the opaque proving machines. Proof bytes are derived
// by an expansion of SHA-256 over the trace commitment, the public value
// digest, and the verifying key, domain-separated per machine kind. The
// verifier recomputes the expansion and compares, so a proof is bound to its
// machine, key, and public values, and any single-byte change is rejected.
package stark

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/zirconvm/zircon/types"
)

// Machine errors.
var (
	ErrNilVerifyingKey   = errors.New("stark: nil verifying key")
	ErrNilProof          = errors.New("stark: nil proof")
	ErrMachineMismatch   = errors.New("stark: proof was produced by a different machine")
	ErrBadProofLength    = errors.New("stark: invalid proof length")
	ErrInvalidProof      = errors.New("stark: proof verification failed")
	ErrWrongVerifyingKey = errors.New("stark: proof is not bound to this verifying key")
)

// MachineKind identifies a proving machine in the pipeline.
type MachineKind uint8

const (
	// CoreKind proves individual execution shards.
	CoreKind MachineKind = iota
	// CompressKind proves the recursive aggregation circuit family.
	CompressKind
	// ShrinkKind proves the fixed-shape final compression step.
	ShrinkKind
	// WrapKind proves the outer-curve re-expression of a shrunk proof.
	WrapKind
)

// String returns the name of the machine kind.
func (k MachineKind) String() string {
	switch k {
	case CoreKind:
		return "core"
	case CompressKind:
		return "compress"
	case ShrinkKind:
		return "shrink"
	case WrapKind:
		return "wrap"
	default:
		return "unknown"
	}
}

// openingProofSize is the byte length of the opening proof expansion:
// six SHA-256 blocks standing in for the FRI query openings.
const openingProofSize = 6 * 32

// ShardProof is a proof over one bounded segment, produced by a Machine and
// carrying its public values. Recursion proofs reuse the same envelope with
// a shard range covering all aggregated children.
type ShardProof struct {
	// Machine is the kind of machine that produced this proof.
	Machine MachineKind

	// VkHash binds the proof to the verifying key it was produced under.
	VkHash types.Digest

	// TraceCommitment is the commitment to the execution (or recursion)
	// trace underlying this proof.
	TraceCommitment types.Digest

	// Proof is the opaque opening proof.
	Proof []byte

	// PublicValues are the public inputs of this proof.
	PublicValues PublicValues
}

// Machine is an opaque STARK prover/verifier of one kind.
type Machine struct {
	kind MachineKind
}

// NewMachine returns the machine of the given kind.
func NewMachine(kind MachineKind) *Machine {
	return &Machine{kind: kind}
}

// Kind returns the machine kind.
func (m *Machine) Kind() MachineKind { return m.kind }

// Prove produces a proof of the given public values under vk. The traceSeed
// identifies the trace being committed; the same seed, key, and public
// values always yield the same proof.
func (m *Machine) Prove(vk *VerifyingKey, pv *PublicValues, traceSeed types.Digest) (*ShardProof, error) {
	if vk == nil {
		return nil, ErrNilVerifyingKey
	}
	vkHash := vk.Hash()
	commitment := m.commitTrace(vkHash, traceSeed)
	return &ShardProof{
		Machine:         m.kind,
		VkHash:          vkHash,
		TraceCommitment: commitment,
		Proof:           m.expandOpening(vkHash, commitment, pv.Digest()),
		PublicValues:    *pv,
	}, nil
}

// Verify checks a proof against a verifying key. It recomputes the opening
// expansion from the proof's commitments and compares byte-for-byte.
func (m *Machine) Verify(vk *VerifyingKey, proof *ShardProof) error {
	if vk == nil {
		return ErrNilVerifyingKey
	}
	if proof == nil {
		return ErrNilProof
	}
	if proof.Machine != m.kind {
		return fmt.Errorf("%w: got %s, want %s", ErrMachineMismatch, proof.Machine, m.kind)
	}
	if len(proof.Proof) != openingProofSize {
		return ErrBadProofLength
	}
	vkHash := vk.Hash()
	if proof.VkHash != vkHash {
		return ErrWrongVerifyingKey
	}
	expected := m.expandOpening(vkHash, proof.TraceCommitment, proof.PublicValues.Digest())
	if !bytes.Equal(proof.Proof, expected) {
		return ErrInvalidProof
	}
	return nil
}

// commitTrace derives the trace commitment for a seed under a key.
func (m *Machine) commitTrace(vkHash, seed types.Digest) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/trace/"))
	h.Write([]byte(m.kind.String()))
	h.Write(vkHash[:])
	h.Write(seed[:])
	return types.BytesToDigest(h.Sum(nil))
}

// expandOpening derives the opening proof bytes.
func (m *Machine) expandOpening(vkHash, commitment, pvDigest types.Digest) []byte {
	out := make([]byte, 0, openingProofSize)
	for i := 0; i < openingProofSize/32; i++ {
		h := sha256.New()
		h.Write([]byte("zircon/opening/"))
		h.Write([]byte(m.kind.String()))
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		h.Write(vkHash[:])
		h.Write(commitment[:])
		h.Write(pvDigest[:])
		out = h.Sum(out)
	}
	return out
}

// MachineVerifyingKey derives the verifying key of a recursion program: the
// program a machine of the given kind runs for circuits of the given shape.
// Recursion proofs verify against these keys, and the with-vkey aggregation
// layer requires them to be members of the Merkle registry.
func MachineVerifyingKey(kind MachineKind, shapeID types.Digest) *VerifyingKey {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/machine-program/"))
	h.Write([]byte(kind.String()))
	h.Write(shapeID[:])
	return &VerifyingKey{ProgramHash: types.BytesToDigest(h.Sum(nil))}
}
