// witness.go defines the aggregation step inputs. A witness is constructed
// for one aggregation call, consumed once, and never mutated. Two witnesses
// with equal shape present identical trace dimensions to the recursion
// machine; the dummy constructors exist to preserve that invariant when a
// batch has fewer real proofs than the compiled batch width.
package recursion

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// WitnessEntry is one (verifying key, proof) pair in a compress witness,
// tagged as real or padding.
type WitnessEntry struct {
	// Vk is the verifying key the proof verifies under.
	Vk stark.VerifyingKey

	// Proof is the shard or recursion proof to verify.
	Proof stark.ShardProof

	// IsReal distinguishes real entries from padding placeholders. Padding
	// entries are excluded from every public-value fold and from the
	// completeness computation.
	IsReal bool

	// Deferred marks an entry carrying a deferred proof of a foreign
	// program. Deferred entries do not participate in the shard state
	// chain; they are absorbed into the deferred digest accumulator
	// instead.
	Deferred bool
}

// CompressWitness is the input to one base aggregation step: an ordered
// batch of entries drawn from shard proofs and previously aggregated
// proofs.
type CompressWitness struct {
	Entries []WitnessEntry
}

// CompressShape is the dimensional signature of a base compress witness.
type CompressShape struct {
	// NumProofs is the batch width.
	NumProofs int
}

// Shape returns the witness shape.
func (w *CompressWitness) Shape() CompressShape {
	return CompressShape{NumProofs: len(w.Entries)}
}

// CompressWithVkeyWitness extends a compress witness with the Merkle
// membership data binding every entry's verifying key to a committed
// registry root.
type CompressWithVkeyWitness struct {
	// Compress is the underlying batch.
	Compress CompressWitness

	// MerkleProofs holds one membership proof per entry.
	MerkleProofs []MerkleProof

	// Values are the hinted leaf values, one per entry. For real entries
	// they equal the entry's vkey hash; for padding they are zero.
	Values []types.Digest

	// Root is the claimed registry root.
	Root types.Digest
}

// CompressWithVkeyShape fully determines the trace dimensions of a
// with-vkey witness: the batch width plus the Merkle tree height.
type CompressWithVkeyShape struct {
	Compress     CompressShape
	MerkleHeight int
}

// Shape returns the witness shape. The Merkle height is taken from the
// first proof's path; shape-uniformity of the remaining paths is enforced
// by the verifier.
func (w *CompressWithVkeyWitness) Shape() CompressWithVkeyShape {
	height := 0
	if len(w.MerkleProofs) > 0 {
		height = len(w.MerkleProofs[0].Siblings)
	}
	return CompressWithVkeyShape{Compress: w.Compress.Shape(), MerkleHeight: height}
}

// ID returns a digest identifying the shape, used to derive the recursion
// machine's per-shape verifying key.
func (s CompressWithVkeyShape) ID() types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/compress-shape"))
	h.Write(u64le(uint64(s.Compress.NumProofs)))
	h.Write(u64le(uint64(s.MerkleHeight)))
	return types.BytesToDigest(h.Sum(nil))
}

// DummyEntry synthesizes one padding entry: a zero verifying key and a
// structurally valid proof of all-zero public values. It type-checks as an
// aggregator input but asserts nothing about real data.
func DummyEntry() WitnessEntry {
	vk := stark.VerifyingKey{}
	pv := stark.PublicValues{}
	proof, _ := stark.NewMachine(stark.CompressKind).Prove(&vk, &pv, types.Digest{})
	return WitnessEntry{Vk: vk, Proof: *proof, IsReal: false}
}

// DummyCompressWitness synthesizes a base witness of the given width made
// entirely of padding entries.
func DummyCompressWitness(numProofs int) CompressWitness {
	entries := make([]WitnessEntry, numProofs)
	for i := range entries {
		entries[i] = DummyEntry()
	}
	return CompressWitness{Entries: entries}
}

// DummyWitness synthesizes a with-vkey witness of the given shape: padding
// entries, all-zero digests, index-0 membership proofs with height-long
// zero sibling paths, and a zero root.
//
// For every shape s, DummyWitness(s).Shape() == s.
func DummyWitness(shape CompressWithVkeyShape) *CompressWithVkeyWitness {
	n := shape.Compress.NumProofs
	proofs := make([]MerkleProof, n)
	values := make([]types.Digest, n)
	for i := range proofs {
		proofs[i] = MerkleProof{Index: 0, Siblings: make([]types.Digest, shape.MerkleHeight)}
	}
	return &CompressWithVkeyWitness{
		Compress:     DummyCompressWitness(n),
		MerkleProofs: proofs,
		Values:       values,
		Root:         types.Digest{},
	}
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
