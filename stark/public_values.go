// Package stark models the STARK proving machines consumed by the zircon
// composition pipeline. The polynomial-commitment and FRI machinery are
// external collaborators: a machine here is an opaque prover/verifier whose
// proofs are deterministic commitments that the matching machine can
// recompute and check, and that any byte-level tampering breaks.
package stark

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/zirconvm/zircon/types"
)

// Shard chain errors.
var (
	ErrEmptyChain         = errors.New("stark: empty shard chain")
	ErrChainDiscontinuity = errors.New("stark: shard public values do not chain")
	ErrChainCycleRegress  = errors.New("stark: cumulative cycle count regressed")
	ErrChainIncomplete    = errors.New("stark: final shard is not complete")
	ErrChainEarlyComplete = errors.New("stark: non-final shard marked complete")
)

// PublicValues are the public inputs carried by every shard and recursion
// proof. Shards of one execution form an ordered chain: the end state of
// shard i must equal the start state of shard i+1.
type PublicValues struct {
	// StartPC and EndPC are the program counter at shard entry and exit.
	StartPC uint64
	EndPC   uint64

	// StartMemoryDigest and EndMemoryDigest commit to the memory
	// consistency state at the shard boundaries.
	StartMemoryDigest types.Digest
	EndMemoryDigest   types.Digest

	// StartShard and EndShard delimit the shard index range this proof
	// covers. A core shard covers exactly one index; an aggregated proof
	// covers the union of its children.
	StartShard uint64
	EndShard   uint64

	// CycleCount is the cumulative cycle count at shard exit.
	CycleCount uint64

	// IsComplete is set on the proof that witnesses the end of execution.
	IsComplete bool

	// CommittedValueDigest is the 32-byte digest of the guest's declared
	// outputs, propagated unchanged through aggregation.
	CommittedValueDigest types.Digest

	// DeferredProofsDigest is the running digest over deferred proofs the
	// guest asserted during execution.
	DeferredProofsDigest types.Digest

	// AbsorbedDeferredDigest is the digest over deferred proofs actually
	// verified and absorbed by the aggregation tree under this proof. Zero
	// for core proofs; at the root it must equal DeferredProofsDigest,
	// which makes the guest's execution-time assertions cryptographically
	// binding at composition time.
	AbsorbedDeferredDigest types.Digest

	// VkRoot is the Merkle root of the authorized verifying key set. Zero
	// for core proofs; set by the with-vkey aggregation layer.
	VkRoot types.Digest
}

// Encode returns the canonical binary encoding of the public values.
func (pv *PublicValues) Encode() []byte {
	buf := make([]byte, 0, 5*8+6*types.DigestLength+1)
	var u [8]byte
	for _, v := range []uint64{pv.StartPC, pv.EndPC, pv.StartShard, pv.EndShard, pv.CycleCount} {
		binary.LittleEndian.PutUint64(u[:], v)
		buf = append(buf, u[:]...)
	}
	if pv.IsComplete {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, pv.StartMemoryDigest[:]...)
	buf = append(buf, pv.EndMemoryDigest[:]...)
	buf = append(buf, pv.CommittedValueDigest[:]...)
	buf = append(buf, pv.DeferredProofsDigest[:]...)
	buf = append(buf, pv.AbsorbedDeferredDigest[:]...)
	buf = append(buf, pv.VkRoot[:]...)
	return buf
}

// Digest returns the Keccak256 commitment to the public values.
func (pv *PublicValues) Digest() types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/public-values"))
	h.Write(pv.Encode())
	return types.BytesToDigest(h.Sum(nil))
}

// FoldDeferredDigest folds one deferred proof's (vkey hash, committed value
// digest) pair into the running deferred digest. The executor applies it in
// syscall order; the aggregation tree replays the same fold over the
// deferred proofs it actually verified.
func FoldDeferredDigest(acc, vkHash, committed types.Digest) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/deferred"))
	h.Write(acc[:])
	h.Write(vkHash[:])
	h.Write(committed[:])
	return types.BytesToDigest(h.Sum(nil))
}

// ChainPublicValues joins the start state of the first proof in a chain
// with the end state of the last into the whole-execution view. The
// aggregation fold produces the same shape, so a chain and its folded
// proof report identical values for one execution. Callers validate the
// chain first.
func ChainPublicValues(first, last *PublicValues) PublicValues {
	return PublicValues{
		StartPC:              first.StartPC,
		EndPC:                last.EndPC,
		StartMemoryDigest:    first.StartMemoryDigest,
		EndMemoryDigest:      last.EndMemoryDigest,
		StartShard:           first.StartShard,
		EndShard:             last.EndShard,
		CycleCount:           last.CycleCount,
		IsComplete:           last.IsComplete,
		CommittedValueDigest: last.CommittedValueDigest,
		DeferredProofsDigest: last.DeferredProofsDigest,
	}
}

// ChainsTo reports whether next is a valid successor of pv: the end state
// of pv must equal the start state of next.
func (pv *PublicValues) ChainsTo(next *PublicValues) bool {
	return pv.EndPC == next.StartPC &&
		pv.EndMemoryDigest == next.StartMemoryDigest &&
		pv.EndShard == next.StartShard &&
		pv.CommittedValueDigest == next.CommittedValueDigest &&
		pv.DeferredProofsDigest == next.DeferredProofsDigest
}

// VerifyShardChain checks the public-value chain across an ordered slice of
// shard proofs: adjacency, monotone cycle counts, and completion exactly at
// the last shard.
func VerifyShardChain(proofs []ShardProof) error {
	if len(proofs) == 0 {
		return ErrEmptyChain
	}
	for i := 0; i < len(proofs)-1; i++ {
		cur, next := &proofs[i].PublicValues, &proofs[i+1].PublicValues
		if !cur.ChainsTo(next) {
			return fmt.Errorf("%w: shard %d -> %d", ErrChainDiscontinuity, i, i+1)
		}
		if next.CycleCount < cur.CycleCount {
			return fmt.Errorf("%w: shard %d", ErrChainCycleRegress, i+1)
		}
		if cur.IsComplete {
			return fmt.Errorf("%w: shard %d", ErrChainEarlyComplete, i)
		}
	}
	if !proofs[len(proofs)-1].PublicValues.IsComplete {
		return ErrChainIncomplete
	}
	return nil
}
