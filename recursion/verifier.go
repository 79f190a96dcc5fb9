// verifier.go implements the three-layer aggregation verifier. One
// algorithm serves all layers, parameterized by a strictness policy: the
// base layer verifies and folds a batch, the with-vkey layer additionally
// requires every real verifying key to be a proven registry member, and the
// root layer additionally requires the folded chain to be complete.
package recursion

import (
	"errors"
	"fmt"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Aggregation errors.
var (
	ErrWitnessEmpty       = errors.New("recursion: witness has no entries")
	ErrWitnessArity       = errors.New("recursion: witness entry and merkle data counts differ")
	ErrRaggedPaths        = errors.New("recursion: merkle paths have unequal heights")
	ErrInnerProofInvalid  = errors.New("recursion: inner proof rejected")
	ErrFoldDiscontinuity  = errors.New("recursion: public value chain broken inside batch")
	ErrDummyNotZero       = errors.New("recursion: padding entry carries nonzero public values")
	ErrRootIncomplete     = errors.New("recursion: root verification requires a complete chain")
	ErrDeferredOutOfOrder = errors.New("recursion: deferred absorption continued from a nonzero accumulator")
	ErrDeferredUnabsorbed = errors.New("recursion: absorbed deferred digest does not match the asserted digest")
	ErrUnknownMachineKind = errors.New("recursion: no machine for proof kind")
)

// Strictness selects the verification policy layer.
type Strictness int

const (
	// StrictnessBase verifies the batch and folds public values.
	StrictnessBase Strictness = iota
	// StrictnessWithVkey additionally verifies registry membership of
	// every real verifying key.
	StrictnessWithVkey
	// StrictnessRoot additionally asserts the folded chain is complete.
	StrictnessRoot
)

// String returns the policy name.
func (s Strictness) String() string {
	switch s {
	case StrictnessBase:
		return "compress"
	case StrictnessWithVkey:
		return "compress-with-vkey"
	case StrictnessRoot:
		return "root"
	default:
		return "unknown"
	}
}

// Aggregator verifies aggregation witnesses. It holds one machine per
// proof kind it may encounter inside a batch.
type Aggregator struct {
	machines map[stark.MachineKind]*stark.Machine
}

// NewAggregator creates an aggregator able to verify core, compress, and
// shrink proofs.
func NewAggregator() *Aggregator {
	machines := make(map[stark.MachineKind]*stark.Machine)
	for _, kind := range []stark.MachineKind{stark.CoreKind, stark.CompressKind, stark.ShrinkKind} {
		machines[kind] = stark.NewMachine(kind)
	}
	return &Aggregator{machines: machines}
}

// VerifyCompress runs the base policy: cryptographically verify every entry
// and fold the real entries' public value chains into one. vkRoot is
// propagated into the folded output unchanged.
func (a *Aggregator) VerifyCompress(w *CompressWitness, vkRoot types.Digest) (*stark.PublicValues, error) {
	return a.verify(&CompressWithVkeyWitness{Compress: *w, Root: vkRoot}, StrictnessBase)
}

// VerifyCompressWithVkey runs the with-vkey policy: the base policy plus
// Merkle membership of every real verifying key under the witness root.
func (a *Aggregator) VerifyCompressWithVkey(w *CompressWithVkeyWitness) (*stark.PublicValues, error) {
	return a.verify(w, StrictnessWithVkey)
}

// VerifyRoot runs the terminal policy: with-vkey verification plus the
// assertion that the folded chain is complete. Its success means "a
// complete, validated execution, transitively grounded in authorized keys
// only".
func (a *Aggregator) VerifyRoot(w *CompressWithVkeyWitness) (*stark.PublicValues, error) {
	return a.verify(w, StrictnessRoot)
}

// verify is the shared algorithm.
func (a *Aggregator) verify(w *CompressWithVkeyWitness, policy Strictness) (*stark.PublicValues, error) {
	entries := w.Compress.Entries
	if len(entries) == 0 {
		return nil, ErrWitnessEmpty
	}

	// Verify every inner proof, padding included: padding entries carry
	// structurally valid proofs and are processed identically here.
	for i := range entries {
		e := &entries[i]
		machine, ok := a.machines[e.Proof.Machine]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMachineKind, e.Proof.Machine)
		}
		if err := machine.Verify(&e.Vk, &e.Proof); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInnerProofInvalid, i, err)
		}
		// Padding entries must be inert: all-zero public values, so they
		// cannot smuggle state into the fold even if mishandled.
		if !e.IsReal && e.Proof.PublicValues != (stark.PublicValues{}) {
			return nil, fmt.Errorf("%w: entry %d", ErrDummyNotZero, i)
		}
	}

	if policy >= StrictnessWithVkey {
		if err := a.verifyMembership(w); err != nil {
			return nil, err
		}
	}

	folded, err := foldPublicValues(entries)
	if err != nil {
		return nil, err
	}
	folded.VkRoot = w.Root

	if policy >= StrictnessRoot {
		if !folded.IsComplete {
			return nil, ErrRootIncomplete
		}
		// Every deferred proof the guest asserted must have been verified
		// and absorbed somewhere in the tree, in syscall order.
		if folded.AbsorbedDeferredDigest != folded.DeferredProofsDigest {
			return nil, ErrDeferredUnabsorbed
		}
	}
	return folded, nil
}

// verifyMembership checks the Merkle data: real entries assert membership
// under the witness root, padding entries run the same path computation
// with the assertions degenerated to tautologies.
func (a *Aggregator) verifyMembership(w *CompressWithVkeyWitness) error {
	entries := w.Compress.Entries
	if len(w.MerkleProofs) != len(entries) || len(w.Values) != len(entries) {
		return ErrWitnessArity
	}
	height := len(w.MerkleProofs[0].Siblings)
	for i := range w.MerkleProofs {
		if len(w.MerkleProofs[i].Siblings) != height {
			return ErrRaggedPaths
		}
	}

	var (
		realDigests, realValues   []types.Digest
		realProofs                []MerkleProof
		dummyDigests, dummyValues []types.Digest
		dummyProofs               []MerkleProof
	)
	for i := range entries {
		digest := entries[i].Vk.Hash()
		if entries[i].IsReal {
			realDigests = append(realDigests, digest)
			realValues = append(realValues, w.Values[i])
			realProofs = append(realProofs, w.MerkleProofs[i])
		} else {
			dummyDigests = append(dummyDigests, digest)
			dummyValues = append(dummyValues, w.Values[i])
			dummyProofs = append(dummyProofs, w.MerkleProofs[i])
		}
	}
	if err := VerifyMembership(w.Root, realDigests, realValues, realProofs, true); err != nil {
		return err
	}
	return VerifyMembership(w.Root, dummyDigests, dummyValues, dummyProofs, false)
}

// foldPublicValues folds the real entries into one public value set.
// Chain entries must form a contiguous shard chain; deferred entries are
// absorbed into the deferred digest accumulator instead of the chain; and
// padding entries are excluded from both.
//
// The accumulator replays the executor's fold: it starts at zero, each
// deferred entry folds in its (vkey hash, committed digest) pair, and a
// chain entry carrying a nonzero absorbed digest hands its accumulator on.
// Only the leading position may inherit one, which pins all deferred
// absorption to the leftmost spine of the aggregation tree and keeps the
// fold order equal to syscall order.
func foldPublicValues(entries []WitnessEntry) (*stark.PublicValues, error) {
	var (
		chain    []*stark.PublicValues
		absorbed types.Digest
	)
	for i := range entries {
		e := &entries[i]
		if !e.IsReal {
			continue
		}
		pv := &e.Proof.PublicValues
		if e.Deferred {
			absorbed = stark.FoldDeferredDigest(absorbed, e.Vk.Hash(), pv.CommittedValueDigest)
			continue
		}
		if pv.AbsorbedDeferredDigest != (types.Digest{}) {
			if absorbed != (types.Digest{}) {
				return nil, fmt.Errorf("%w: position %d", ErrDeferredOutOfOrder, i)
			}
			absorbed = pv.AbsorbedDeferredDigest
			// A node folded purely from deferred proofs has no shard
			// footprint. It carries its accumulator upward and takes no
			// part in the chain. Real shards always have cycles.
			if pv.CycleCount == 0 && !pv.IsComplete {
				continue
			}
		}
		chain = append(chain, pv)
	}
	if len(chain) == 0 {
		// An all-padding witness folds to the zero state: never complete,
		// never mistakable for a proven execution.
		return &stark.PublicValues{AbsorbedDeferredDigest: absorbed}, nil
	}

	for i := 0; i < len(chain)-1; i++ {
		if !chain[i].ChainsTo(chain[i+1]) {
			return nil, fmt.Errorf("%w: position %d -> %d", ErrFoldDiscontinuity, i, i+1)
		}
	}

	pv := stark.ChainPublicValues(chain[0], chain[len(chain)-1])
	pv.AbsorbedDeferredDigest = absorbed
	return &pv, nil
}
