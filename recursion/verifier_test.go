package recursion

import (
	"errors"
	"testing"

	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// coreEntries executes a small guest and proves its shards, returning the
// program key and one witness entry per shard.
func coreEntries(t *testing.T, stdin *runtime.Stdin) (stark.VerifyingKey, []WitnessEntry) {
	t.Helper()
	code := make([]byte, 48)
	for i := range code {
		code[i] = byte(i * 3)
	}
	pk, vk := stark.Setup(code, 0x1000)
	if stdin == nil {
		stdin = runtime.NewStdin()
		stdin.Write([]byte("aggregation input"))
	}
	program := runtime.NewProgram(pk.Program, vk.StartPC)
	records, _, _, err := runtime.NewExecutor(program, stdin, runtime.DefaultExecutionContext(), 128).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	machine := stark.NewMachine(stark.CoreKind)
	entries := make([]WitnessEntry, len(records))
	for i, rec := range records {
		proof, err := machine.Prove(vk, &rec.PublicValues, rec.TraceSeed)
		if err != nil {
			t.Fatalf("Prove shard %d: %v", i, err)
		}
		entries[i] = WitnessEntry{Vk: *vk, Proof: *proof, IsReal: true}
	}
	return *vk, entries
}

func TestAggregator_VerifyCompressFolds(t *testing.T) {
	_, entries := coreEntries(t, nil)
	if len(entries) < 2 {
		t.Fatalf("want multiple shards, got %d", len(entries))
	}
	padded := append(append([]WitnessEntry{}, entries...), DummyEntry(), DummyEntry())
	w := &CompressWitness{Entries: padded}

	root := types.BytesToDigest([]byte("root"))
	folded, err := NewAggregator().VerifyCompress(w, root)
	if err != nil {
		t.Fatalf("VerifyCompress: %v", err)
	}

	first := entries[0].Proof.PublicValues
	last := entries[len(entries)-1].Proof.PublicValues
	if folded.StartPC != first.StartPC || folded.EndPC != last.EndPC {
		t.Error("folded pc range wrong")
	}
	if folded.StartShard != first.StartShard || folded.EndShard != last.EndShard {
		t.Error("folded shard range wrong")
	}
	if folded.CycleCount != last.CycleCount {
		t.Error("folded cycle count wrong")
	}
	if !folded.IsComplete {
		t.Error("folded chain not complete")
	}
	if folded.VkRoot != root {
		t.Error("vk root not propagated")
	}
}

func TestAggregator_PaddingExcludedFromFold(t *testing.T) {
	_, entries := coreEntries(t, nil)
	// Interleave padding at the front and middle: the fold must be
	// unchanged because padding never joins the chain.
	mixed := []WitnessEntry{DummyEntry()}
	mixed = append(mixed, entries[:1]...)
	mixed = append(mixed, DummyEntry())
	mixed = append(mixed, entries[1:]...)

	agg := NewAggregator()
	plain, err := agg.VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
	if err != nil {
		t.Fatalf("VerifyCompress(plain): %v", err)
	}
	padded, err := agg.VerifyCompress(&CompressWitness{Entries: mixed}, types.Digest{})
	if err != nil {
		t.Fatalf("VerifyCompress(padded): %v", err)
	}
	if *plain != *padded {
		t.Errorf("padding changed the fold: %+v vs %+v", plain, padded)
	}
}

func TestAggregator_VerifyCompressErrors(t *testing.T) {
	agg := NewAggregator()

	t.Run("empty witness", func(t *testing.T) {
		_, err := agg.VerifyCompress(&CompressWitness{}, types.Digest{})
		if !errors.Is(err, ErrWitnessEmpty) {
			t.Errorf("got %v, want %v", err, ErrWitnessEmpty)
		}
	})

	t.Run("tampered inner proof", func(t *testing.T) {
		_, entries := coreEntries(t, nil)
		entries[0].Proof.Proof[0] ^= 1
		_, err := agg.VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
		if !errors.Is(err, ErrInnerProofInvalid) {
			t.Errorf("got %v, want %v", err, ErrInnerProofInvalid)
		}
	})

	t.Run("chain discontinuity", func(t *testing.T) {
		_, entries := coreEntries(t, nil)
		entries[0], entries[1] = entries[1], entries[0]
		_, err := agg.VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
		if !errors.Is(err, ErrFoldDiscontinuity) {
			t.Errorf("got %v, want %v", err, ErrFoldDiscontinuity)
		}
	})

	t.Run("padding with nonzero values", func(t *testing.T) {
		_, entries := coreEntries(t, nil)
		// A structurally valid proof of nonzero values masquerading as
		// padding must be rejected.
		vk := stark.VerifyingKey{}
		pv := stark.PublicValues{CycleCount: 1}
		proof, err := stark.NewMachine(stark.CompressKind).Prove(&vk, &pv, types.Digest{})
		if err != nil {
			t.Fatalf("Prove: %v", err)
		}
		entries = append(entries, WitnessEntry{Vk: vk, Proof: *proof, IsReal: false})
		_, err = agg.VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
		if !errors.Is(err, ErrDummyNotZero) {
			t.Errorf("got %v, want %v", err, ErrDummyNotZero)
		}
	})
}

// registryFor builds a registry holding the given key hashes padded to a
// fixed height.
func registryFor(t *testing.T, height int, hashes ...types.Digest) *VkeyRegistry {
	t.Helper()
	leaves := make([]types.Digest, 1<<height)
	copy(leaves, hashes)
	registry, err := NewVkeyRegistry(leaves)
	if err != nil {
		t.Fatalf("NewVkeyRegistry: %v", err)
	}
	return registry
}

func withVkeyWitness(t *testing.T, registry *VkeyRegistry, entries []WitnessEntry) *CompressWithVkeyWitness {
	t.Helper()
	proofs := make([]MerkleProof, len(entries))
	values := make([]types.Digest, len(entries))
	for i := range entries {
		if !entries[i].IsReal {
			proofs[i] = MerkleProof{Index: 0, Siblings: make([]types.Digest, registry.Height())}
			continue
		}
		hash := entries[i].Vk.Hash()
		mp, err := registry.ProveMembership(hash)
		if err != nil {
			t.Fatalf("ProveMembership: %v", err)
		}
		proofs[i], values[i] = *mp, hash
	}
	return &CompressWithVkeyWitness{
		Compress:     CompressWitness{Entries: entries},
		MerkleProofs: proofs,
		Values:       values,
		Root:         registry.Root(),
	}
}

func TestAggregator_VerifyCompressWithVkey(t *testing.T) {
	vk, entries := coreEntries(t, nil)
	entries = append(entries, DummyEntry())
	registry := registryFor(t, 3, vk.Hash())
	w := withVkeyWitness(t, registry, entries)

	folded, err := NewAggregator().VerifyCompressWithVkey(w)
	if err != nil {
		t.Fatalf("VerifyCompressWithVkey: %v", err)
	}
	if folded.VkRoot != registry.Root() {
		t.Error("folded vk root is not the registry root")
	}
}

func TestAggregator_VerifyCompressWithVkeyErrors(t *testing.T) {
	agg := NewAggregator()

	t.Run("unregistered key", func(t *testing.T) {
		vk, entries := coreEntries(t, nil)
		registry := registryFor(t, 3, vk.Hash())
		w := withVkeyWitness(t, registry, entries)
		// Swap the root out from under the proofs.
		w.Root = types.BytesToDigest([]byte("some other registry"))
		_, err := agg.VerifyCompressWithVkey(w)
		if !errors.Is(err, ErrPathRootMismatch) {
			t.Errorf("got %v, want %v", err, ErrPathRootMismatch)
		}
	})

	t.Run("arity mismatch", func(t *testing.T) {
		vk, entries := coreEntries(t, nil)
		registry := registryFor(t, 3, vk.Hash())
		w := withVkeyWitness(t, registry, entries)
		w.MerkleProofs = w.MerkleProofs[:len(w.MerkleProofs)-1]
		_, err := agg.VerifyCompressWithVkey(w)
		if !errors.Is(err, ErrWitnessArity) {
			t.Errorf("got %v, want %v", err, ErrWitnessArity)
		}
	})

	t.Run("ragged paths", func(t *testing.T) {
		vk, entries := coreEntries(t, nil)
		registry := registryFor(t, 3, vk.Hash())
		w := withVkeyWitness(t, registry, entries)
		w.MerkleProofs[1].Siblings = w.MerkleProofs[1].Siblings[:2]
		_, err := agg.VerifyCompressWithVkey(w)
		if !errors.Is(err, ErrRaggedPaths) {
			t.Errorf("got %v, want %v", err, ErrRaggedPaths)
		}
	})
}

func TestAggregator_VerifyRoot(t *testing.T) {
	vk, entries := coreEntries(t, nil)
	registry := registryFor(t, 3, vk.Hash())
	agg := NewAggregator()

	t.Run("complete chain accepted", func(t *testing.T) {
		w := withVkeyWitness(t, registry, entries)
		if _, err := agg.VerifyRoot(w); err != nil {
			t.Fatalf("VerifyRoot: %v", err)
		}
	})

	t.Run("incomplete chain rejected", func(t *testing.T) {
		partial := entries[:len(entries)-1]
		w := withVkeyWitness(t, registry, partial)
		if _, err := agg.VerifyRoot(w); !errors.Is(err, ErrRootIncomplete) {
			t.Errorf("got %v, want %v", err, ErrRootIncomplete)
		}
	})

	t.Run("all dummy rejected", func(t *testing.T) {
		shape := CompressWithVkeyShape{Compress: CompressShape{NumProofs: 3}, MerkleHeight: 3}
		w := DummyWitness(shape)
		if _, err := agg.VerifyRoot(w); !errors.Is(err, ErrRootIncomplete) {
			t.Errorf("got %v, want %v", err, ErrRootIncomplete)
		}
	})
}

func TestAggregator_DeferredAbsorption(t *testing.T) {
	agg := NewAggregator()

	// Build a deferred proof, hand it to the guest, and absorb it in the
	// same batch as the shards.
	subVk := stark.MachineVerifyingKey(stark.CompressKind, types.BytesToDigest([]byte("sub-shape")))
	subPV := stark.PublicValues{IsComplete: true, CycleCount: 500, CommittedValueDigest: types.BytesToDigest([]byte("sub-out"))}
	subProof, err := stark.NewMachine(stark.CompressKind).Prove(subVk, &subPV, types.Digest{})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	stdin := runtime.NewStdin()
	stdin.Write([]byte("aggregation input"))
	stdin.WriteProof(subProof, *subVk)
	_, entries := coreEntries(t, stdin)

	witness := append([]WitnessEntry{{Vk: *subVk, Proof: *subProof, IsReal: true, Deferred: true}}, entries...)
	folded, err := agg.VerifyCompress(&CompressWitness{Entries: witness}, types.Digest{})
	if err != nil {
		t.Fatalf("VerifyCompress: %v", err)
	}
	if folded.AbsorbedDeferredDigest.IsZero() {
		t.Fatal("nothing absorbed")
	}
	if folded.AbsorbedDeferredDigest != folded.DeferredProofsDigest {
		t.Error("absorbed digest does not match the digest the guest asserted")
	}

	// Without the deferred entry the asserted digest stays unabsorbed.
	folded, err = agg.VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
	if err != nil {
		t.Fatalf("VerifyCompress: %v", err)
	}
	if folded.AbsorbedDeferredDigest == folded.DeferredProofsDigest {
		t.Error("unabsorbed witness still matches")
	}
}

func TestFoldPublicValues_RejectsSplitAbsorption(t *testing.T) {
	vk := stark.MachineVerifyingKey(stark.CompressKind, types.BytesToDigest([]byte("shape")))
	machine := stark.NewMachine(stark.CompressKind)

	mk := func(absorbed byte, start, end uint64) WitnessEntry {
		pv := stark.PublicValues{
			StartPC:    start,
			EndPC:      end,
			StartShard: start / 64,
			EndShard:   end / 64,
			CycleCount: end,
		}
		pv.AbsorbedDeferredDigest[0] = absorbed
		proof, err := machine.Prove(vk, &pv, types.Digest{})
		if err != nil {
			t.Fatalf("Prove: %v", err)
		}
		return WitnessEntry{Vk: *vk, Proof: *proof, IsReal: true}
	}

	entries := []WitnessEntry{mk(1, 64, 128), mk(2, 128, 192)}
	_, err := NewAggregator().VerifyCompress(&CompressWitness{Entries: entries}, types.Digest{})
	if !errors.Is(err, ErrDeferredOutOfOrder) {
		t.Errorf("got %v, want %v", err, ErrDeferredOutOfOrder)
	}
}
