package stark

import (
	"errors"
	"testing"

	"github.com/zirconvm/zircon/types"
)

// chainOf builds a contiguous shard proof chain of the given length, as
// public values only.
func chainOf(t *testing.T, n int) []ShardProof {
	t.Helper()
	committed := types.BytesToDigest([]byte("committed"))
	proofs := make([]ShardProof, n)
	pc := uint64(0x1000)
	mem := types.BytesToDigest([]byte("mem0"))
	cycles := uint64(0)
	for i := range proofs {
		nextPC := pc + 64
		if i == n-1 {
			nextPC = 0
		}
		nextMem := types.BytesToDigest([]byte{byte(i + 1)})
		cycles += 100
		proofs[i].PublicValues = PublicValues{
			StartPC:              pc,
			EndPC:                nextPC,
			StartMemoryDigest:    mem,
			EndMemoryDigest:      nextMem,
			StartShard:           uint64(i),
			EndShard:             uint64(i + 1),
			CycleCount:           cycles,
			IsComplete:           i == n-1,
			CommittedValueDigest: committed,
		}
		pc, mem = nextPC, nextMem
	}
	return proofs
}

func TestVerifyShardChain_Valid(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		if err := VerifyShardChain(chainOf(t, n)); err != nil {
			t.Errorf("n=%d: %v", n, err)
		}
	}
}

func TestVerifyShardChain_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]ShardProof)
		want   error
	}{
		{
			name:   "pc discontinuity",
			mutate: func(p []ShardProof) { p[1].PublicValues.StartPC++ },
			want:   ErrChainDiscontinuity,
		},
		{
			name:   "memory discontinuity",
			mutate: func(p []ShardProof) { p[0].PublicValues.EndMemoryDigest[0] ^= 1 },
			want:   ErrChainDiscontinuity,
		},
		{
			name:   "shard index gap",
			mutate: func(p []ShardProof) { p[2].PublicValues.StartShard = 9 },
			want:   ErrChainDiscontinuity,
		},
		{
			name:   "committed digest differs",
			mutate: func(p []ShardProof) { p[1].PublicValues.CommittedValueDigest[0] ^= 1 },
			want:   ErrChainDiscontinuity,
		},
		{
			name:   "cycle regress",
			mutate: func(p []ShardProof) { p[1].PublicValues.CycleCount = 10 },
			want:   ErrChainCycleRegress,
		},
		{
			name:   "early complete",
			mutate: func(p []ShardProof) { p[0].PublicValues.IsComplete = true },
			want:   ErrChainEarlyComplete,
		},
		{
			name:   "missing completion",
			mutate: func(p []ShardProof) { p[len(p)-1].PublicValues.IsComplete = false },
			want:   ErrChainIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proofs := chainOf(t, 3)
			tt.mutate(proofs)
			if err := VerifyShardChain(proofs); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyShardChain_Empty(t *testing.T) {
	if err := VerifyShardChain(nil); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("got %v, want %v", err, ErrEmptyChain)
	}
}

func TestPublicValues_DigestBindsEveryField(t *testing.T) {
	base := chainOf(t, 1)[0].PublicValues
	baseDigest := base.Digest()

	mutations := []func(*PublicValues){
		func(pv *PublicValues) { pv.StartPC++ },
		func(pv *PublicValues) { pv.EndPC++ },
		func(pv *PublicValues) { pv.StartMemoryDigest[0] ^= 1 },
		func(pv *PublicValues) { pv.EndMemoryDigest[0] ^= 1 },
		func(pv *PublicValues) { pv.StartShard++ },
		func(pv *PublicValues) { pv.EndShard++ },
		func(pv *PublicValues) { pv.CycleCount++ },
		func(pv *PublicValues) { pv.IsComplete = !pv.IsComplete },
		func(pv *PublicValues) { pv.CommittedValueDigest[5] ^= 1 },
		func(pv *PublicValues) { pv.DeferredProofsDigest[5] ^= 1 },
		func(pv *PublicValues) { pv.AbsorbedDeferredDigest[5] ^= 1 },
		func(pv *PublicValues) { pv.VkRoot[5] ^= 1 },
	}
	for i, mutate := range mutations {
		pv := base
		mutate(&pv)
		if pv.Digest() == baseDigest {
			t.Errorf("mutation %d did not change the digest", i)
		}
	}
}

func TestChainPublicValues(t *testing.T) {
	proofs := chainOf(t, 3)
	first := &proofs[0].PublicValues
	last := &proofs[len(proofs)-1].PublicValues

	got := ChainPublicValues(first, last)
	want := PublicValues{
		StartPC:              first.StartPC,
		EndPC:                last.EndPC,
		StartMemoryDigest:    first.StartMemoryDigest,
		EndMemoryDigest:      last.EndMemoryDigest,
		StartShard:           0,
		EndShard:             last.EndShard,
		CycleCount:           last.CycleCount,
		IsComplete:           true,
		CommittedValueDigest: last.CommittedValueDigest,
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	single := &proofs[0].PublicValues
	if view := ChainPublicValues(single, single); view != *single {
		t.Errorf("single-proof view %+v, want %+v", view, *single)
	}
}

func TestFoldDeferredDigest_OrderMatters(t *testing.T) {
	a := types.BytesToDigest([]byte("a"))
	b := types.BytesToDigest([]byte("b"))
	c := types.BytesToDigest([]byte("c"))

	ab := FoldDeferredDigest(FoldDeferredDigest(types.Digest{}, a, c), b, c)
	ba := FoldDeferredDigest(FoldDeferredDigest(types.Digest{}, b, c), a, c)
	if ab == ba {
		t.Error("fold is order independent")
	}
}
