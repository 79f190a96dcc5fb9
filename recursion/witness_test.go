package recursion

import (
	"testing"

	"github.com/zirconvm/zircon/stark"
)

func TestDummyWitness_ShapeInvariance(t *testing.T) {
	for _, numProofs := range []int{1, 2, 4, 7} {
		for _, height := range []int{0, 1, 3, 5} {
			shape := CompressWithVkeyShape{
				Compress:     CompressShape{NumProofs: numProofs},
				MerkleHeight: height,
			}
			w := DummyWitness(shape)
			if got := w.Shape(); got != shape {
				t.Errorf("DummyWitness(%+v).Shape() = %+v", shape, got)
			}
		}
	}
}

func TestDummyEntry_StructurallyValid(t *testing.T) {
	e := DummyEntry()
	if e.IsReal {
		t.Error("dummy entry marked real")
	}
	if e.Proof.PublicValues != (stark.PublicValues{}) {
		t.Error("dummy entry carries nonzero public values")
	}
	machine := stark.NewMachine(stark.CompressKind)
	if err := machine.Verify(&e.Vk, &e.Proof); err != nil {
		t.Errorf("dummy proof does not verify: %v", err)
	}
}

func TestCompressWithVkeyShape_IDDistinct(t *testing.T) {
	a := CompressWithVkeyShape{Compress: CompressShape{NumProofs: 2}, MerkleHeight: 4}
	b := CompressWithVkeyShape{Compress: CompressShape{NumProofs: 4}, MerkleHeight: 4}
	c := CompressWithVkeyShape{Compress: CompressShape{NumProofs: 2}, MerkleHeight: 5}
	if a.ID() == b.ID() || a.ID() == c.ID() || b.ID() == c.ID() {
		t.Error("shape IDs collide")
	}
	if a.ID() != (CompressWithVkeyShape{Compress: CompressShape{NumProofs: 2}, MerkleHeight: 4}).ID() {
		t.Error("shape ID not deterministic")
	}
}
