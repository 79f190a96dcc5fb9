package runtime

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

func testProgram(t *testing.T) (*Program, *Stdin) {
	t.Helper()
	code := make([]byte, 64)
	for i := range code {
		code[i] = byte(i)
	}
	stdin := NewStdin()
	stdin.Write([]byte("hello zircon guest"))
	return NewProgram(code, 0x1000), stdin
}

func runShards(t *testing.T, program *Program, stdin *Stdin, ctx ExecutionContext, shardSize uint64) []Record {
	t.Helper()
	records, _, _, err := NewExecutor(program, stdin, ctx, shardSize).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return records
}

func TestExecutor_ShardContinuity(t *testing.T) {
	program, stdin := testProgram(t)
	records := runShards(t, program, stdin, DefaultExecutionContext(), 128)
	if len(records) < 2 {
		t.Fatalf("want a multi-shard run, got %d shards", len(records))
	}

	proofs := make([]stark.ShardProof, len(records))
	for i, rec := range records {
		if rec.Index != uint64(i) {
			t.Errorf("record %d: index %d", i, rec.Index)
		}
		proofs[i].PublicValues = rec.PublicValues
	}
	if err := stark.VerifyShardChain(proofs); err != nil {
		t.Fatalf("VerifyShardChain: %v", err)
	}
	last := records[len(records)-1].PublicValues
	if last.EndPC != 0 {
		t.Errorf("final shard EndPC: got %#x, want 0", last.EndPC)
	}
	if !last.IsComplete {
		t.Error("final shard not complete")
	}
}

func TestExecutor_Deterministic(t *testing.T) {
	program, stdin := testProgram(t)
	a := runShards(t, program, stdin, DefaultExecutionContext(), 128)
	b := runShards(t, program, stdin, DefaultExecutionContext(), 128)
	if !reflect.DeepEqual(a, b) {
		t.Error("two runs produced different records")
	}
}

func TestExecutor_OutputEchoAndCommitment(t *testing.T) {
	program, stdin := testProgram(t)
	records, output, report, err := NewExecutor(program, stdin, DefaultExecutionContext(), 128).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(output) != string(stdin.Input) {
		t.Errorf("output: got %q, want %q", output, stdin.Input)
	}
	if report.Shards != len(records) {
		t.Errorf("report shards: got %d, want %d", report.Shards, len(records))
	}
	committed := records[0].PublicValues.CommittedValueDigest
	if committed.IsZero() {
		t.Error("committed value digest is zero")
	}
	for i, rec := range records {
		if rec.PublicValues.CommittedValueDigest != committed {
			t.Errorf("shard %d: committed digest differs", i)
		}
	}
}

func TestExecutor_CycleLimit(t *testing.T) {
	program, stdin := testProgram(t)
	ctx := DefaultExecutionContext()
	ctx.MaxCycles = 10

	records, output, report, err := NewExecutor(program, stdin, ctx, 128).Run()
	if !errors.Is(err, ErrExceededCycleLimit) {
		t.Fatalf("got %v, want %v", err, ErrExceededCycleLimit)
	}
	if records != nil || output != nil || report != nil {
		t.Error("partial results returned after cycle limit")
	}
}

func TestExecutor_InputErrors(t *testing.T) {
	program, stdin := testProgram(t)
	ctx := DefaultExecutionContext()

	if _, _, _, err := NewExecutor(nil, stdin, ctx, 128).Run(); !errors.Is(err, ErrNilProgram) {
		t.Errorf("nil program: got %v", err)
	}
	if _, _, _, err := NewExecutor(NewProgram(nil, 0), stdin, ctx, 128).Run(); !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("empty program: got %v", err)
	}
	if _, _, _, err := NewExecutor(program, stdin, ctx, 0).Run(); !errors.Is(err, ErrBadShardSize) {
		t.Errorf("zero shard size: got %v", err)
	}
}

// deferredProof builds a valid compress proof usable as a deferred proof.
func deferredProof(t *testing.T, committed types.Digest) (*stark.ShardProof, stark.VerifyingKey) {
	t.Helper()
	vk := stark.MachineVerifyingKey(stark.CompressKind, types.BytesToDigest([]byte("shape")))
	pv := stark.PublicValues{
		IsComplete:           true,
		CycleCount:           1000,
		CommittedValueDigest: committed,
	}
	proof, err := stark.NewMachine(stark.CompressKind).Prove(vk, &pv, types.BytesToDigest([]byte("deferred")))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	return proof, *vk
}

func TestExecutor_DeferredProofsFoldIntoDigest(t *testing.T) {
	program, stdin := testProgram(t)
	base := runShards(t, program, stdin, DefaultExecutionContext(), 128)
	if !base[0].PublicValues.DeferredProofsDigest.IsZero() {
		t.Fatal("deferred digest nonzero without deferred proofs")
	}

	proof, vk := deferredProof(t, types.BytesToDigest([]byte("sub")))
	stdin.WriteProof(proof, vk)
	records, _, report, err := NewExecutor(program, stdin, DefaultExecutionContext(), 128).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.DeferredProofs != 1 {
		t.Errorf("report deferred: got %d, want 1", report.DeferredProofs)
	}

	want := stark.FoldDeferredDigest(types.Digest{}, vk.Hash(), proof.PublicValues.CommittedValueDigest)
	for i, rec := range records {
		if rec.PublicValues.DeferredProofsDigest != want {
			t.Errorf("shard %d: deferred digest not folded", i)
		}
	}
}

func TestExecutor_RejectsTamperedDeferredProof(t *testing.T) {
	program, stdin := testProgram(t)
	proof, vk := deferredProof(t, types.BytesToDigest([]byte("sub")))
	proof.Proof[3] ^= 1
	stdin.WriteProof(proof, vk)

	if _, _, _, err := NewExecutor(program, stdin, DefaultExecutionContext(), 128).Run(); err == nil {
		t.Fatal("tampered deferred proof accepted")
	}

	// Disabling execution-time verification defers the check to the
	// aggregation layer.
	ctx := DefaultExecutionContext()
	ctx.DeferredProofVerification = false
	if _, _, _, err := NewExecutor(program, stdin, ctx, 128).Run(); err != nil {
		t.Fatalf("Run with verification disabled: %v", err)
	}
}

func TestMachineSubproofVerifier(t *testing.T) {
	proof, vk := deferredProof(t, types.BytesToDigest([]byte("sub")))
	v := NewMachineSubproofVerifier(stark.NewMachine(stark.CompressKind))

	if err := v.VerifyDeferredProof(proof, &vk, vk.Hash(), proof.PublicValues.CommittedValueDigest); err != nil {
		t.Fatalf("valid proof rejected: %v", err)
	}
	if err := v.VerifyDeferredProof(nil, &vk, vk.Hash(), types.Digest{}); !errors.Is(err, ErrSubproofNil) {
		t.Errorf("nil proof: got %v", err)
	}
	var wrongHash types.Digest
	if err := v.VerifyDeferredProof(proof, &vk, wrongHash, proof.PublicValues.CommittedValueDigest); !errors.Is(err, ErrSubproofVkHashMismatch) {
		t.Errorf("wrong vk hash: got %v", err)
	}
	var wrongDigest types.Digest
	if err := v.VerifyDeferredProof(proof, &vk, vk.Hash(), wrongDigest); !errors.Is(err, ErrSubproofDigestMismatch) {
		t.Errorf("wrong digest: got %v", err)
	}
}
