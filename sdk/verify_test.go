package sdk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
	"github.com/zirconvm/zircon/wrap"
)

// testConfig returns a small, fast configuration with artifacts isolated
// under the test's temp dir.
func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Backend:       BackendCPU,
		ShardSize:     128,
		CompressArity: 4,
		MerkleHeight:  4,
		Workers:       2,
		ArtifactDir:   t.TempDir(),
	}
}

// testProgram returns a guest that spans several shards at the test shard
// size.
func testProgram(t *testing.T) ([]byte, *runtime.Stdin) {
	t.Helper()
	code := make([]byte, 64)
	for i := range code {
		code[i] = byte(i)
	}
	stdin := runtime.NewStdin()
	stdin.Write([]byte("hello zircon"))
	return code, stdin
}

func proveMode(t *testing.T, p Prover, mode ProofMode) (*ProofBundle, *stark.VerifyingKey) {
	t.Helper()
	code, stdin := testProgram(t)
	pk, vk := p.Setup(code, 0x1000)
	bundle, err := p.Prove(context.Background(), pk, stdin, mode)
	if err != nil {
		t.Fatalf("Prove(%s): %v", mode, err)
	}
	return bundle, vk
}

func wantKind(t *testing.T, err error, kind VerificationErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s error, got nil", kind)
	}
	got, ok := VerificationKind(err)
	if !ok {
		t.Fatalf("error %v carries no verification kind", err)
	}
	if got != kind {
		t.Errorf("error kind %s, want %s", got, kind)
	}
}

func TestCPUProver_CoreProveVerify(t *testing.T) {
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CoreMode)

	if len(bundle.Shards) < 2 {
		t.Fatalf("want multiple shards, got %d", len(bundle.Shards))
	}
	if err := p.Verify(bundle, vk); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The bundle values span the whole execution, first shard's start
	// state to last shard's end state.
	first := bundle.Shards[0].PublicValues
	if bundle.PublicValues.StartPC != first.StartPC || bundle.PublicValues.StartShard != first.StartShard {
		t.Errorf("bundle start state (pc %#x, shard %d) does not match the first shard (pc %#x, shard %d)",
			bundle.PublicValues.StartPC, bundle.PublicValues.StartShard, first.StartPC, first.StartShard)
	}
	last := bundle.Shards[len(bundle.Shards)-1].PublicValues
	if bundle.PublicValues.EndPC != last.EndPC || !bundle.PublicValues.IsComplete {
		t.Error("bundle end state does not match the final shard")
	}

	_, otherVk := p.Setup([]byte("a different program here"), 0x1000)
	wantKind(t, p.Verify(bundle, otherVk), CoreVerificationFailure)
}

func TestCPUProver_CompressedProveVerify(t *testing.T) {
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CompressedMode)

	if bundle.Reduced == nil {
		t.Fatal("compressed bundle has no reduced proof")
	}
	if err := p.Verify(bundle, vk); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	t.Run("tampered proof", func(t *testing.T) {
		tampered := *bundle
		reduced := *bundle.Reduced
		reduced.Proof.Proof = append([]byte(nil), reduced.Proof.Proof...)
		reduced.Proof.Proof[0] ^= 1
		tampered.Reduced = &reduced
		wantKind(t, p.Verify(&tampered, vk), RecursionVerificationFailure)
	})

	t.Run("foreign registry", func(t *testing.T) {
		tampered := *bundle
		reduced := *bundle.Reduced
		reduced.RegistryLeaves = append([]types.Digest(nil), reduced.RegistryLeaves...)
		reduced.RegistryLeaves[0] = types.BytesToDigest([]byte("intruder"))
		tampered.Reduced = &reduced
		wantKind(t, p.Verify(&tampered, vk), RecursionVerificationFailure)
	})
}

func TestVerify_ModeAgreement(t *testing.T) {
	// Core and compressed proofs of the same inputs must commit to the same
	// terminal public values.
	p := NewCPUProver(testConfig(t))
	core, _ := proveMode(t, p, CoreMode)
	compressed, _ := proveMode(t, p, CompressedMode)

	// The folded values additionally commit the registry root; every other
	// field must agree with the core bundle's whole-execution view.
	folded := compressed.PublicValues
	folded.VkRoot = core.PublicValues.VkRoot
	if core.PublicValues != folded {
		t.Errorf("public values diverge between modes:\ncore       %+v\ncompressed %+v",
			core.PublicValues, compressed.PublicValues)
	}
	if !bytes.Equal(core.Output, compressed.Output) {
		t.Error("outputs diverge between modes")
	}
}

func TestVerify_CoreBundleValuesMismatch(t *testing.T) {
	// A core bundle carrying the raw final shard values instead of the
	// whole-execution view is inconsistent and must be rejected.
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CoreMode)
	bundle.PublicValues = bundle.Shards[len(bundle.Shards)-1].PublicValues
	wantKind(t, p.Verify(bundle, vk), CoreVerificationFailure)
}

func TestVerify_VersionGate(t *testing.T) {
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CoreMode)
	bundle.Version = "zircon-v0.9.9"
	wantKind(t, p.Verify(bundle, vk), VersionMismatch)
}

func TestVerify_TamperedOutput(t *testing.T) {
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CoreMode)
	bundle.Output = append([]byte(nil), bundle.Output...)
	bundle.Output[0] ^= 1
	wantKind(t, p.Verify(bundle, vk), InvalidPublicValues)
}

func TestCheckCommittedValues_DualHash(t *testing.T) {
	output := []byte("committed output")
	bundle := func(digest types.Digest) *ProofBundle {
		b := &ProofBundle{Output: output}
		b.PublicValues.CommittedValueDigest = digest
		return b
	}

	if err := checkCommittedValues(bundle(types.Digest(sha256.Sum256(output)))); err != nil {
		t.Errorf("sha256 commitment rejected: %v", err)
	}
	if err := checkCommittedValues(bundle(types.Digest(blake3.Sum256(output)))); err != nil {
		t.Errorf("blake3 commitment rejected: %v", err)
	}
	wantKind(t, checkCommittedValues(bundle(types.BytesToDigest([]byte("neither")))), InvalidPublicValues)
}

func TestVerify_PayloadModeMismatch(t *testing.T) {
	p := NewCPUProver(testConfig(t))
	bundle, vk := proveMode(t, p, CoreMode)
	bundle.Mode = CompressedMode

	err := p.Verify(bundle, vk)
	if !errors.Is(err, ErrBundlePayload) {
		t.Errorf("got %v, want %v", err, ErrBundlePayload)
	}
}

func TestVerify_Groth16ArtifactMissing(t *testing.T) {
	// A structurally consistent groth16 bundle against an empty artifact
	// store must fail with the recoverable artifact kind, not a proof
	// rejection.
	p := NewCPUProver(testConfig(t))
	core, vk := proveMode(t, p, CoreMode)

	bundle := &ProofBundle{
		Mode:         Groth16Mode,
		Version:      Version,
		PublicValues: core.PublicValues,
		Output:       core.Output,
		Outer: &wrap.OuterProof{
			System:                wrap.Groth16System,
			Version:               wrap.CircuitVersion,
			Proof:                 []byte("not a real proof"),
			VkeyHash:              vk.Hash(),
			CommittedValuesDigest: core.PublicValues.CommittedValueDigest,
		},
	}
	wantKind(t, p.Verify(bundle, vk), ArtifactUnavailable)
}

func TestVerify_MockBundleRejected(t *testing.T) {
	cfg := testConfig(t)
	mock := NewMockProver(cfg)
	bundle, vk := proveMode(t, mock, CoreMode)

	cpu := NewCPUProver(cfg)
	wantKind(t, cpu.Verify(bundle, vk), CoreVerificationFailure)
}

func TestVerificationKind(t *testing.T) {
	if _, ok := VerificationKind(errors.New("plain")); ok {
		t.Error("plain error reported a verification kind")
	}
	kind, ok := VerificationKind(verifyErrf(VersionMismatch, "x"))
	if !ok || kind != VersionMismatch {
		t.Errorf("got (%v, %v), want (%v, true)", kind, ok, VersionMismatch)
	}
}

func TestCPUProver_CycleLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 10
	p := NewCPUProver(cfg)
	code, stdin := testProgram(t)
	pk, _ := p.Setup(code, 0x1000)

	_, err := p.Prove(context.Background(), pk, stdin, CoreMode)
	wantKind(t, err, ExceededCycleLimit)

	var stage *StageError
	if !errors.As(err, &stage) {
		t.Fatalf("got %T, want *StageError", err)
	}
	if stage.Stage != StageCore {
		t.Errorf("stage %s, want %s", stage.Stage, StageCore)
	}
	if stage.Partial != nil {
		t.Error("core stage failure carried a partial bundle")
	}
}
