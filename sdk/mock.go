package sdk

import (
	"bytes"
	"context"
	"errors"

	"github.com/zirconvm/zircon/prover"
	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/wrap"
)

// ErrNotMockProof means a bundle handed to the mock verifier does not
// carry mock proof bytes.
var ErrNotMockProof = errors.New("sdk: bundle does not carry a mock proof")

// mockProofBytes is the filler every mock proof carries. It has the wrong
// length and content for every real machine, so the real verification
// protocol always rejects a mock bundle.
var mockProofBytes = []byte("zircon-mock-proof")

// MockProver executes for real and synthesizes structurally valid but
// cryptographically meaningless proofs of the requested mode. Downstream
// plumbing gets a bundle of the right shape without paying proving cost;
// only the mock verifier accepts it.
type MockProver struct {
	cfg Config
	eng *prover.Prover
}

// NewMockProver creates a mock prover.
func NewMockProver(cfg Config) *MockProver {
	return &MockProver{
		cfg: cfg,
		eng: prover.New(prover.Opts{
			ShardSize:     cfg.ShardSize,
			CompressArity: cfg.CompressArity,
			MerkleHeight:  cfg.MerkleHeight,
			Workers:       cfg.Workers,
		}),
	}
}

// Setup derives the program keys.
func (p *MockProver) Setup(code []byte, startPC uint64) (*stark.ProvingKey, *stark.VerifyingKey) {
	return stark.Setup(code, startPC)
}

// Execute runs the program for real. Deferred proofs are optimistically
// trusted.
func (p *MockProver) Execute(ctx context.Context, program *runtime.Program, stdin *runtime.Stdin) ([]byte, *runtime.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ectx := runtime.ExecutionContext{MaxCycles: p.cfg.MaxCycles, Subproof: runtime.NoOpSubproofVerifier{}}
	output, report, err := p.eng.Execute(program, stdin, ectx)
	if err != nil {
		if errors.Is(err, runtime.ErrExceededCycleLimit) {
			return nil, nil, verifyErr(ExceededCycleLimit, err)
		}
		return nil, nil, err
	}
	return output, report, nil
}

// Prove executes and synthesizes a mock bundle of the requested mode. The
// public values are the real execution's; only the proof bytes are fake.
func (p *MockProver) Prove(ctx context.Context, pk *stark.ProvingKey, stdin *runtime.Stdin, mode ProofMode) (*ProofBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program := &runtime.Program{Code: pk.Program, StartPC: pk.Vk.StartPC}
	ectx := runtime.ExecutionContext{MaxCycles: p.cfg.MaxCycles, Subproof: runtime.NoOpSubproofVerifier{}}
	exec := runtime.NewExecutor(program, stdin, ectx, mockShardSize(p.cfg.ShardSize))
	records, output, _, err := exec.Run()
	if err != nil {
		if errors.Is(err, runtime.ErrExceededCycleLimit) {
			return nil, verifyErr(ExceededCycleLimit, err)
		}
		return nil, err
	}
	view := stark.ChainPublicValues(
		&records[0].PublicValues,
		&records[len(records)-1].PublicValues,
	)

	bundle := &ProofBundle{
		Mode:         mode,
		Version:      Version,
		PublicValues: view,
		Output:       output,
	}
	switch mode {
	case CoreMode:
		for i := range records {
			bundle.Shards = append(bundle.Shards, stark.ShardProof{
				Machine:      stark.CoreKind,
				VkHash:       pk.Vk.Hash(),
				Proof:        mockProofBytes,
				PublicValues: records[i].PublicValues,
			})
		}
	case CompressedMode:
		bundle.Reduced = &prover.ReducedProof{
			Proof: stark.ShardProof{
				Machine:      stark.CompressKind,
				VkHash:       pk.Vk.Hash(),
				Proof:        mockProofBytes,
				PublicValues: view,
			},
			Vk: pk.Vk,
		}
	case PlonkMode, Groth16Mode:
		system := wrap.Groth16System
		if mode == PlonkMode {
			system = wrap.PlonkSystem
		}
		bundle.Outer = &wrap.OuterProof{
			System:                system,
			Version:               wrap.CircuitVersion,
			Proof:                 mockProofBytes,
			VkeyHash:              pk.Vk.Hash(),
			CommittedValuesDigest: view.CommittedValueDigest,
		}
	default:
		return nil, ErrUnknownMode
	}
	return bundle, nil
}

// Verify accepts bundles produced by a mock prover: the version and
// dual-hash checks still apply, but the proof bytes need only be the mock
// filler. Real proofs are rejected so mock verification can never be
// mistaken for the real protocol.
func (p *MockProver) Verify(bundle *ProofBundle, vk *stark.VerifyingKey) error {
	if bundle.Version != Version {
		return verifyErrf(VersionMismatch, "bundle %q, pipeline %q", bundle.Version, Version)
	}
	if err := bundle.payload(); err != nil {
		return verifyErr(OtherError, err)
	}
	if err := checkCommittedValues(bundle); err != nil {
		return err
	}
	var proofBytes [][]byte
	switch bundle.Mode {
	case CoreMode:
		for i := range bundle.Shards {
			proofBytes = append(proofBytes, bundle.Shards[i].Proof)
		}
	case CompressedMode:
		proofBytes = append(proofBytes, bundle.Reduced.Proof.Proof)
	default:
		proofBytes = append(proofBytes, bundle.Outer.Proof)
	}
	for _, pb := range proofBytes {
		if !bytes.Equal(pb, mockProofBytes) {
			return ErrNotMockProof
		}
	}
	return nil
}

// Version returns the pipeline version.
func (p *MockProver) Version() string { return Version }

func mockShardSize(size uint64) uint64 {
	if size == 0 {
		return prover.DefaultShardSize
	}
	return size
}
