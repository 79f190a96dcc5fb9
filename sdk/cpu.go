package sdk

import (
	"context"
	"errors"

	"github.com/zirconvm/zircon/log"
	"github.com/zirconvm/zircon/prover"
	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/wrap"
)

// CPUProver runs the full pipeline locally.
type CPUProver struct {
	cfg   Config
	eng   *prover.Prover
	store *wrap.ArtifactStore
	log   *log.Logger
}

// NewCPUProver creates a local prover.
func NewCPUProver(cfg Config) *CPUProver {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = defaultArtifactDir()
	}
	return &CPUProver{
		cfg: cfg,
		eng: prover.New(prover.Opts{
			ShardSize:     cfg.ShardSize,
			CompressArity: cfg.CompressArity,
			MerkleHeight:  cfg.MerkleHeight,
			Workers:       cfg.Workers,
		}),
		store: wrap.NewArtifactStore(cfg.ArtifactDir),
		log:   log.Default().Module("sdk"),
	}
}

// Setup derives the program keys.
func (p *CPUProver) Setup(code []byte, startPC uint64) (*stark.ProvingKey, *stark.VerifyingKey) {
	return p.eng.Setup(code, startPC)
}

// Execute runs the program without proving.
func (p *CPUProver) Execute(ctx context.Context, program *runtime.Program, stdin *runtime.Stdin) ([]byte, *runtime.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	output, report, err := p.eng.Execute(program, stdin, p.executionContext())
	if err != nil {
		return nil, nil, p.mapExecutionError(err)
	}
	return output, report, nil
}

// Prove runs the pipeline up to the requested mode. A failure past the
// core stage returns a StageError carrying the last completed terminal
// bundle, so callers can keep it and retry only the failed stage.
func (p *CPUProver) Prove(ctx context.Context, pk *stark.ProvingKey, stdin *runtime.Stdin, mode ProofMode) (*ProofBundle, error) {
	if _, err := ParseProofMode(mode.String()); err != nil {
		return nil, err
	}

	core, err := p.eng.ProveCore(ctx, pk, stdin, p.executionContext())
	if err != nil {
		return nil, &StageError{Stage: StageCore, Err: p.mapExecutionError(err)}
	}
	coreBundle := &ProofBundle{
		Mode:    CoreMode,
		Version: Version,
		// The bundle reports the whole-execution view, not the final
		// shard's, so core and compressed bundles of one run agree.
		PublicValues: stark.ChainPublicValues(
			&core.Shards[0].PublicValues,
			&core.Shards[len(core.Shards)-1].PublicValues,
		),
		Output: core.Output,
		Shards: core.Shards,
	}
	if mode == CoreMode {
		return coreBundle, nil
	}

	compressed, err := p.eng.Compress(ctx, &pk.Vk, core, stdin.DeferredProofs)
	if err != nil {
		return nil, &StageError{Stage: StageCompress, Partial: coreBundle, Err: err}
	}
	compressedBundle := &ProofBundle{
		Mode:         CompressedMode,
		Version:      Version,
		PublicValues: compressed.Proof.PublicValues,
		Output:       core.Output,
		Reduced:      compressed,
	}
	if mode == CompressedMode {
		return compressedBundle, nil
	}

	shrunk, err := p.eng.Shrink(ctx, compressed)
	if err != nil {
		return nil, &StageError{Stage: StageShrink, Partial: compressedBundle, Err: err}
	}
	wrapped, err := p.eng.Wrap(ctx, shrunk)
	if err != nil {
		return nil, &StageError{Stage: StageWrap, Partial: compressedBundle, Err: err}
	}

	system := wrap.Groth16System
	if mode == PlonkMode {
		system = wrap.PlonkSystem
	}
	artifacts, err := p.store.Ensure(system)
	if err != nil {
		return nil, &StageError{Stage: StageOuter, Partial: compressedBundle, Err: err}
	}
	outer, err := wrap.Prove(artifacts, pk.Vk.Hash(), &wrapped.Proof)
	if err != nil {
		return nil, &StageError{Stage: StageOuter, Partial: compressedBundle, Err: err}
	}
	return &ProofBundle{
		Mode:         mode,
		Version:      Version,
		PublicValues: wrapped.Proof.PublicValues,
		Output:       core.Output,
		Outer:        outer,
	}, nil
}

// Verify checks a bundle against a program verifying key.
func (p *CPUProver) Verify(bundle *ProofBundle, vk *stark.VerifyingKey) error {
	return verifyBundle(bundle, vk, p.store)
}

// Version returns the pipeline version.
func (p *CPUProver) Version() string { return Version }

func (p *CPUProver) executionContext() runtime.ExecutionContext {
	ectx := runtime.DefaultExecutionContext()
	ectx.MaxCycles = p.cfg.MaxCycles
	ectx.DeferredProofVerification = !p.cfg.SkipDeferredVerification
	return ectx
}

// mapExecutionError tags execution failures that belong to the
// verification error taxonomy.
func (p *CPUProver) mapExecutionError(err error) error {
	if errors.Is(err, runtime.ErrExceededCycleLimit) {
		return verifyErr(ExceededCycleLimit, err)
	}
	return err
}
