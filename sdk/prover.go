package sdk

import (
	"context"
	"fmt"

	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
)

// Stage names a pipeline stage for error reporting.
type Stage string

const (
	StageExecute  Stage = "execute"
	StageCore     Stage = "core"
	StageCompress Stage = "compress"
	StageShrink   Stage = "shrink"
	StageWrap     Stage = "wrap"
	StageOuter    Stage = "outer"
)

// StageError reports a pipeline failure at a specific stage. Partial, when
// non-nil, is the bundle of the last completed terminal stage; callers may
// keep it and retry only the failed stage.
type StageError struct {
	Stage   Stage
	Partial *ProofBundle
	Err     error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("sdk: %s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the stage's cause.
func (e *StageError) Unwrap() error { return e.Err }

// Prover is the backend capability set. Local, accelerated, and remote
// implementations are interchangeable and produce bit-compatible bundles;
// the mock implementation synthesizes structurally valid proofs that only
// its own verifier accepts.
type Prover interface {
	// Setup derives the proving and verifying keys for a program.
	Setup(code []byte, startPC uint64) (*stark.ProvingKey, *stark.VerifyingKey)

	// Execute runs the program without proving.
	Execute(ctx context.Context, program *runtime.Program, stdin *runtime.Stdin) ([]byte, *runtime.Report, error)

	// Prove runs the pipeline up to the requested mode.
	Prove(ctx context.Context, pk *stark.ProvingKey, stdin *runtime.Stdin, mode ProofMode) (*ProofBundle, error)

	// Verify checks a bundle against a program verifying key.
	Verify(bundle *ProofBundle, vk *stark.VerifyingKey) error

	// Version returns the pipeline version the backend stamps into
	// bundles.
	Version() string
}

// NewClient creates the prover selected by the configuration.
func NewClient(cfg Config) (Prover, error) {
	switch cfg.Backend {
	case BackendCPU, "":
		return NewCPUProver(cfg), nil
	case BackendCuda:
		return NewCudaProver(cfg), nil
	case BackendNetwork:
		return NewNetworkProver(cfg)
	case BackendMock:
		return NewMockProver(cfg), nil
	default:
		return nil, fmt.Errorf("sdk: unknown backend %q", cfg.Backend)
	}
}
