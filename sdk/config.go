package sdk

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// Backend names a prover implementation.
type Backend string

const (
	// BackendCPU proves locally on the CPU.
	BackendCPU Backend = "cpu"
	// BackendCuda proves locally with GPU acceleration.
	BackendCuda Backend = "cuda"
	// BackendNetwork delegates proving to a remote service.
	BackendNetwork Backend = "network"
	// BackendMock executes only and synthesizes mock proofs.
	BackendMock Backend = "mock"
)

// Config is the immutable client configuration. It is constructed up front
// and passed at client creation; nothing in the pipeline reads the
// environment. Zero fields take their defaults.
type Config struct {
	// Backend selects the prover implementation.
	Backend Backend

	// ShardSize, CompressArity, MerkleHeight, and Workers tune the local
	// proving pipeline.
	ShardSize     uint64
	CompressArity int
	MerkleHeight  int
	Workers       int

	// MaxCycles aborts execution past this cycle count. Zero means no
	// limit.
	MaxCycles uint64

	// SkipDeferredVerification disables the execution-time deferred proof
	// check. The aggregation layer still enforces correctness.
	SkipDeferredVerification bool

	// ArtifactDir is where outer circuit artifacts are stored.
	ArtifactDir string

	// Endpoint is the remote prover URL, network backend only.
	Endpoint string

	// HTTPClient overrides the HTTP client, network backend only.
	HTTPClient *http.Client

	// Retries is the number of identical-input retries on a transient
	// network failure.
	Retries int
}

// DefaultConfig returns the default CPU configuration.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendCPU,
		ArtifactDir: defaultArtifactDir(),
	}
}

// FromEnv builds a configuration from the process environment. This is the
// only place the sdk touches environment variables; call it at the process
// entry point and pass the result down.
//
//	ZIRCON_PROVER        backend name (cpu, cuda, network, mock)
//	ZIRCON_ENDPOINT      remote prover URL
//	ZIRCON_ARTIFACT_DIR  circuit artifact directory
//	ZIRCON_MAX_CYCLES    execution cycle limit
func FromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("ZIRCON_PROVER"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("ZIRCON_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("ZIRCON_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("ZIRCON_MAX_CYCLES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxCycles = n
		}
	}
	return cfg
}

func defaultArtifactDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "zircon", "circuits")
	}
	return filepath.Join(home, ".zircon", "circuits")
}
