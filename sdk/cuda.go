package sdk

import goruntime "runtime"

// CudaProver is the GPU-accelerated local backend. Acceleration changes
// throughput only: it runs the same pipeline with a wider shard proving
// pool and produces bundles bit-compatible with the CPU backend.
type CudaProver struct {
	*CPUProver
}

// NewCudaProver creates an accelerated local prover.
func NewCudaProver(cfg Config) *CudaProver {
	if cfg.Workers == 0 {
		// The GPU path keeps every core feeding the device.
		cfg.Workers = 2 * goruntime.GOMAXPROCS(0)
	}
	return &CudaProver{CPUProver: NewCPUProver(cfg)}
}
