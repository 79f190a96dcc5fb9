// executor.go partitions a guest run into fixed-size shards and materializes
// the shard trace seeds and chained public values the prover consumes. The
// trace generator is deterministic: the same program, input, and context
// always produce the same records.
package runtime

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Execution errors. Execution-time failures are fatal: no partial records
// are returned and the run is not retried.
var (
	ErrNilProgram         = errors.New("runtime: nil program")
	ErrEmptyProgram       = errors.New("runtime: empty program code")
	ErrExceededCycleLimit = errors.New("runtime: exceeded cycle limit")
	ErrBadShardSize       = errors.New("runtime: shard size must be positive")
)

// ExecutionContext carries the immutable per-run execution options. It is
// constructed up front and never mutated; callers needing different options
// build a new context.
type ExecutionContext struct {
	// MaxCycles aborts the run with ErrExceededCycleLimit when the total
	// cycle count would exceed it. Zero means no limit.
	MaxCycles uint64

	// DeferredProofVerification enables the execution-time sanity check of
	// deferred proofs. Disabling it trades soundness at execution time for
	// speed; the aggregation layer still enforces correctness.
	DeferredProofVerification bool

	// Subproof verifies deferred proofs when enabled. Nil falls back to
	// NoOpSubproofVerifier.
	Subproof SubproofVerifier
}

// DefaultExecutionContext returns a context with deferred proof
// verification enabled and no cycle limit.
func DefaultExecutionContext() ExecutionContext {
	return ExecutionContext{
		DeferredProofVerification: true,
		Subproof:                  NewMachineSubproofVerifier(stark.NewMachine(stark.CompressKind)),
	}
}

// Record is the materialized trace of one shard.
type Record struct {
	// Index is the shard index within the run.
	Index uint64

	// TraceSeed identifies the shard trace for the core prover.
	TraceSeed types.Digest

	// PublicValues are the shard's chained public values.
	PublicValues stark.PublicValues
}

// Report summarizes a completed execution.
type Report struct {
	// TotalCycles is the cycle count of the full run.
	TotalCycles uint64

	// Shards is the number of shards the run was partitioned into.
	Shards int

	// DeferredProofs is the number of verification syscalls the guest made.
	DeferredProofs int
}

// Executor runs a program on an input and materializes shard records.
type Executor struct {
	program   *Program
	stdin     *Stdin
	ctx       ExecutionContext
	shardSize uint64
}

// NewExecutor creates an executor. shardSize is the cycle count per shard.
func NewExecutor(program *Program, stdin *Stdin, ctx ExecutionContext, shardSize uint64) *Executor {
	if stdin == nil {
		stdin = NewStdin()
	}
	return &Executor{program: program, stdin: stdin, ctx: ctx, shardSize: shardSize}
}

// Run executes the program. It returns the ordered shard records, the
// guest's public output stream, and the execution report. On any failure no
// partial record set is returned.
func (e *Executor) Run() ([]Record, []byte, *Report, error) {
	if e.program == nil {
		return nil, nil, nil, ErrNilProgram
	}
	if len(e.program.Code) == 0 {
		return nil, nil, nil, ErrEmptyProgram
	}
	if e.shardSize == 0 {
		return nil, nil, nil, ErrBadShardSize
	}

	totalCycles := e.cycleCount()
	if e.ctx.MaxCycles > 0 && totalCycles > e.ctx.MaxCycles {
		return nil, nil, nil, fmt.Errorf("%w: %d > %d", ErrExceededCycleLimit, totalCycles, e.ctx.MaxCycles)
	}

	// Deferred proof syscalls happen before the guest commits its outputs;
	// verify them now if enabled, and fold the running deferred digest.
	deferredDigest := types.Digest{}
	verifier := e.ctx.Subproof
	if verifier == nil {
		verifier = NoOpSubproofVerifier{}
	}
	for i, dp := range e.stdin.DeferredProofs {
		vkHash := dp.Vk.Hash()
		if e.ctx.DeferredProofVerification {
			if err := verifier.VerifyDeferredProof(dp.Proof, &dp.Vk, vkHash, dp.Proof.PublicValues.CommittedValueDigest); err != nil {
				return nil, nil, nil, fmt.Errorf("runtime: deferred proof %d: %w", i, err)
			}
		}
		deferredDigest = stark.FoldDeferredDigest(deferredDigest, vkHash, dp.Proof.PublicValues.CommittedValueDigest)
	}

	// The trivial guest echoes its input to the public output stream and
	// commits the SHA-256 digest of it.
	output := append([]byte(nil), e.stdin.Input...)
	committed := types.Digest(sha256.Sum256(output))

	programHash := e.program.Hash()
	numShards := (totalCycles + e.shardSize - 1) / e.shardSize

	records := make([]Record, 0, numShards)
	pc := e.program.StartPC
	mem := e.initialMemoryDigest(programHash)
	cycles := uint64(0)
	for i := uint64(0); i < numShards; i++ {
		shardCycles := e.shardSize
		if cycles+shardCycles > totalCycles {
			shardCycles = totalCycles - cycles
		}
		cycles += shardCycles

		last := i == numShards-1
		nextPC := pc + shardCycles*4
		if last {
			// Halt: the final shard exits with pc 0.
			nextPC = 0
		}
		nextMem := stepMemoryDigest(mem, i)

		records = append(records, Record{
			Index:     i,
			TraceSeed: e.traceSeed(programHash, i),
			PublicValues: stark.PublicValues{
				StartPC:              pc,
				EndPC:                nextPC,
				StartMemoryDigest:    mem,
				EndMemoryDigest:      nextMem,
				StartShard:           i,
				EndShard:             i + 1,
				CycleCount:           cycles,
				IsComplete:           last,
				CommittedValueDigest: committed,
				DeferredProofsDigest: deferredDigest,
			},
		})
		pc = nextPC
		mem = nextMem
	}

	report := &Report{
		TotalCycles:    totalCycles,
		Shards:         len(records),
		DeferredProofs: len(e.stdin.DeferredProofs),
	}
	return records, output, report, nil
}

// cycleCount derives the deterministic cycle count of the run.
func (e *Executor) cycleCount() uint64 {
	return 128 + 4*uint64(len(e.program.Code)) + 16*uint64(len(e.stdin.Input))
}

func (e *Executor) initialMemoryDigest(programHash types.Digest) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/memory-init"))
	h.Write(programHash[:])
	h.Write(e.stdin.Input)
	return types.BytesToDigest(h.Sum(nil))
}

func (e *Executor) traceSeed(programHash types.Digest, shard uint64) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/shard-trace"))
	h.Write(programHash[:])
	h.Write(u64le(shard))
	h.Write(e.stdin.Input)
	return types.BytesToDigest(h.Sum(nil))
}

func stepMemoryDigest(mem types.Digest, shard uint64) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/memory-step"))
	h.Write(mem[:])
	h.Write(u64le(shard))
	return types.BytesToDigest(h.Sum(nil))
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
