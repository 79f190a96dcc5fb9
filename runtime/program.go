// Package runtime provides the execution side of the zircon pipeline: guest
// programs, their input, and the executor that partitions a run into shards.
// The instruction-level engine is an external collaborator; what matters to
// the composition layer is the shard trace seeds and the chained public
// values a run produces.
package runtime

import (
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Program is an immutable compiled guest binary.
type Program struct {
	// Code is the compiled guest program.
	Code []byte

	// StartPC is the program entry point.
	StartPC uint64
}

// NewProgram creates a program from a binary, copying the code so callers
// cannot mutate it afterwards.
func NewProgram(code []byte, startPC uint64) *Program {
	return &Program{
		Code:    append([]byte(nil), code...),
		StartPC: startPC,
	}
}

// Hash returns the program commitment.
func (p *Program) Hash() types.Digest {
	return stark.HashProgram(p.Code)
}

// DeferredProof is a previously produced reduce proof the guest asserts
// during execution, paired with the verifying key the proof verifies under
// (the recursion-machine key whose hash the guest asserts in the syscall).
type DeferredProof struct {
	// Proof is the compressed proof being deferred.
	Proof *stark.ShardProof

	// Vk is the verifying key the proof was produced under.
	Vk stark.VerifyingKey
}

// Stdin is the input to a guest program: the raw input buffer plus any
// deferred proofs the guest will assert via the verification syscall.
type Stdin struct {
	// Input is the guest's input buffer.
	Input []byte

	// DeferredProofs are the proofs asserted during execution, in syscall
	// order.
	DeferredProofs []DeferredProof
}

// NewStdin creates an empty Stdin.
func NewStdin() *Stdin {
	return &Stdin{}
}

// Write appends data to the input buffer.
func (s *Stdin) Write(data []byte) {
	s.Input = append(s.Input, data...)
}

// WriteProof queues a deferred proof and its verifying key.
func (s *Stdin) WriteProof(proof *stark.ShardProof, vk stark.VerifyingKey) {
	s.DeferredProofs = append(s.DeferredProofs, DeferredProof{Proof: proof, Vk: vk})
}
