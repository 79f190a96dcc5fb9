// Package prover drives the proof pipeline: core shard proving, recursive
// compression into a single constant-size proof, and the shrink and wrap
// stages that prepare the proof for the outer circuit.
package prover

import goruntime "runtime"

// Defaults for Opts fields left zero.
const (
	DefaultShardSize     = 256
	DefaultCompressArity = 4
	DefaultMerkleHeight  = 5
)

// Opts configures a Prover. The zero value is usable: every zero field is
// replaced by its default.
type Opts struct {
	// ShardSize is the cycle count per execution shard.
	ShardSize uint64

	// CompressArity is the batch width of every aggregation step. All
	// batches are padded to exactly this width, so the recursion machine
	// sees a single witness shape.
	CompressArity int

	// MerkleHeight fixes the vkey registry tree height. The registry holds
	// at most 1<<MerkleHeight keys regardless of how many are registered.
	MerkleHeight int

	// Workers caps concurrent shard proving. Zero means GOMAXPROCS.
	Workers int
}

// DefaultOpts returns the default configuration.
func DefaultOpts() Opts {
	return Opts{
		ShardSize:     DefaultShardSize,
		CompressArity: DefaultCompressArity,
		MerkleHeight:  DefaultMerkleHeight,
		Workers:       goruntime.GOMAXPROCS(0),
	}
}

// normalize fills zero fields with defaults.
func (o Opts) normalize() Opts {
	if o.ShardSize == 0 {
		o.ShardSize = DefaultShardSize
	}
	if o.CompressArity == 0 {
		o.CompressArity = DefaultCompressArity
	}
	if o.MerkleHeight == 0 {
		o.MerkleHeight = DefaultMerkleHeight
	}
	if o.Workers == 0 {
		o.Workers = goruntime.GOMAXPROCS(0)
	}
	return o
}
