package prover

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/zirconvm/zircon/log"
	"github.com/zirconvm/zircon/recursion"
	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
)

// Pipeline errors.
var (
	ErrNoShards         = errors.New("prover: execution produced no shards")
	ErrRegistryOverflow = errors.New("prover: registry height too small for the key set")
	ErrWrongProofStage  = errors.New("prover: proof is from the wrong pipeline stage")
	ErrRootMismatch     = errors.New("prover: rebuilt registry root does not match proof root")
)

// CoreProof is the output of the core stage: one STARK proof per execution
// shard plus the guest's public output stream.
type CoreProof struct {
	// Shards are the ordered shard proofs.
	Shards []stark.ShardProof

	// Output is the guest's public output stream.
	Output []byte

	// Report is the execution report.
	Report runtime.Report
}

// ReducedProof is a single recursion proof produced by the compress,
// shrink, or wrap stage. It carries everything a later stage needs to
// verify and extend it.
type ReducedProof struct {
	// Proof is the recursion proof.
	Proof stark.ShardProof

	// Vk is the recursion machine verifying key the proof verifies under.
	Vk stark.VerifyingKey

	// Root is the vkey registry root committed in the proof's public
	// values.
	Root types.Digest

	// RegistryLeaves is the full padded leaf set of the registry, kept so
	// later stages can rebuild the tree and prove membership.
	RegistryLeaves []types.Digest

	// Shape is the aggregation witness shape the pipeline was run with.
	Shape recursion.CompressWithVkeyShape
}

// Prover runs the proof pipeline for one machine configuration.
type Prover struct {
	opts     Opts
	core     *stark.Machine
	compress *stark.Machine
	shrink   *stark.Machine
	wrap     *stark.Machine
	agg      *recursion.Aggregator
	log      *log.Logger
}

// New creates a prover with the given options. Zero option fields take
// their defaults.
func New(opts Opts) *Prover {
	return &Prover{
		opts:     opts.normalize(),
		core:     stark.NewMachine(stark.CoreKind),
		compress: stark.NewMachine(stark.CompressKind),
		shrink:   stark.NewMachine(stark.ShrinkKind),
		wrap:     stark.NewMachine(stark.WrapKind),
		agg:      recursion.NewAggregator(),
		log:      log.Default().Module("prover"),
	}
}

// Setup derives the proving and verifying keys for a program.
func (p *Prover) Setup(code []byte, startPC uint64) (*stark.ProvingKey, *stark.VerifyingKey) {
	return stark.Setup(code, startPC)
}

// Execute runs the program without proving and returns its public output
// and execution report.
func (p *Prover) Execute(program *runtime.Program, stdin *runtime.Stdin, ectx runtime.ExecutionContext) ([]byte, *runtime.Report, error) {
	exec := runtime.NewExecutor(program, stdin, ectx, p.opts.ShardSize)
	_, output, report, err := exec.Run()
	if err != nil {
		return nil, nil, err
	}
	return output, report, nil
}

// ProveCore executes the program and proves every shard on the core
// machine. Shards are proven concurrently and reassembled in shard order.
func (p *Prover) ProveCore(ctx context.Context, pk *stark.ProvingKey, stdin *runtime.Stdin, ectx runtime.ExecutionContext) (*CoreProof, error) {
	program := &runtime.Program{Code: pk.Program, StartPC: pk.Vk.StartPC}
	exec := runtime.NewExecutor(program, stdin, ectx, p.opts.ShardSize)
	records, output, report, err := exec.Run()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoShards
	}
	p.log.Debug("proving core shards", "shards", len(records), "cycles", report.TotalCycles)

	shards := make([]stark.ShardProof, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			proof, err := p.core.Prove(&pk.Vk, &rec.PublicValues, rec.TraceSeed)
			if err != nil {
				return fmt.Errorf("prover: shard %d: %w", rec.Index, err)
			}
			shards[rec.Index] = *proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &CoreProof{Shards: shards, Output: output, Report: *report}, nil
}

// Compress reduces the shard proofs, plus any deferred proofs the guest
// asserted, into a single recursion proof. Every aggregation batch has the
// same shape; batches with fewer real proofs are padded with dummies.
// Deferred proofs are absorbed on the leftmost spine of the tree so the
// absorption order equals the guest's syscall order.
func (p *Prover) Compress(ctx context.Context, vk *stark.VerifyingKey, core *CoreProof, deferred []runtime.DeferredProof) (*ReducedProof, error) {
	if err := stark.VerifyShardChain(core.Shards); err != nil {
		return nil, err
	}

	shape := recursion.CompressWithVkeyShape{
		Compress:     recursion.CompressShape{NumProofs: p.opts.CompressArity},
		MerkleHeight: p.opts.MerkleHeight,
	}
	compressVk := stark.MachineVerifyingKey(stark.CompressKind, shape.ID())
	shrinkVk := stark.MachineVerifyingKey(stark.ShrinkKind, shape.ID())

	digests := []types.Digest{vk.Hash(), compressVk.Hash(), shrinkVk.Hash()}
	for i := range deferred {
		digests = append(digests, deferred[i].Vk.Hash())
	}
	if len(digests) > 1<<p.opts.MerkleHeight {
		return nil, fmt.Errorf("%w: %d keys, height %d", ErrRegistryOverflow, len(digests), p.opts.MerkleHeight)
	}
	leaves := make([]types.Digest, 1<<p.opts.MerkleHeight)
	copy(leaves, digests)
	registry, err := recursion.NewVkeyRegistry(leaves)
	if err != nil {
		return nil, err
	}

	var level []recursion.WitnessEntry
	if len(deferred) > 0 {
		carrier, err := p.absorbDeferred(ctx, deferred, registry, shape, compressVk)
		if err != nil {
			return nil, err
		}
		level = append(level, carrier)
	}
	for i := range core.Shards {
		level = append(level, recursion.WitnessEntry{Vk: *vk, Proof: core.Shards[i], IsReal: true})
	}

	p.log.Debug("compressing", "leaves", len(level), "arity", p.opts.CompressArity, "root", registry.Root())
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make([]recursion.WitnessEntry, 0, (len(level)+p.opts.CompressArity-1)/p.opts.CompressArity)
		for start := 0; start < len(level); start += p.opts.CompressArity {
			end := start + p.opts.CompressArity
			if end > len(level) {
				end = len(level)
			}
			node, err := p.reduceBatch(level[start:end], registry, shape, compressVk)
			if err != nil {
				return nil, err
			}
			next = append(next, node)
		}
		level = next
		if len(level) == 1 {
			break
		}
	}

	return &ReducedProof{
		Proof:          level[0].Proof,
		Vk:             *compressVk,
		Root:           registry.Root(),
		RegistryLeaves: leaves,
		Shape:          shape,
	}, nil
}

// Shrink runs the root verifier over a compressed proof and re-proves the
// folded claim on the fixed-shape shrink machine. Root verification is
// where completeness and full deferred absorption become mandatory.
func (p *Prover) Shrink(ctx context.Context, compressed *ReducedProof) (*ReducedProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if compressed.Proof.Machine != stark.CompressKind {
		return nil, fmt.Errorf("%w: got %s, want compress", ErrWrongProofStage, compressed.Proof.Machine)
	}
	registry, err := recursion.NewVkeyRegistry(compressed.RegistryLeaves)
	if err != nil {
		return nil, err
	}
	if registry.Root() != compressed.Root {
		return nil, ErrRootMismatch
	}

	entry := recursion.WitnessEntry{Vk: compressed.Vk, Proof: compressed.Proof, IsReal: true}
	w, err := p.buildWitness([]recursion.WitnessEntry{entry}, registry, compressed.Shape)
	if err != nil {
		return nil, err
	}
	folded, err := p.agg.VerifyRoot(w)
	if err != nil {
		return nil, err
	}

	shrinkVk := stark.MachineVerifyingKey(stark.ShrinkKind, compressed.Shape.ID())
	proof, err := p.shrink.Prove(shrinkVk, folded, batchSeed(w.Compress.Entries))
	if err != nil {
		return nil, err
	}
	return &ReducedProof{
		Proof:          *proof,
		Vk:             *shrinkVk,
		Root:           compressed.Root,
		RegistryLeaves: compressed.RegistryLeaves,
		Shape:          compressed.Shape,
	}, nil
}

// Wrap re-expresses a shrunk proof on the wrap machine, the last STARK
// stage before the outer circuit.
func (p *Prover) Wrap(ctx context.Context, shrunk *ReducedProof) (*ReducedProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shrunk.Proof.Machine != stark.ShrinkKind {
		return nil, fmt.Errorf("%w: got %s, want shrink", ErrWrongProofStage, shrunk.Proof.Machine)
	}
	if err := p.shrink.Verify(&shrunk.Vk, &shrunk.Proof); err != nil {
		return nil, err
	}

	wrapVk := stark.MachineVerifyingKey(stark.WrapKind, shrunk.Shape.ID())
	seed := shrunk.Proof.TraceCommitment
	proof, err := p.wrap.Prove(wrapVk, &shrunk.Proof.PublicValues, seed)
	if err != nil {
		return nil, err
	}
	return &ReducedProof{
		Proof:          *proof,
		Vk:             *wrapVk,
		Root:           shrunk.Root,
		RegistryLeaves: shrunk.RegistryLeaves,
		Shape:          shrunk.Shape,
	}, nil
}

// VerifyReduced checks a recursion proof against its embedded verifying
// key and registry root.
func (p *Prover) VerifyReduced(r *ReducedProof, want stark.MachineKind) error {
	if r.Proof.Machine != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongProofStage, r.Proof.Machine, want)
	}
	var machine *stark.Machine
	switch want {
	case stark.CompressKind:
		machine = p.compress
	case stark.ShrinkKind:
		machine = p.shrink
	case stark.WrapKind:
		machine = p.wrap
	default:
		machine = p.core
	}
	if err := machine.Verify(&r.Vk, &r.Proof); err != nil {
		return err
	}
	if r.Proof.PublicValues.VkRoot != r.Root {
		return ErrRootMismatch
	}
	return nil
}

// absorbDeferred left-folds the deferred proofs into a single carrier
// node. Each batch continues the previous carrier's accumulator, so the
// final carrier commits to the fold over all deferred proofs in order.
func (p *Prover) absorbDeferred(ctx context.Context, deferred []runtime.DeferredProof, registry *recursion.VkeyRegistry, shape recursion.CompressWithVkeyShape, compressVk *stark.VerifyingKey) (recursion.WitnessEntry, error) {
	pending := make([]recursion.WitnessEntry, 0, len(deferred))
	for i := range deferred {
		pending = append(pending, recursion.WitnessEntry{
			Vk:       deferred[i].Vk,
			Proof:    *deferred[i].Proof,
			IsReal:   true,
			Deferred: true,
		})
	}

	var carrier recursion.WitnessEntry
	haveCarrier := false
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return recursion.WitnessEntry{}, err
		}
		batch := make([]recursion.WitnessEntry, 0, p.opts.CompressArity)
		if haveCarrier {
			batch = append(batch, carrier)
		}
		take := p.opts.CompressArity - len(batch)
		if take > len(pending) {
			take = len(pending)
		}
		batch = append(batch, pending[:take]...)
		pending = pending[take:]

		node, err := p.reduceBatch(batch, registry, shape, compressVk)
		if err != nil {
			return recursion.WitnessEntry{}, err
		}
		carrier, haveCarrier = node, true
	}
	return carrier, nil
}

// reduceBatch pads a batch to the shape width, verifies it under the
// with-vkey policy, and proves the folded claim on the compress machine.
func (p *Prover) reduceBatch(batch []recursion.WitnessEntry, registry *recursion.VkeyRegistry, shape recursion.CompressWithVkeyShape, compressVk *stark.VerifyingKey) (recursion.WitnessEntry, error) {
	w, err := p.buildWitness(batch, registry, shape)
	if err != nil {
		return recursion.WitnessEntry{}, err
	}
	folded, err := p.agg.VerifyCompressWithVkey(w)
	if err != nil {
		return recursion.WitnessEntry{}, err
	}
	proof, err := p.compress.Prove(compressVk, folded, batchSeed(w.Compress.Entries))
	if err != nil {
		return recursion.WitnessEntry{}, err
	}
	return recursion.WitnessEntry{Vk: *compressVk, Proof: *proof, IsReal: true}, nil
}

// buildWitness assembles a with-vkey witness: the batch padded with dummy
// entries, plus one membership proof per slot. Real slots get a proof from
// the registry; padding slots get the zero path of the same height.
func (p *Prover) buildWitness(batch []recursion.WitnessEntry, registry *recursion.VkeyRegistry, shape recursion.CompressWithVkeyShape) (*recursion.CompressWithVkeyWitness, error) {
	n := shape.Compress.NumProofs
	entries := make([]recursion.WitnessEntry, 0, n)
	entries = append(entries, batch...)
	for len(entries) < n {
		entries = append(entries, recursion.DummyEntry())
	}

	proofs := make([]recursion.MerkleProof, n)
	values := make([]types.Digest, n)
	for i := range entries {
		if !entries[i].IsReal {
			proofs[i] = recursion.MerkleProof{Index: 0, Siblings: make([]types.Digest, shape.MerkleHeight)}
			continue
		}
		vkHash := entries[i].Vk.Hash()
		mp, err := registry.ProveMembership(vkHash)
		if err != nil {
			return nil, err
		}
		proofs[i] = *mp
		values[i] = vkHash
	}
	return &recursion.CompressWithVkeyWitness{
		Compress:     recursion.CompressWitness{Entries: entries},
		MerkleProofs: proofs,
		Values:       values,
		Root:         registry.Root(),
	}, nil
}

// batchSeed derives the deterministic trace seed of an aggregation batch.
func batchSeed(entries []recursion.WitnessEntry) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/reduce-batch"))
	for i := range entries {
		h.Write(entries[i].Proof.TraceCommitment[:])
		h.Write(entries[i].Proof.Proof)
	}
	return types.BytesToDigest(h.Sum(nil))
}
