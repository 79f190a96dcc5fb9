package sdk

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/zirconvm/zircon/prover"
	"github.com/zirconvm/zircon/recursion"
	"github.com/zirconvm/zircon/stark"
	"github.com/zirconvm/zircon/types"
	"github.com/zirconvm/zircon/wrap"
)

// Version is the pipeline version string stamped into every bundle. A
// bundle produced by a different version is rejected outright.
const Version = "zircon-v1.0.0"

// Bundle errors.
var (
	ErrUnknownMode   = errors.New("sdk: unknown proof mode")
	ErrBundlePayload = errors.New("sdk: bundle payload does not match its mode")
)

// ProofMode selects how far along the pipeline an artifact has travelled.
// Modes only ever increase in compactness; a bundle never regresses.
type ProofMode uint8

const (
	// CoreMode keeps one STARK proof per shard.
	CoreMode ProofMode = iota
	// CompressedMode is a single constant-size recursion proof.
	CompressedMode
	// PlonkMode wraps the proof into a BN254 PLONK SNARK.
	PlonkMode
	// Groth16Mode wraps the proof into a BN254 Groth16 SNARK.
	Groth16Mode
)

// String returns the mode name.
func (m ProofMode) String() string {
	switch m {
	case CoreMode:
		return "core"
	case CompressedMode:
		return "compressed"
	case PlonkMode:
		return "plonk"
	case Groth16Mode:
		return "groth16"
	default:
		return "unknown"
	}
}

// ParseProofMode parses a mode name.
func ParseProofMode(s string) (ProofMode, error) {
	switch s {
	case "core":
		return CoreMode, nil
	case "compressed":
		return CompressedMode, nil
	case "plonk":
		return PlonkMode, nil
	case "groth16":
		return Groth16Mode, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ProofBundle is the final pipeline artifact: the proof payload for its
// mode, the public values, the guest's public output stream, and the
// pipeline version. Opaque and immutable once produced; it must be paired
// with the program's verifying key to be verified.
type ProofBundle struct {
	// Mode tags the proof payload.
	Mode ProofMode

	// Version is the pipeline version that produced the bundle.
	Version string

	// PublicValues are the final public values: the last shard's in core
	// mode, the folded values otherwise.
	PublicValues stark.PublicValues

	// Output is the guest's public output stream, the preimage of the
	// committed value digest.
	Output []byte

	// Shards is the core mode payload.
	Shards []stark.ShardProof

	// Reduced is the compressed mode payload.
	Reduced *prover.ReducedProof

	// Outer is the plonk and groth16 mode payload.
	Outer *wrap.OuterProof
}

// wire mirrors of the bundle graph. The in-memory types use native ints
// where that is idiomatic; the wire layer pins every field to an
// RLP-encodable type so the encoding is stable.
type wireBundle struct {
	Mode         uint8
	Version      string
	PublicValues stark.PublicValues
	Output       []byte
	Shards       []stark.ShardProof
	Reduced      *wireReduced `rlp:"nil"`
	Outer        *wireOuter   `rlp:"nil"`
}

type wireReduced struct {
	Proof          stark.ShardProof
	Vk             stark.VerifyingKey
	Root           types.Digest
	RegistryLeaves []types.Digest
	NumProofs      uint64
	MerkleHeight   uint64
}

type wireOuter struct {
	System                string
	Version               string
	Proof                 []byte
	VkeyHash              types.Digest
	CommittedValuesDigest types.Digest
}

// Serialize encodes the bundle as a single opaque RLP blob.
func (b *ProofBundle) Serialize() ([]byte, error) {
	w := wireBundle{
		Mode:         uint8(b.Mode),
		Version:      b.Version,
		PublicValues: b.PublicValues,
		Output:       b.Output,
		Shards:       b.Shards,
	}
	if b.Reduced != nil {
		w.Reduced = &wireReduced{
			Proof:          b.Reduced.Proof,
			Vk:             b.Reduced.Vk,
			Root:           b.Reduced.Root,
			RegistryLeaves: b.Reduced.RegistryLeaves,
			NumProofs:      uint64(b.Reduced.Shape.Compress.NumProofs),
			MerkleHeight:   uint64(b.Reduced.Shape.MerkleHeight),
		}
	}
	if b.Outer != nil {
		w.Outer = &wireOuter{
			System:                string(b.Outer.System),
			Version:               b.Outer.Version,
			Proof:                 b.Outer.Proof,
			VkeyHash:              b.Outer.VkeyHash,
			CommittedValuesDigest: b.Outer.CommittedValuesDigest,
		}
	}
	return rlp.EncodeToBytes(&w)
}

// DeserializeBundle decodes a bundle from its serialized form.
func DeserializeBundle(data []byte) (*ProofBundle, error) {
	var w wireBundle
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("sdk: decode bundle: %w", err)
	}
	b := &ProofBundle{
		Mode:         ProofMode(w.Mode),
		Version:      w.Version,
		PublicValues: w.PublicValues,
		Output:       w.Output,
		Shards:       w.Shards,
	}
	if w.Reduced != nil {
		b.Reduced = &prover.ReducedProof{
			Proof:          w.Reduced.Proof,
			Vk:             w.Reduced.Vk,
			Root:           w.Reduced.Root,
			RegistryLeaves: w.Reduced.RegistryLeaves,
			Shape: recursion.CompressWithVkeyShape{
				Compress:     recursion.CompressShape{NumProofs: int(w.Reduced.NumProofs)},
				MerkleHeight: int(w.Reduced.MerkleHeight),
			},
		}
	}
	if w.Outer != nil {
		b.Outer = &wrap.OuterProof{
			System:                wrap.ProofSystem(w.Outer.System),
			Version:               w.Outer.Version,
			Proof:                 w.Outer.Proof,
			VkeyHash:              w.Outer.VkeyHash,
			CommittedValuesDigest: w.Outer.CommittedValuesDigest,
		}
	}
	return b, nil
}

// Save writes the serialized bundle to a file.
func (b *ProofBundle) Save(path string) error {
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBundle reads a bundle from a file.
func LoadBundle(path string) (*ProofBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DeserializeBundle(data)
}

// payload checks the bundle carries the payload its mode promises.
func (b *ProofBundle) payload() error {
	switch b.Mode {
	case CoreMode:
		if len(b.Shards) == 0 {
			return fmt.Errorf("%w: core bundle has no shards", ErrBundlePayload)
		}
	case CompressedMode:
		if b.Reduced == nil {
			return fmt.Errorf("%w: compressed bundle has no reduced proof", ErrBundlePayload)
		}
	case PlonkMode, Groth16Mode:
		if b.Outer == nil {
			return fmt.Errorf("%w: %s bundle has no outer proof", ErrBundlePayload, b.Mode)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, b.Mode)
	}
	return nil
}
