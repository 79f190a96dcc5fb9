// Package recursion implements the proof composition layer: the Merkle
// registry of authorized verifying keys, the fixed-shape compress witness
// with its dummy padding, and the aggregation verifier family.
package recursion

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/zirconvm/zircon/types"
)

// Merkle registry errors.
var (
	ErrRegistryEmpty    = errors.New("recursion: registry needs at least one key")
	ErrNotRegistered    = errors.New("recursion: digest not in registry")
	ErrPathRootMismatch = errors.New("recursion: recomputed root does not match claimed root")
	ErrValueMismatch    = errors.New("recursion: leaf value does not match expected digest")
	ErrMembershipArity  = errors.New("recursion: digest, value, and proof counts differ")
)

// MerkleProof proves that a digest is a leaf of a committed root: the leaf
// index plus the ordered sibling path from leaf to root.
type MerkleProof struct {
	// Index is the leaf position.
	Index uint64

	// Siblings are the sibling node hashes, leaf level first.
	Siblings []types.Digest
}

// VkeyRegistry commits a set of authorized verifying key digests into a
// MiMC Merkle tree. The root is a public input to the with-vkey aggregation
// layer; membership of a key is proven without the circuit knowing the
// whole set.
type VkeyRegistry struct {
	layers [][]types.Digest
	index  map[types.Digest]uint64
}

// NewVkeyRegistry builds a registry over the given digests. The leaf set is
// padded with zero digests to the next power of two.
func NewVkeyRegistry(digests []types.Digest) (*VkeyRegistry, error) {
	if len(digests) == 0 {
		return nil, ErrRegistryEmpty
	}

	n := 1
	for n < len(digests) {
		n <<= 1
	}
	leaves := make([]types.Digest, n)
	copy(leaves, digests)

	layers := [][]types.Digest{make([]types.Digest, n)}
	for i, leaf := range leaves {
		layers[0][i] = hashLeaf(leaf)
	}
	for len(layers[len(layers)-1]) > 1 {
		prev := layers[len(layers)-1]
		next := make([]types.Digest, len(prev)/2)
		for i := range next {
			next[i] = hashNode(prev[2*i], prev[2*i+1])
		}
		layers = append(layers, next)
	}

	index := make(map[types.Digest]uint64, len(digests))
	for i, d := range digests {
		if _, dup := index[d]; !dup {
			index[d] = uint64(i)
		}
	}
	return &VkeyRegistry{layers: layers, index: index}, nil
}

// Root returns the committed registry root.
func (r *VkeyRegistry) Root() types.Digest {
	return r.layers[len(r.layers)-1][0]
}

// Height returns the sibling path length of every membership proof.
func (r *VkeyRegistry) Height() int {
	return len(r.layers) - 1
}

// ProveMembership produces the Merkle proof for a registered digest.
func (r *VkeyRegistry) ProveMembership(digest types.Digest) (*MerkleProof, error) {
	pos, ok := r.index[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, digest)
	}
	siblings := make([]types.Digest, 0, r.Height())
	idx := pos
	for level := 0; level < r.Height(); level++ {
		siblings = append(siblings, r.layers[level][idx^1])
		idx >>= 1
	}
	return &MerkleProof{Index: pos, Siblings: siblings}, nil
}

// VerifyMembership checks, for each (digest, value, proof) triple, that the
// path recomputes to the claimed root. When assertValues is true the leaf
// value must additionally equal the expected digest, binding "this key is
// authorized" to "this key is the one actually used". When false the
// comparisons degenerate to comparing each computed value with itself: the
// same hash work is done so the circuit shape is preserved, but nothing is
// asserted. The false mode exists for padding entries only and must never
// gate a real proof's validity.
func VerifyMembership(root types.Digest, digests, values []types.Digest, proofs []MerkleProof, assertValues bool) error {
	if len(digests) != len(values) || len(digests) != len(proofs) {
		return ErrMembershipArity
	}
	for i := range proofs {
		computed := recomputeRoot(values[i], &proofs[i])
		// Padding entries do the same hash work but compare against their
		// own results, so the circuit shape is preserved while nothing is
		// asserted.
		wantRoot, wantValue := computed, values[i]
		if assertValues {
			wantRoot, wantValue = root, digests[i]
		}
		if computed != wantRoot {
			return fmt.Errorf("%w: entry %d", ErrPathRootMismatch, i)
		}
		if values[i] != wantValue {
			return fmt.Errorf("%w: entry %d", ErrValueMismatch, i)
		}
	}
	return nil
}

// recomputeRoot walks the sibling path from the leaf to the root.
func recomputeRoot(value types.Digest, proof *MerkleProof) types.Digest {
	node := hashLeaf(value)
	idx := proof.Index
	for _, sib := range proof.Siblings {
		if idx&1 == 0 {
			node = hashNode(node, sib)
		} else {
			node = hashNode(sib, node)
		}
		idx >>= 1
	}
	return node
}

// hashLeaf computes the MiMC leaf commitment.
func hashLeaf(value types.Digest) types.Digest {
	h := mimc.NewMiMC()
	h.Write(toFieldBytes(value))
	return types.BytesToDigest(h.Sum(nil))
}

// hashNode computes the MiMC parent of two child nodes.
func hashNode(left, right types.Digest) types.Digest {
	h := mimc.NewMiMC()
	h.Write(toFieldBytes(left))
	h.Write(toFieldBytes(right))
	return types.BytesToDigest(h.Sum(nil))
}

// toFieldBytes reduces a 32-byte digest into a canonical BN254 scalar field
// element encoding, which is what the MiMC hasher accepts.
func toFieldBytes(d types.Digest) []byte {
	v := new(big.Int).SetBytes(d[:])
	v.Mod(v, fr.Modulus())
	out := make([]byte, fr.Bytes)
	v.FillBytes(out)
	return out
}
