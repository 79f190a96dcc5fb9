package stark

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/zirconvm/zircon/types"
)

// VerifyingKey is the public commitment to a program's structure. It is
// derived at setup time and is all a verifier needs to check proofs of that
// program.
type VerifyingKey struct {
	// ProgramHash commits to the compiled program binary.
	ProgramHash types.Digest

	// StartPC is the program entry point.
	StartPC uint64
}

// Hash returns the Keccak256 digest of the verifying key. This is the leaf
// value committed into the vkey Merkle registry.
func (vk *VerifyingKey) Hash() types.Digest {
	var pc [8]byte
	binary.LittleEndian.PutUint64(pc[:], vk.StartPC)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/vkey"))
	h.Write(vk.ProgramHash[:])
	h.Write(pc[:])
	return types.BytesToDigest(h.Sum(nil))
}

// ProvingKey is the prover-side counterpart of a VerifyingKey. It is owned
// exclusively by the party generating proofs for the program.
type ProvingKey struct {
	// Program is the compiled guest binary.
	Program []byte

	// Vk is the matching verifying key.
	Vk VerifyingKey
}

// HashProgram computes the Keccak256 commitment to a program binary.
func HashProgram(code []byte) types.Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("zircon/program"))
	h.Write(code)
	return types.BytesToDigest(h.Sum(nil))
}

// Setup derives the proving and verifying keys for a program binary with
// the given entry point.
func Setup(code []byte, startPC uint64) (*ProvingKey, *VerifyingKey) {
	vk := VerifyingKey{
		ProgramHash: HashProgram(code),
		StartPC:     startPC,
	}
	pk := &ProvingKey{
		Program: append([]byte(nil), code...),
		Vk:      vk,
	}
	return pk, &vk
}
