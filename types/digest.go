// Package types defines the primitive data types shared across the zircon
// proving pipeline: 32-byte digests and the word-level encoding used for
// committed value digests in proof public values.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	// DigestLength is the byte length of all digests in the pipeline.
	DigestLength = 32

	// DigestWords is the number of 32-bit words in a digest.
	DigestWords = 8
)

// Digest is a 32-byte cryptographic digest. It is used for verifying key
// hashes, trace commitments, Merkle nodes, and committed value digests.
type Digest [DigestLength]byte

// BytesToDigest converts bytes to a Digest, left-padding if shorter than
// 32 bytes.
func BytesToDigest(b []byte) Digest {
	var d Digest
	d.SetBytes(b)
	return d
}

// HexToDigest converts a hex string (with or without 0x prefix) to a Digest.
func HexToDigest(s string) Digest {
	return BytesToDigest(fromHex(s))
}

// Bytes returns the byte representation of the digest.
func (d Digest) Bytes() []byte { return d[:] }

// Hex returns the hex string representation of the digest.
func (d Digest) Hex() string { return fmt.Sprintf("0x%x", d[:]) }

// SetBytes sets the digest from a byte slice, left-padding if necessary.
func (d *Digest) SetBytes(b []byte) {
	if len(b) > DigestLength {
		b = b[len(b)-DigestLength:]
	}
	copy(d[DigestLength-len(b):], b)
}

// IsZero returns whether the digest is all zeros.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Words returns the digest as 8 little-endian 32-bit words, the layout the
// guest uses when committing outputs.
func (d Digest) Words() [DigestWords]uint32 {
	var w [DigestWords]uint32
	for i := 0; i < DigestWords; i++ {
		w[i] = binary.LittleEndian.Uint32(d[i*4 : i*4+4])
	}
	return w
}

// WordsToDigest packs 8 little-endian 32-bit words into a digest.
func WordsToDigest(w [DigestWords]uint32) Digest {
	var d Digest
	for i := 0; i < DigestWords; i++ {
		binary.LittleEndian.PutUint32(d[i*4:i*4+4], w[i])
	}
	return d
}

// String implements fmt.Stringer.
func (d Digest) String() string { return d.Hex() }

func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
