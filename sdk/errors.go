// Package sdk is the client surface of the zircon pipeline: proof modes,
// the proof bundle artifact, the prover backends, and the verification
// protocol.
package sdk

import (
	"errors"
	"fmt"
)

// VerificationErrorKind classifies verification failures so callers can
// react differently to a wrong version than to a forged proof.
type VerificationErrorKind int

const (
	// VersionMismatch means the bundle was produced by a different
	// pipeline version.
	VersionMismatch VerificationErrorKind = iota
	// InvalidPublicValues means the committed value digest matches neither
	// hash of the public output stream.
	InvalidPublicValues
	// CoreVerificationFailure means a shard proof or the shard chain was
	// rejected.
	CoreVerificationFailure
	// RecursionVerificationFailure means the compressed proof was
	// rejected.
	RecursionVerificationFailure
	// OuterSnarkVerificationFailure means the Plonk or Groth16 proof was
	// rejected.
	OuterSnarkVerificationFailure
	// ExceededCycleLimit means execution ran past the configured cycle
	// limit. Fatal; the run is not retried.
	ExceededCycleLimit
	// ArtifactUnavailable means the outer circuit artifacts are not
	// installed. Recoverable by building or installing them.
	ArtifactUnavailable
	// OtherError wraps any failure outside the taxonomy.
	OtherError
)

// String returns the kind name.
func (k VerificationErrorKind) String() string {
	switch k {
	case VersionMismatch:
		return "version mismatch"
	case InvalidPublicValues:
		return "invalid public values"
	case CoreVerificationFailure:
		return "core verification failure"
	case RecursionVerificationFailure:
		return "recursion verification failure"
	case OuterSnarkVerificationFailure:
		return "outer snark verification failure"
	case ExceededCycleLimit:
		return "exceeded cycle limit"
	case ArtifactUnavailable:
		return "artifact unavailable"
	default:
		return "other"
	}
}

// VerificationError is a kind-tagged verification failure.
type VerificationError struct {
	Kind VerificationErrorKind
	Err  error
}

// Error implements error.
func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sdk: %s", e.Kind)
	}
	return fmt.Sprintf("sdk: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *VerificationError) Unwrap() error { return e.Err }

// verifyErr wraps a cause with a kind.
func verifyErr(kind VerificationErrorKind, err error) *VerificationError {
	return &VerificationError{Kind: kind, Err: err}
}

// verifyErrf wraps a formatted cause with a kind.
func verifyErrf(kind VerificationErrorKind, format string, args ...any) *VerificationError {
	return &VerificationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// VerificationKind extracts the kind from an error chain. The second
// return is false if no VerificationError is present.
func VerificationKind(err error) (VerificationErrorKind, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return OtherError, false
}
