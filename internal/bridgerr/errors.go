// Package bridgerr defines the unified error taxonomy used across the
// bridge core. Every package-level error returned by script, merkle,
// txfactory, actor, verifier, operator and prover wraps a Kind so
// callers can branch on failure class without string matching.
package bridgerr

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge error.
type Kind string

const (
	InvalidDeposit       Kind = "invalid_deposit"
	PresignMissing       Kind = "presign_missing"
	PresignMalformed     Kind = "presign_malformed"
	ScriptBuildError     Kind = "script_build_error"
	WitnessAssemblyError Kind = "witness_assembly_error"
	TreeFull             Kind = "tree_full"
	TreeIndexOutOfRange  Kind = "tree_index_out_of_range"
	RpcError             Kind = "rpc_error"
	ConsensusError       Kind = "consensus_error"
	ProtocolViolation    Kind = "protocol_violation"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it. Construction errors are returned synchronously; I/O
// errors are reported to the caller; nothing in the core panics.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is a convenience constructor matching fmt.Errorf's %w pattern
// used throughout the teacher codebase, specialized to a Kind.
func Wrap(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether the first *Error found in err's chain carries the
// given Kind. Kinds of *Error values wrapped deeper inside that first
// one are not checked.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
