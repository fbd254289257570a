package bridgerr

import (
	"errors"
	"testing"
)

func TestWrapFormatsMessage(t *testing.T) {
	err := Wrap(ScriptBuildError, "script.timelock", "delta %d out of range", 70000)
	want := "script.timelock: script_build_error: delta 70000 out of range"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	inner := errors.New("boom")
	err := New(RpcError, "rpcclient.send", inner)

	if !Is(err, RpcError) {
		t.Error("Is(err, RpcError) = false, want true")
	}
	if Is(err, ConsensusError) {
		t.Error("Is(err, ConsensusError) = true, want false")
	}
}

func TestIsChecksOutermostKindOnly(t *testing.T) {
	base := New(TreeFull, "merkle.Add", nil)
	wrapped := New(ConsensusError, "operator.OnPeriodEnd", base)

	if !Is(wrapped, ConsensusError) {
		t.Error("Is(wrapped, ConsensusError) = false, want true")
	}
	// Is only checks the outermost *Error's Kind, not deeper in the
	// chain, since each layer records its own classification.
	if Is(wrapped, TreeFull) {
		t.Error("Is(wrapped, TreeFull) = true, want false")
	}
}

func TestUnwrapReturnsUnderlyingError(t *testing.T) {
	inner := errors.New("connection refused")
	err := New(RpcError, "rpcclient.send", inner)

	if got := errors.Unwrap(err); got != inner {
		t.Errorf("Unwrap() = %v, want %v", got, inner)
	}
}

func TestErrorWithNilInnerOmitsColonValue(t *testing.T) {
	err := New(TreeIndexOutOfRange, "merkle.leaf", nil)
	want := "merkle.leaf: tree_index_out_of_range"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
