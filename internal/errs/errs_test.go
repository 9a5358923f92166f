package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(TransientNetwork, "fetch klines", cause)

	if !Is(err, TransientNetwork) {
		t.Error("expected Is to match the wrapped Kind")
	}
	if Is(err, SymbolUnknown) {
		t.Error("expected Is to reject a different Kind")
	}
}

func TestIsFollowsFmtErrorfWrapping(t *testing.T) {
	base := New(InsufficientData, "window too short")
	wrapped := fmt.Errorf("handling symbol BTCUSDT: %w", base)

	if !Is(wrapped, InsufficientData) {
		t.Error("expected Is to see through an fmt.Errorf %w wrap")
	}
}

func TestKindOfReportsFalseForPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("expected KindOf to report false for an untagged error")
	}
}

func TestRetryableOnlyTransientAndRateLimited(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{TransientNetwork, true},
		{RateLimited, true},
		{SymbolUnknown, false},
		{InsufficientData, false},
		{PlanGenerationFailed, false},
		{NotAllowed, false},
		{LimitExceeded, false},
		{DatabaseError, false},
	}
	for _, tc := range cases {
		if got := Retryable(New(tc.kind, "x")); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(DatabaseError, "insert failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
