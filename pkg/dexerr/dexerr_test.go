package dexerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := Newf(KindRejected, "place_order", "insufficient margin")
	wrapped := fmt.Errorf("submit: %w", err)

	if !errors.Is(wrapped, ErrRejected) {
		t.Error("expected wrapped error to match ErrRejected")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Error("did not expect match on ErrTimeout")
	}
	if KindOf(wrapped) != KindRejected {
		t.Errorf("KindOf = %s; want REJECTED", KindOf(wrapped))
	}
}

func TestRetriableAndInformational(t *testing.T) {
	tests := []struct {
		err           error
		retriable     bool
		informational bool
	}{
		{New(KindNetwork, "dial", "refused"), true, false},
		{New(KindTimeout, "info", "deadline"), true, false},
		{New(KindProtocol, "decode", "bad frame"), false, false},
		{New(KindSigning, "sign", "bad key"), false, false},
		{New(KindNotFound, "cancel", ""), false, true},
		{New(KindAlreadyTerminal, "cancel", ""), false, true},
		{errors.New("plain"), false, false},
	}

	for _, tt := range tests {
		if got := Retriable(tt.err); got != tt.retriable {
			t.Errorf("Retriable(%v) = %v; want %v", tt.err, got, tt.retriable)
		}
		if got := Informational(tt.err); got != tt.informational {
			t.Errorf("Informational(%v) = %v; want %v", tt.err, got, tt.informational)
		}
	}
}

func TestError_Format(t *testing.T) {
	err := Wrap(KindNetwork, "POST /info", errors.New("connection reset")).WithCode(502)
	want := "[NETWORK] POST /info (code 502): connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q; want %q", err.Error(), want)
	}
	if errors.Unwrap(err) == nil {
		t.Error("expected cause to be unwrappable")
	}
}

func TestFromContext(t *testing.T) {
	if e := FromContext("op", context.DeadlineExceeded); e == nil || e.Kind != KindTimeout {
		t.Errorf("deadline should map to Timeout, got %v", e)
	}
	if e := FromContext("op", context.Canceled); e == nil || e.Kind != KindClosed {
		t.Errorf("canceled should map to Closed, got %v", e)
	}
	if e := FromContext("op", errors.New("x")); e != nil {
		t.Errorf("unrelated error should map to nil, got %v", e)
	}
}
