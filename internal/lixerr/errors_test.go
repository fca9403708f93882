package lixerr

import (
	"errors"
	"testing"
)

func TestIsMatchesByKindNotIdentity(t *testing.T) {
	err := Wrap("surface.classify", KindPrivateTableAccess, errors.New("lix_internal_change"))
	if !Is(err, KindPrivateTableAccess) {
		t.Fatalf("expected Is to match KindPrivateTableAccess")
	}
	if Is(err, KindBackend) {
		t.Fatalf("did not expect Is to match KindBackend")
	}
	if !errors.Is(err, ErrPrivateTableAccess) {
		t.Fatalf("expected errors.Is to match the zero-value sentinel for the same kind")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap("op", KindBackend, nil) != nil {
		t.Fatalf("Wrap(nil) must return nil")
	}
}

func TestPlaceholderAlreadyBoundIsBindingError(t *testing.T) {
	if !Is(ErrPlaceholderAlreadyBound, KindBinding) {
		t.Fatalf("ErrPlaceholderAlreadyBound must be a BindingError")
	}
}

func TestWithRetryCarriesMetadata(t *testing.T) {
	err := WithRetry("effects.flush", errors.New("plugin apply-changes failed"), 3, "4s", false)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error")
	}
	if e.Retry == nil || e.Retry.Attempt != 3 || e.Retry.Permanent {
		t.Fatalf("retry metadata not propagated: %+v", e.Retry)
	}
}
