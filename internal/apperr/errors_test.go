package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("diary: update: %w", NotFound("diary", "diary-1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is(ErrNotFound)")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatal("expected errors.As(*NotFoundError)")
	}
	if nf.Kind != "diary" || nf.ID != "diary-1" {
		t.Errorf("got %+v", nf)
	}
	if errors.Is(err, ErrConflict) {
		t.Error("must not match ErrConflict")
	}
}

func TestInvalid(t *testing.T) {
	if Invalid(nil) != nil {
		t.Error("Invalid(nil) should be nil")
	}
	err := Invalid(errors.New("title: cannot be blank"))
	if !errors.Is(err, ErrInvalid) {
		t.Error("expected errors.Is(ErrInvalid)")
	}
}
