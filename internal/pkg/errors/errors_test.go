package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsBothChains(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := Wrap(ErrCollaborator, cause)
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("Wrap: expected ErrCollaborator in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Wrap: expected cause in chain")
	}
	if again := Wrap(ErrCollaborator, err); again != err {
		t.Fatalf("Wrap: double wrap should be a no-op")
	}
	if Wrap(ErrInput, nil) != nil {
		t.Fatalf("Wrap(nil): want=nil")
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	err := &StageError{Stage: "transcribing", Err: Wrap(ErrCollaborator, errors.New("boom"))}
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("StageError: expected ErrCollaborator in chain")
	}
	if got := Kind(err); got != ErrCollaborator {
		t.Fatalf("Kind: want=%v got=%v", ErrCollaborator, got)
	}
	if err.Error() != "transcribing: collaborator error: boom" {
		t.Fatalf("Error: got=%q", err.Error())
	}
}
