package main

import (
	"errors"
	"testing"

	"github.com/stomperdev/stomper/internal/types"
)

func TestFinishRunMapsStatusToExitPath(t *testing.T) {
	completed := &types.SessionState{ID: "s", Status: types.SessionStatusCompleted}
	if err := finishRun(completed, false); err != nil {
		t.Errorf("completed session: err = %v, want nil", err)
	}

	// A failed session must surface through the error return so the
	// command's deferred cleanup still runs before the process exits.
	failed := &types.SessionState{
		ID:          "s",
		Status:      types.SessionStatusFailed,
		FailedFiles: []string{"a.py"},
	}
	if err := finishRun(failed, false); !errors.Is(err, errSessionFailed) {
		t.Errorf("failed session: err = %v, want errSessionFailed", err)
	}
}
