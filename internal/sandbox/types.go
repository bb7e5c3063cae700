package sandbox

import "time"

// Sandbox represents one isolated working copy of the repository,
// rooted at a named commit on a throwaway branch. Each sandbox is
// owned by exactly one file sub-workflow and is destroyed when that
// sub-workflow terminates, success or failure.
type Sandbox struct {
	// ID is the unique identifier for this sandbox, derived from the
	// session ID and the file being processed
	ID string

	// Path is the absolute path to the sandbox worktree
	Path string

	// Branch is the dedicated throwaway branch (sbx/{id})
	Branch string

	// BaseRef is the commit the worktree was rooted at
	BaseRef string

	// Created is when this sandbox was created
	Created time.Time
}
