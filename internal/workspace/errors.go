package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a URI has no file in the sandbox.
	ErrNotFound = errors.New("file not found in workspace")

	// ErrNotImported is returned by queries issued before ImportProject.
	ErrNotImported = errors.New("project not imported")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workspace closed")
)

// SyncError reports a failed mirror of a client path. The sandbox keeps its
// previous content for that path.
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to sync %s: %s", e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ProjectLoadError reports a failed project import.
type ProjectLoadError struct {
	Root string
	Err  error
}

func (e *ProjectLoadError) Error() string {
	return fmt.Sprintf("failed to load project %s: %s", e.Root, e.Err)
}

func (e *ProjectLoadError) Unwrap() error { return e.Err }

// RefreshError reports one integration that failed to refresh.
type RefreshError struct {
	Integration string
	Err         error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s refresh failed: %s", e.Integration, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
