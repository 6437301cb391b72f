// Package engine is the embedded inverted-index engine the search core runs
// on. It exposes the primitives the lifecycle manager and query path need: a
// single writer per directory guarded by a lock marker, point-in-time
// ref-counted readers, commits carrying string user data, and an engine-native
// query tree evaluated against a reader snapshot.
package engine

import "errors"

var (
	// ErrAlreadyClosed is returned by a writer or reader used after Close.
	ErrAlreadyClosed = errors.New("engine: already closed")
	// ErrLockObtainFailed is returned when the directory's write lock marker
	// is already present.
	ErrLockObtainFailed = errors.New("engine: write lock already held")
	// ErrIndexNotFound is returned when opening a writer in append mode on a
	// directory that holds no commit.
	ErrIndexNotFound = errors.New("engine: no index commit found")
	// ErrCorruptCommit is returned when a commit file fails validation.
	ErrCorruptCommit = errors.New("engine: corrupt commit file")
	// ErrUnsupportedQuery is returned when a query variant cannot be evaluated.
	ErrUnsupportedQuery = errors.New("engine: unsupported query")
)
