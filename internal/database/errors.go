package database

import "errors"

// Storage errors. Callers classify with errors.Is; every operation wraps the
// matching sentinel so context survives alongside the category.
var (
	// ErrOpen means the backing store could not be created or opened.
	ErrOpen = errors.New("could not open swap database")
	// ErrSerialize means a key or value could not be encoded or decoded.
	ErrSerialize = errors.New("could not serialize database value")
	// ErrFlush means a write could not be made durable. The prior record is
	// still intact; the write must not be considered committed.
	ErrFlush = errors.New("could not flush swap database")
	// ErrConflict means the stored value changed between read and write.
	// Two concurrent owners of one swap ID is a broken invariant, not a
	// retry scenario: do not retry without re-reading state.
	ErrConflict = errors.New("stored swap changed concurrently, aborting save")
	// ErrNotFound means no entry exists for the requested swap ID.
	ErrNotFound = errors.New("swap id not found in database")
)

// Role mismatch errors returned by SwapRecord downcasts and by the strict
// per-role enumerations.
var (
	ErrNotInitiator = errors.New("record is not in the initiator role")
	ErrNotResponder = errors.New("record is not in the responder role")
)
