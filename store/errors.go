package store

import "errors"

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("entity not found")

// ErrDuplicateTask is returned by EnqueueTask when a PENDING or PROCESSING
// task of the requested type already exists for the Build — the
// (Build, type) uniqueness invariant (§3). Callers check for it with
// errors.Is and treat the second enqueue as a no-op.
var ErrDuplicateTask = errors.New("task of this type already pending or processing for build")
