// Package errs defines the error kinds surfaced by the engine. Callers match
// them with errors.Is; every deeper cause is attached by wrapping.
package errs

import "github.com/pkg/errors"

var (
	// ErrValidation reports schema or value constraints violated at
	// construction time.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports an absent collection, array or adapter resource.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a duplicate collection name or duplicate primary
	// attribute tuple.
	ErrConflict = errors.New("already exists")
	// ErrIndex reports slicing input out of range or misaligned with a
	// scale, label set or time grid.
	ErrIndex = errors.New("invalid index")
	// ErrShapeMismatch reports a buffer whose shape differs from the target
	// subset shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrDTypeMismatch reports a buffer whose element type cannot be
	// losslessly converted to the collection dtype.
	ErrDTypeMismatch = errors.New("dtype mismatch")
	// ErrLockTimeout reports a lock that was not acquired within the
	// configured window. Never retried by the engine.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrMemoryLimit reports a refused memory admission.
	ErrMemoryLimit = errors.New("memory limit exceeded")
	// ErrIO wraps adapter or filesystem failures.
	ErrIO = errors.New("i/o failure")
	// ErrIntegrity reports storage where metadata and data disagree.
	ErrIntegrity = errors.New("storage integrity violated")
	// ErrAdapterNotFound reports a URI scheme with no registered adapter.
	ErrAdapterNotFound = errors.New("storage adapter not found")
)
