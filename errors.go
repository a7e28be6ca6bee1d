package gridstore

import "github.com/snowflk/gridstore/errs"

// Error kinds surfaced by the engine, re-exported for callers. Match with
// errors.Is.
var (
	ErrValidation      = errs.ErrValidation
	ErrNotFound        = errs.ErrNotFound
	ErrConflict        = errs.ErrConflict
	ErrIndex           = errs.ErrIndex
	ErrShapeMismatch   = errs.ErrShapeMismatch
	ErrDTypeMismatch   = errs.ErrDTypeMismatch
	ErrLockTimeout     = errs.ErrLockTimeout
	ErrMemoryLimit     = errs.ErrMemoryLimit
	ErrIO              = errs.ErrIO
	ErrIntegrity       = errs.ErrIntegrity
	ErrAdapterNotFound = errs.ErrAdapterNotFound
)
