package repository

import "errors"

// ErrNotFound indicates an entity was not located. Callers must not be able
// to tell "missing" apart from "owned by someone else"; both surface as this.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness violation, such as a duplicate email.
var ErrConflict = errors.New("repository: conflict")

// ErrVersionMismatch indicates a guarded update lost an optimistic-concurrency
// race: the row exists but its stored version differs from the expected one.
var ErrVersionMismatch = errors.New("repository: version mismatch")

// ErrUnavailable indicates the backing store could not be reached or timed
// out. The operation is not retried internally; callers decide.
var ErrUnavailable = errors.New("repository: store unavailable")
