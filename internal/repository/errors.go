package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a guarded write lost a race with a concurrent update.
var ErrConflict = errors.New("repository: write conflict")
