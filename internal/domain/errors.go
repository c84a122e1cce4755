// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists (idempotency key taken).
var ErrConflict = errors.New("conflict: resource already exists")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation failed")
