// Package repository defines error types that are reused across the
// booking store implementations.  These sentinel values allow higher
// layers such as the state machine and handlers to distinguish between
// different failure scenarios without knowing which store is in use.
package repository

import "errors"

// ErrNotFound is returned when no booking with the requested id exists.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the booking in
// a different state than the caller expected.  The caller should re-read
// the booking and decide again; stores never retry on its behalf.
var ErrConflict = errors.New("conflict")
