// Package store owns the live session cache, one mutual-exclusion scope per
// counterpart key, and durable persistence behind a key-value Backend.
package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates no durable record exists for a key.
var ErrNotFound = errors.New("session record not found")

// Backend is the durable key-value store for serialized session records.
// Implementations must make Put atomic with respect to crashes: a failed
// write never corrupts a previously durable record.
type Backend interface {
	// Get returns the stored record for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put durably stores the record for key, replacing any previous one.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the record for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists all keys with a stored record.
	Keys(ctx context.Context) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
