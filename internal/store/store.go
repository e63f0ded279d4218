// Package store declares the two narrow capabilities every history backend
// provides: content-addressed commit storage and compare-and-swap references.
package store

import (
	"context"
	"errors"

	"cmsg/internal/object"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrRefNotFound    = errors.New("reference not found")
	ErrStaleRef       = errors.New("reference does not hold the expected value")
	ErrAmbiguousID    = errors.New("ambiguous object id prefix")
)

// ObjectStore is append-only storage of immutable commits keyed by their id.
type ObjectStore interface {
	// Read returns the commit stored under id or ErrObjectNotFound.
	Read(ctx context.Context, id object.ID) (*object.Commit, error)
	// Write stores c and returns its derived id. Writing an object that
	// already exists is a no-op.
	Write(ctx context.Context, c *object.Commit) (object.ID, error)
	Has(ctx context.Context, id object.ID) (bool, error)
}

// RefStore holds the current tip of each reference.
type RefStore interface {
	Head(ctx context.Context) (object.Head, error)
	Read(ctx context.Context, name string) (object.ID, error)
	// CompareAndSwap points name at next only if it currently points at
	// expected, otherwise it returns ErrStaleRef and changes nothing.
	CompareAndSwap(ctx context.Context, name string, expected, next object.ID) error
}

// Expander is implemented by object stores that can complete an id prefix.
type Expander interface {
	Expand(ctx context.Context, prefix string) (object.ID, error)
}

// RevisionResolver is implemented by backends that understand a richer
// revision grammar than the generic one.
type RevisionResolver interface {
	ResolveRevision(ctx context.Context, spec string) (object.ID, error)
}

// RefLister is implemented by reference stores that can enumerate every
// reference they hold.
type RefLister interface {
	List(ctx context.Context) (map[string]object.ID, error)
}
