package memory

import (
	"context"
	"errors"

	"cmsg/internal/object"
	"cmsg/internal/store"
)

// Overlay layers in-memory writes over a base store that is only ever read.
type Overlay struct {
	base  store.ObjectStore
	added *Objects
}

func NewOverlay(base store.ObjectStore) *Overlay {
	return &Overlay{base: base, added: NewObjects()}
}

func (o *Overlay) Read(ctx context.Context, id object.ID) (*object.Commit, error) {
	c, err := o.added.Read(ctx, id)
	if err == nil {
		return c, nil
	}
	return o.base.Read(ctx, id)
}

func (o *Overlay) Write(ctx context.Context, c *object.Commit) (object.ID, error) {
	id := object.Hash(c)
	ok, err := o.base.Has(ctx, id)
	if err != nil {
		return object.ZeroID, err
	}
	if ok {
		return id, nil
	}
	return o.added.Write(ctx, c)
}

func (o *Overlay) Has(ctx context.Context, id object.ID) (bool, error) {
	if ok, _ := o.added.Has(ctx, id); ok {
		return true, nil
	}
	return o.base.Has(ctx, id)
}

func (o *Overlay) Expand(ctx context.Context, prefix string) (object.ID, error) {
	own, ownErr := o.added.Expand(ctx, prefix)
	if errors.Is(ownErr, store.ErrAmbiguousID) {
		return object.ZeroID, ownErr
	}

	exp, ok := o.base.(store.Expander)
	if !ok {
		return own, ownErr
	}
	fromBase, baseErr := exp.Expand(ctx, prefix)
	switch {
	case ownErr == nil && baseErr == nil && own != fromBase:
		return object.ZeroID, store.ErrAmbiguousID
	case ownErr == nil:
		return own, nil
	default:
		return fromBase, baseErr
	}
}
