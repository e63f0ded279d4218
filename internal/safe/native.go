package safe

import (
	"context"
	"errors"
	"fmt"

	"cmsg/internal/object"
	"cmsg/internal/storage"
	"cmsg/internal/store"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	refPrefix  = "ref"
	headPrefix = "head"
)

// refEntry is one row of the reference table.
type refEntry struct {
	Name   string    `json:"name"`
	Target object.ID `json:"target"`
}

func (r *refEntry) GetID() string { return r.Name }

// headEntry records what HEAD points at. The tip itself lives in the
// reference table under the head's ref name.
type headEntry struct {
	Name     string `json:"name"`
	Branch   string `json:"branch,omitempty"`
	Detached bool   `json:"detached"`
}

func (h *headEntry) GetID() string { return h.Name }

// Native is a complete history backend on a single badger database.
type Native struct {
	db      *badger.DB
	Objects *Objects
	Refs    *Refs
}

// NewNative takes ownership of db; Close closes it.
func NewNative(db *badger.DB, opts Options, logger *zap.Logger) (*Native, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := New(db, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Native{
		db:      db,
		Objects: &Objects{safe: s},
		Refs: &Refs{
			refs:   storage.NewBadgerStore(db, refPrefix),
			head:   storage.NewBadgerStore(db, headPrefix),
			logger: logger,
		},
	}, nil
}

func (n *Native) Close() error {
	return n.db.Close()
}

// Objects adapts a Safe to store.ObjectStore and store.Expander.
type Objects struct {
	safe *Safe
}

func (o *Objects) Read(ctx context.Context, id object.ID) (*object.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := o.safe.Get(id)
	if err != nil {
		return nil, err
	}
	return object.Decode(body)
}

func (o *Objects) Write(ctx context.Context, c *object.Commit) (object.ID, error) {
	if err := ctx.Err(); err != nil {
		return object.ZeroID, err
	}
	return o.safe.Put(object.Encode(c))
}

func (o *Objects) Has(ctx context.Context, id object.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return o.safe.Exists(id)
}

func (o *Objects) Expand(ctx context.Context, prefix string) (object.ID, error) {
	ids, err := o.safe.Scan(prefix)
	if err != nil {
		return object.ZeroID, err
	}
	switch len(ids) {
	case 0:
		return object.ZeroID, fmt.Errorf("%w: %s", store.ErrObjectNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return object.ZeroID, fmt.Errorf("%w: %s matches %d objects", store.ErrAmbiguousID, prefix, len(ids))
	}
}

// Refs is the badger reference table. It implements store.RefStore.
type Refs struct {
	refs   *storage.BadgerStore
	head   *storage.BadgerStore
	logger *zap.Logger
}

func (r *Refs) Head(ctx context.Context) (object.Head, error) {
	var h headEntry
	if err := r.head.Get(object.HeadRef, &h); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return object.Head{}, fmt.Errorf("%w: %s", store.ErrRefNotFound, object.HeadRef)
		}
		return object.Head{}, err
	}

	head := object.Head{Branch: h.Branch, Detached: h.Detached}
	tip, err := r.Read(ctx, head.RefName())
	if err != nil {
		return object.Head{}, err
	}
	head.Tip = tip
	return head, nil
}

func (r *Refs) Read(ctx context.Context, name string) (object.ID, error) {
	var e refEntry
	if err := r.refs.Get(name, &e); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return object.ZeroID, fmt.Errorf("%w: %s", store.ErrRefNotFound, name)
		}
		return object.ZeroID, err
	}
	return e.Target, nil
}

// CompareAndSwap runs the comparison and the write in one badger
// transaction. A missing reference compares equal to the zero id.
func (r *Refs) CompareAndSwap(ctx context.Context, name string, expected, next object.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var cur refEntry
	err := r.refs.CompareAndSwap(&cur, func(found bool) error {
		have := object.ZeroID
		if found {
			have = cur.Target
		}
		if have != expected {
			return fmt.Errorf("%w: %s is %s, expected %s", store.ErrStaleRef, name, have.Short(), expected.Short())
		}
		return nil
	}, &refEntry{Name: name, Target: next})
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %v", store.ErrStaleRef, err)
	}
	if err != nil {
		return err
	}

	r.logger.Debug("moved reference",
		zap.String("ref", name),
		zap.String("from", expected.String()),
		zap.String("to", next.String()))
	return nil
}

// Set points name at id unconditionally. Used when creating or importing
// a repository.
func (r *Refs) Set(ctx context.Context, name string, id object.ID) error {
	return r.refs.Put(&refEntry{Name: name, Target: id})
}

// SetHead makes branch the current head, or detaches it.
func (r *Refs) SetHead(ctx context.Context, branch string, detached bool) error {
	return r.head.Put(&headEntry{Name: object.HeadRef, Branch: branch, Detached: detached})
}

// List returns every reference.
func (r *Refs) List(ctx context.Context) (map[string]object.ID, error) {
	var entries []refEntry
	if err := r.refs.List(&entries); err != nil {
		return nil, err
	}
	out := make(map[string]object.ID, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Target
	}
	return out, nil
}
