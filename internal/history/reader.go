// Package history reads the parts of the commit graph an edit needs.
package history

import (
	"context"
	"errors"
	"fmt"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"
	"cmsg/internal/store"

	"go.uber.org/zap"
)

// Reader resolves revisions and walks ancestry over a pair of stores.
type Reader struct {
	objects store.ObjectStore
	refs    store.RefStore
	logger  *zap.Logger

	// MaxWalk bounds the number of commits visited by AncestryChain.
	// Zero means unbounded.
	MaxWalk int
}

func NewReader(objects store.ObjectStore, refs store.RefStore, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{objects: objects, refs: refs, logger: logger}
}

// CurrentHead reports the current branch (or detached pointer) and its tip.
func (r *Reader) CurrentHead(ctx context.Context) (object.Head, error) {
	head, err := r.refs.Head(ctx)
	if err != nil {
		return object.Head{}, fmt.Errorf("reading head: %w", err)
	}
	return head, nil
}

// Resolve turns a revision specifier into the commit it names. An empty
// specifier names the current tip.
func (r *Reader) Resolve(ctx context.Context, spec string) (*object.Commit, error) {
	if spec == "" {
		spec = object.HeadRef
	}

	var (
		id  object.ID
		err error
	)
	if rr, ok := r.refs.(store.RevisionResolver); ok {
		id, err = rr.ResolveRevision(ctx, spec)
	} else {
		id, err = r.resolveGeneric(ctx, spec)
	}
	if err != nil {
		var typed *apperrors.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, apperrors.UnresolvableRevision(spec, err)
	}

	c, err := r.objects.Read(ctx, id)
	if errors.Is(err, store.ErrObjectNotFound) {
		return nil, apperrors.UnresolvableRevision(spec, err)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id.Short(), err)
	}

	r.logger.Debug("resolved revision", zap.String("spec", spec), zap.String("id", id.String()))
	return c, nil
}

// AncestryChain returns every commit that lies on a parent path from tip
// down to target, target first and tip last, with each commit after all of
// its parents in the chain. The parents of target are known not to reach it,
// so side branches that fork below target stop there.
func (r *Reader) AncestryChain(ctx context.Context, targetID, tipID object.ID) ([]*object.Commit, error) {
	w := &walk{
		ctx:      ctx,
		objects:  r.objects,
		target:   targetID,
		limit:    r.MaxWalk,
		reaches:  make(map[object.ID]bool),
		visiting: make(map[object.ID]bool),
	}

	target, err := w.read(targetID)
	if err != nil {
		return nil, err
	}
	w.targetCommit = target
	for _, p := range target.Parents {
		w.reaches[p] = false
	}

	ok, err := w.visit(tipID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotAnAncestor(targetID.Short(), tipID.Short())
	}

	r.logger.Debug("collected ancestry chain",
		zap.String("target", targetID.String()),
		zap.String("tip", tipID.String()),
		zap.Int("length", len(w.out)),
		zap.Int("visited", w.visited))
	return w.out, nil
}

// walk is a memoised post-order DFS over parent links. A commit is emitted
// after its parents, and only if target is reachable from it.
type walk struct {
	ctx          context.Context
	objects      store.ObjectStore
	target       object.ID
	targetCommit *object.Commit
	limit        int
	visited      int
	reaches      map[object.ID]bool
	visiting     map[object.ID]bool
	out          []*object.Commit
}

// read loads one commit and counts it against the walk limit.
func (w *walk) read(id object.ID) (*object.Commit, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}
	if w.limit > 0 && w.visited >= w.limit {
		return nil, apperrors.NotAnAncestor(w.target.Short(), id.Short())
	}
	w.visited++

	c, err := w.objects.Read(w.ctx, id)
	if errors.Is(err, store.ErrObjectNotFound) {
		return nil, apperrors.CorruptObjectGraph(fmt.Sprintf("missing commit %s", id.Short()), err)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id.Short(), err)
	}
	return c, nil
}

func (w *walk) visit(id object.ID) (bool, error) {
	if done, ok := w.reaches[id]; ok {
		return done, nil
	}
	if w.visiting[id] {
		return false, apperrors.CorruptObjectGraph(fmt.Sprintf("cycle through commit %s", id.Short()), nil)
	}

	if id == w.target {
		w.reaches[id] = true
		w.out = append(w.out, w.targetCommit)
		return true, nil
	}

	c, err := w.read(id)
	if err != nil {
		return false, err
	}

	w.visiting[id] = true
	reaches := false
	for _, p := range c.Parents {
		ok, err := w.visit(p)
		if err != nil {
			return false, err
		}
		reaches = reaches || ok
	}
	delete(w.visiting, id)

	w.reaches[id] = reaches
	if reaches {
		w.out = append(w.out, c)
	}
	return reaches, nil
}
