// Package memory provides in-memory object and reference stores used by
// tests and by dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cmsg/internal/object"
	"cmsg/internal/store"
)

// Objects is a map-backed store.ObjectStore. It keeps the canonical encoding
// of every commit and decodes on read, so callers never share memory with it.
type Objects struct {
	mu      sync.RWMutex
	objects map[object.ID][]byte
}

func NewObjects() *Objects {
	return &Objects{objects: make(map[object.ID][]byte)}
}

func (s *Objects) Read(ctx context.Context, id object.ID) (*object.Commit, error) {
	s.mu.RLock()
	data, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, id)
	}
	return object.Decode(data)
}

func (s *Objects) Write(ctx context.Context, c *object.Commit) (object.ID, error) {
	data := object.Encode(c)
	id := object.HashEncoded(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		s.objects[id] = data
	}
	return id, nil
}

func (s *Objects) Has(ctx context.Context, id object.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *Objects) Expand(ctx context.Context, prefix string) (object.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expand(prefix, s.ids())
}

// Len is the number of distinct objects stored.
func (s *Objects) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Objects) ids() []object.ID {
	ids := make([]object.ID, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func expand(prefix string, ids []object.ID) (object.ID, error) {
	var match object.ID
	for _, id := range ids {
		if !strings.HasPrefix(string(id), prefix) {
			continue
		}
		if !match.IsZero() {
			return object.ZeroID, fmt.Errorf("%w: %s", store.ErrAmbiguousID, prefix)
		}
		match = id
	}
	if match.IsZero() {
		return object.ZeroID, fmt.Errorf("%w: %s", store.ErrObjectNotFound, prefix)
	}
	return match, nil
}

// Refs is a map-backed store.RefStore with a single current head.
type Refs struct {
	mu       sync.Mutex
	refs     map[string]object.ID
	branch   string
	detached bool
}

// NewRefs creates a reference store whose head is the given branch.
func NewRefs(branch string) *Refs {
	return &Refs{refs: make(map[string]object.ID), branch: branch}
}

func (r *Refs) Head(ctx context.Context) (object.Head, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := object.Head{Branch: r.branch, Detached: r.detached}
	tip, ok := r.refs[h.RefName()]
	if !ok {
		return object.Head{}, fmt.Errorf("%w: %s", store.ErrRefNotFound, h.RefName())
	}
	h.Tip = tip
	return h, nil
}

func (r *Refs) Read(ctx context.Context, name string) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.refs[name]
	if !ok {
		return object.ZeroID, fmt.Errorf("%w: %s", store.ErrRefNotFound, name)
	}
	return id, nil
}

func (r *Refs) CompareAndSwap(ctx context.Context, name string, expected, next object.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.refs[name]; current != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", store.ErrStaleRef, name, current.Short(), expected.Short())
	}
	r.refs[name] = next
	return nil
}

func (r *Refs) List(ctx context.Context) (map[string]object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]object.ID, len(r.refs))
	for name, id := range r.refs {
		out[name] = id
	}
	return out, nil
}

// Set unconditionally points name at id, as another process would.
func (r *Refs) Set(name string, id object.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[name] = id
}

// Checkout makes branch the current head.
func (r *Refs) Checkout(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branch, r.detached = branch, false
}

// Detach points a detached head at id.
func (r *Refs) Detach(id object.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
	r.refs[object.HeadRef] = id
}
