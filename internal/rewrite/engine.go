// Package rewrite recomputes a commit chain with one message replaced and
// swaps the head reference to the result.
package rewrite

import (
	"context"
	"fmt"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"
	"cmsg/internal/store"

	"go.uber.org/zap"
)

// Input is everything a rewrite depends on.
type Input struct {
	// Chain runs from the target (first) to the tip (last) in topological order.
	Chain []*object.Commit
	// Message replaces the target's message.
	Message string
	// Committer identifies the person editing; When is the rewrite time.
	Committer object.Signature
}

// Result describes the rewritten chain.
type Result struct {
	Target  object.ID
	OldTip  object.ID
	NewTip  object.ID
	Mapping map[object.ID]object.ID
	// Created lists the new ids in the order they were written.
	Created []object.ID
}

// Engine rewrites history against an object store and nothing else.
type Engine struct {
	objects store.ObjectStore
	logger  *zap.Logger
}

func NewEngine(objects store.ObjectStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{objects: objects, logger: logger}
}

// Rewrite gives the target its new message and rehashes every descendant in
// the chain. Existing objects are never modified; parents outside the chain
// are referenced unchanged.
func (e *Engine) Rewrite(ctx context.Context, in Input) (*Result, error) {
	if len(in.Chain) == 0 {
		return nil, apperrors.CorruptObjectGraph("empty rewrite chain", nil)
	}
	if err := e.checkParents(ctx, in.Chain); err != nil {
		return nil, err
	}

	target := in.Chain[0]
	tip := in.Chain[len(in.Chain)-1]
	res := &Result{
		Target:  target.ID,
		OldTip:  tip.ID,
		Mapping: make(map[object.ID]object.ID, len(in.Chain)),
		Created: make([]object.ID, 0, len(in.Chain)),
	}

	for i, c := range in.Chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := c.Clone()
		if i == 0 {
			// The new message is UTF-8 whatever the old one was.
			next.Message = in.Message
			next.Encoding = ""
			next.Committer = in.Committer
		} else {
			for j, p := range next.Parents {
				if mapped, ok := res.Mapping[p]; ok {
					next.Parents[j] = mapped
				}
			}
		}

		id, err := e.objects.Write(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("writing rewritten commit for %s: %w", c.ID.Short(), err)
		}
		res.Mapping[c.ID] = id
		res.Created = append(res.Created, id)

		e.logger.Debug("rewrote commit",
			zap.String("old", c.ID.String()),
			zap.String("new", id.String()),
			zap.Int("parents", len(next.Parents)))
	}

	res.NewTip = res.Mapping[tip.ID]
	return res, nil
}

// checkParents verifies that the chain is topologically ordered and that
// every parent it refers to outside itself is present, before anything is
// written.
func (e *Engine) checkParents(ctx context.Context, chain []*object.Commit) error {
	inChain := make(map[object.ID]bool, len(chain))
	for _, c := range chain {
		inChain[c.ID] = true
	}

	seen := make(map[object.ID]bool, len(chain))
	for _, c := range chain {
		for _, p := range c.Parents {
			if inChain[p] {
				if !seen[p] {
					return apperrors.CorruptObjectGraph(
						fmt.Sprintf("commit %s precedes its parent %s in the rewrite chain", c.ID.Short(), p.Short()), nil)
				}
				continue
			}
			ok, err := e.objects.Has(ctx, p)
			if err != nil {
				return fmt.Errorf("checking parent %s: %w", p.Short(), err)
			}
			if !ok {
				return apperrors.CorruptObjectGraph(
					fmt.Sprintf("commit %s refers to missing parent %s", c.ID.Short(), p.Short()),
					store.ErrObjectNotFound)
			}
		}
		seen[c.ID] = true
	}
	return nil
}
