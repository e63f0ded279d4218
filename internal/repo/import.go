package repo

import (
	"context"
	"fmt"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"

	"go.uber.org/zap"
)

// ImportResult summarises a copy into a native repository.
type ImportResult struct {
	Head    object.Head
	Commits int
	// Remapped counts commits whose id changed because they carried
	// headers the native store does not keep (signatures).
	Remapped int
}

const (
	unseen = iota
	inProgress
	done
)

type importFrame struct {
	id     object.ID
	commit *object.Commit
	next   int
}

// Import copies every ancestor of src's head into r, parents before
// children, and points r's head at the same branch. r must be native.
func (r *Repository) Import(ctx context.Context, src *Repository) (*ImportResult, error) {
	if r.native == nil {
		return nil, fmt.Errorf("import target must be a native repository")
	}

	head, err := src.Refs.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading source head: %w", err)
	}

	var (
		state   = make(map[object.ID]int)
		mapping = make(map[object.ID]object.ID)
		stack   = []importFrame{{id: head.Tip}}
		res     = &ImportResult{}
	)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := &stack[len(stack)-1]

		if top.commit == nil {
			c, err := src.Objects.Read(ctx, top.id)
			if err != nil {
				return nil, apperrors.CorruptObjectGraph(fmt.Sprintf("reading %s", top.id.Short()), err)
			}
			top.commit = c
			state[top.id] = inProgress
		}

		if top.next < len(top.commit.Parents) {
			p := top.commit.Parents[top.next]
			top.next++
			switch state[p] {
			case unseen:
				stack = append(stack, importFrame{id: p})
			case inProgress:
				return nil, apperrors.CorruptObjectGraph(fmt.Sprintf("cycle through commit %s", p.Short()), nil)
			}
			continue
		}

		c := top.commit.Clone()
		for i, p := range c.Parents {
			c.Parents[i] = mapping[p]
		}
		id, err := r.Objects.Write(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", top.id.Short(), err)
		}
		if id != top.id {
			res.Remapped++
		}
		mapping[top.id] = id
		state[top.id] = done
		res.Commits++
		if res.Commits%1000 == 0 {
			r.logger.Info("importing", zap.Int("commits", res.Commits))
		}
		stack = stack[:len(stack)-1]
	}

	res.Head = object.Head{Branch: head.Branch, Detached: head.Detached, Tip: mapping[head.Tip]}
	if err := r.native.Refs.Set(ctx, res.Head.RefName(), res.Head.Tip); err != nil {
		return nil, fmt.Errorf("setting %s: %w", res.Head.RefName(), err)
	}
	if err := r.native.Refs.SetHead(ctx, res.Head.Branch, res.Head.Detached); err != nil {
		return nil, fmt.Errorf("setting head: %w", err)
	}

	r.logger.Info("imported history",
		zap.Int("commits", res.Commits),
		zap.Int("remapped", res.Remapped),
		zap.String("head", res.Head.String()))
	return res, nil
}
