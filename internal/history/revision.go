package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cmsg/internal/object"
	"cmsg/internal/store"
)

// minPrefix is the shortest id prefix accepted as a revision.
const minPrefix = 4

// resolveGeneric understands <base>[~N|^N]... where base is HEAD, a branch
// name, a full id or a unique id prefix.
func (r *Reader) resolveGeneric(ctx context.Context, spec string) (object.ID, error) {
	end := strings.IndexAny(spec, "~^")
	if end < 0 {
		end = len(spec)
	}

	id, err := r.resolveBase(ctx, spec[:end])
	if err != nil {
		return object.ZeroID, err
	}

	rest := spec[end:]
	for rest != "" {
		op := rest[0]
		rest = rest[1:]

		digits := len(rest) - len(strings.TrimLeft(rest, "0123456789"))
		n := 1
		if digits > 0 {
			if n, err = strconv.Atoi(rest[:digits]); err != nil {
				return object.ZeroID, fmt.Errorf("bad suffix in %q: %w", spec, err)
			}
			rest = rest[digits:]
		}

		switch op {
		case '~':
			for i := 0; i < n; i++ {
				if id, err = r.parent(ctx, id, 1); err != nil {
					return object.ZeroID, err
				}
			}
		case '^':
			if n == 0 {
				continue
			}
			if id, err = r.parent(ctx, id, n); err != nil {
				return object.ZeroID, err
			}
		default:
			return object.ZeroID, fmt.Errorf("bad suffix %q in %q", op, spec)
		}
	}
	return id, nil
}

func (r *Reader) resolveBase(ctx context.Context, base string) (object.ID, error) {
	if base == "" || base == object.HeadRef {
		head, err := r.refs.Head(ctx)
		if err != nil {
			return object.ZeroID, err
		}
		return head.Tip, nil
	}

	for _, name := range []string{base, object.BranchPrefix + base} {
		id, err := r.refs.Read(ctx, name)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrRefNotFound) {
			return object.ZeroID, err
		}
	}

	if !object.IsHex(base) {
		return object.ZeroID, fmt.Errorf("%w: %s", store.ErrRefNotFound, base)
	}
	if len(base) == object.IDLength {
		return object.ID(base), nil
	}
	if len(base) < minPrefix {
		return object.ZeroID, fmt.Errorf("id prefix %q shorter than %d characters", base, minPrefix)
	}
	exp, ok := r.objects.(store.Expander)
	if !ok {
		return object.ZeroID, fmt.Errorf("object store cannot expand id prefix %q", base)
	}
	return exp.Expand(ctx, base)
}

// parent returns the n-th (1-based) parent of id.
func (r *Reader) parent(ctx context.Context, id object.ID, n int) (object.ID, error) {
	c, err := r.objects.Read(ctx, id)
	if err != nil {
		return object.ZeroID, err
	}
	if n > len(c.Parents) {
		return object.ZeroID, fmt.Errorf("commit %s has no parent %d", id.Short(), n)
	}
	return c.Parents[n-1], nil
}
