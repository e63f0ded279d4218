// Package workspace reports whether the working tree has uncommitted changes.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	apperrors "cmsg/internal/errors"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Status is the outcome of a guard check. Dirty is sorted.
type Status struct {
	Clean bool
	Dirty []string
}

// Err returns a DirtyWorkingDirectory error when the tree is not clean.
func (s Status) Err() error {
	if s.Clean {
		return nil
	}
	return apperrors.DirtyWorkingDirectory(s.Dirty)
}

func newStatus(dirty []string) Status {
	sort.Strings(dirty)
	return Status{Clean: len(dirty) == 0, Dirty: dirty}
}

// Guard inspects the working tree once, before any object is created.
type Guard interface {
	Check(ctx context.Context) (Status, error)
}

// Static is a Guard with a fixed answer. Repositories without a working
// tree use the zero value, which is always clean.
type Static struct {
	Dirty []string
}

func (s Static) Check(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	return newStatus(append([]string(nil), s.Dirty...)), nil
}

// GitGuard checks a go-git worktree. Staged, modified and untracked paths
// all count as dirty.
type GitGuard struct {
	repo   *git.Repository
	logger *zap.Logger
}

func NewGitGuard(repo *git.Repository, logger *zap.Logger) *GitGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitGuard{repo: repo, logger: logger}
}

func (g *GitGuard) Check(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	wt, err := g.repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return newStatus(nil), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("opening worktree: %w", err)
	}

	st, err := wt.Status()
	if err != nil {
		return Status{}, fmt.Errorf("computing worktree status: %w", err)
	}

	var dirty []string
	for path, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		dirty = append(dirty, path)
	}

	status := newStatus(dirty)
	g.logger.Debug("checked working tree",
		zap.Bool("clean", status.Clean),
		zap.Int("dirty", len(status.Dirty)))
	return status, nil
}

// FindRoot walks up from startDir looking for a directory containing marker
// (".git" or ".cmsg").
func FindRoot(startDir, marker string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no %s directory found above %s", marker, startDir)
}
