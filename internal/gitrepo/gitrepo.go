// Package gitrepo is the history backend for ordinary git repositories,
// built on go-git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cmsg/internal/object"
	"cmsg/internal/store"
	"cmsg/internal/workspace"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	gitstorage "github.com/go-git/go-git/v5/storage"
	"go.uber.org/zap"
)

// Repository wraps a go-git repository as a pair of stores.
type Repository struct {
	Objects *Objects
	Refs    *Refs

	repo   *git.Repository
	logger *zap.Logger
}

// Open finds the repository containing path.
func Open(path string, logger *zap.Logger) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", path, err)
	}
	return New(repo, logger), nil
}

func New(repo *git.Repository, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{repo: repo, logger: logger}
	r.Objects = &Objects{repo: repo, logger: logger}
	r.Refs = &Refs{repo: repo, gitDir: r.GitDir(), commonDir: r.CommonDir(), logger: logger}
	return r
}

// Guard checks the repository's worktree.
func (r *Repository) Guard() workspace.Guard {
	return workspace.NewGitGuard(r.repo, r.logger)
}

// GitDir is the on-disk git directory, or "" for repositories not backed by
// the filesystem.
func (r *Repository) GitDir() string {
	fs, ok := r.repo.Storer.(interface{ Filesystem() billy.Filesystem })
	if !ok {
		return ""
	}
	return fs.Filesystem().Root()
}

// CommonDir is the git directory shared by all worktrees. It differs from
// GitDir only inside a linked worktree, where GitDir is
// .git/worktrees/<name> and holds little more than HEAD.
func (r *Repository) CommonDir() string {
	dir := r.GitDir()
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, "commondir"))
	if err != nil {
		return dir
	}
	common := strings.TrimSpace(string(data))
	if common == "" {
		return dir
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(dir, common)
	}
	return filepath.Clean(common)
}

// Root is the top of the worktree, or "" for bare repositories.
func (r *Repository) Root() string {
	wt, err := r.repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}

// ConfigFile is the repository-local config file.
func (r *Repository) ConfigFile() string {
	if dir := r.CommonDir(); dir != "" {
		return filepath.Join(dir, "config")
	}
	return ""
}

// WatchFiles lists the files whose change means head may have moved.
func (r *Repository) WatchFiles(head object.Head) []string {
	if r.GitDir() == "" {
		return nil
	}
	return []string{
		r.Refs.refFile(plumbing.ReferenceName(head.RefName())),
		filepath.Join(r.CommonDir(), "packed-refs"),
	}
}

func toHash(id object.ID) plumbing.Hash {
	return plumbing.NewHash(string(id))
}

func fromHash(h plumbing.Hash) object.ID {
	return object.ID(h.String())
}

// Objects reads and writes commit objects through the go-git storer.
type Objects struct {
	repo   *git.Repository
	logger *zap.Logger
}

// Read returns the commit stored under id. Headers the commit model does
// not carry (signatures) are dropped, and the commit keeps its stored id.
func (o *Objects) Read(ctx context.Context, id object.ID) (*object.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := o.repo.Storer.EncodedObject(plumbing.CommitObject, toHash(id))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id.Short(), err)
	}

	rd, err := enc.Reader()
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id.Short(), err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id.Short(), err)
	}

	c, dropped, err := object.DecodeStored(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id.Short(), err)
	}
	if len(dropped) > 0 {
		o.logger.Debug("dropped unsupported headers",
			zap.String("id", id.String()),
			zap.Strings("headers", dropped))
	}
	return c, nil
}

// Write stores the canonical encoding of c verbatim.
func (o *Objects) Write(ctx context.Context, c *object.Commit) (object.ID, error) {
	if err := ctx.Err(); err != nil {
		return object.ZeroID, err
	}

	body := object.Encode(c)
	id := object.HashEncoded(body)
	if err := o.repo.Storer.HasEncodedObject(toHash(id)); err == nil {
		return id, nil
	}

	enc := o.repo.Storer.NewEncodedObject()
	enc.SetType(plumbing.CommitObject)
	enc.SetSize(int64(len(body)))
	w, err := enc.Writer()
	if err != nil {
		return object.ZeroID, fmt.Errorf("encoding %s: %w", id.Short(), err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return object.ZeroID, fmt.Errorf("encoding %s: %w", id.Short(), err)
	}
	if err := w.Close(); err != nil {
		return object.ZeroID, fmt.Errorf("encoding %s: %w", id.Short(), err)
	}

	h, err := o.repo.Storer.SetEncodedObject(enc)
	if err != nil {
		return object.ZeroID, fmt.Errorf("storing %s: %w", id.Short(), err)
	}
	if got := fromHash(h); got != id {
		return object.ZeroID, fmt.Errorf("stored object hashed to %s, expected %s", got, id)
	}
	return id, nil
}

func (o *Objects) Has(ctx context.Context, id object.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := o.repo.Storer.HasEncodedObject(toHash(id))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Refs reads and moves git references.
type Refs struct {
	repo      *git.Repository
	gitDir    string
	commonDir string
	logger    *zap.Logger
}

func (r *Refs) Head(ctx context.Context) (object.Head, error) {
	ref, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return object.Head{}, r.refErr(plumbing.HEAD, err)
	}

	if ref.Type() != plumbing.SymbolicReference {
		return object.Head{Detached: true, Tip: fromHash(ref.Hash())}, nil
	}

	branch := ref.Target()
	tip, err := r.repo.Storer.Reference(branch)
	if err != nil {
		return object.Head{}, r.refErr(branch, err)
	}
	return object.Head{Branch: branch.Short(), Tip: fromHash(tip.Hash())}, nil
}

func (r *Refs) Read(ctx context.Context, name string) (object.ID, error) {
	ref, err := storer.ResolveReference(r.repo.Storer, plumbing.ReferenceName(name))
	if err != nil {
		return object.ZeroID, r.refErr(plumbing.ReferenceName(name), err)
	}
	return fromHash(ref.Hash()), nil
}

// CompareAndSwap moves name from expected to next. The old value is
// re-checked under go-git's lock on the loose reference file, falling back
// to packed-refs when the ref has no loose file yet.
func (r *Refs) CompareAndSwap(ctx context.Context, name string, expected, next object.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	refName := plumbing.ReferenceName(name)
	cur, err := r.repo.Storer.Reference(refName)
	if err != nil {
		return r.refErr(refName, err)
	}
	if cur.Type() != plumbing.HashReference || fromHash(cur.Hash()) != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", store.ErrStaleRef, name, cur.Hash().String()[:7], expected.Short())
	}

	if err := r.swap(refName, expected, next); err != nil {
		return err
	}

	r.logger.Debug("moved reference",
		zap.String("ref", name),
		zap.String("from", expected.String()),
		zap.String("to", next.String()))
	return nil
}

// List returns every hash reference, with HEAD resolved.
func (r *Refs) List(ctx context.Context) (map[string]object.ID, error) {
	iter, err := r.repo.Storer.IterReferences()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]object.ID)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			out[ref.Name().String()] = fromHash(ref.Hash())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if head, err := r.Head(ctx); err == nil {
		out[object.HeadRef] = head.Tip
	}
	return out, nil
}

// ResolveRevision understands git's revision grammar (HEAD~2, tags, short
// ids and so on).
func (r *Refs) ResolveRevision(ctx context.Context, spec string) (object.ID, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(spec))
	if err != nil {
		return object.ZeroID, fmt.Errorf("resolving %q: %w", spec, err)
	}
	return fromHash(*h), nil
}

// swap is the locked part of CompareAndSwap. go-git creates the loose file
// before comparing, so a failed swap of a packed-only ref leaves an empty
// file behind that git would report as a broken ref; it is removed.
func (r *Refs) swap(name plumbing.ReferenceName, expected, next object.ID) error {
	loose := r.looseExists(name)
	err := r.repo.Storer.CheckAndSetReference(
		plumbing.NewHashReference(name, toHash(next)),
		plumbing.NewHashReference(name, toHash(expected)),
	)
	if err != nil && !loose {
		r.removeEmptyLoose(name)
	}
	if errors.Is(err, gitstorage.ErrReferenceHasChanged) {
		return fmt.Errorf("%w: %s", store.ErrStaleRef, name)
	}
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	return nil
}

// refFile is where go-git keeps the loose file for name: HEAD and other
// top-level refs in the worktree's own git directory, refs/ in the shared
// one.
func (r *Refs) refFile(name plumbing.ReferenceName) string {
	s := name.String()
	dir := r.commonDir
	if !strings.HasPrefix(s, "refs/") {
		dir = r.gitDir
	}
	return filepath.Join(dir, filepath.FromSlash(s))
}

func (r *Refs) looseExists(name plumbing.ReferenceName) bool {
	if r.gitDir == "" {
		// Non-filesystem storers have no loose files.
		return true
	}
	_, err := os.Stat(r.refFile(name))
	return err == nil
}

func (r *Refs) removeEmptyLoose(name plumbing.ReferenceName) {
	if r.gitDir == "" {
		return
	}
	path := r.refFile(name)
	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("could not remove empty reference file", zap.String("path", path), zap.Error(err))
		}
	}
}

func (r *Refs) refErr(name plumbing.ReferenceName, err error) error {
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("%w: %s", store.ErrRefNotFound, name)
	}
	return fmt.Errorf("reading %s: %w", name, err)
}
