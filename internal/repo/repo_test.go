package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cmsg/internal/gitconfig"
	"cmsg/internal/object"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func gitCommit(t *testing.T, repo *git.Repository, dir, file, msg string, at int64, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(msg), 0o644))
	_, err = wt.Add(file)
	require.NoError(t, err)

	sig := &gitobject.Signature{Name: "Ada Lovelace", Email: "ada@example.com", When: time.Unix(at, 0)}
	h, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig, Parents: parents})
	require.NoError(t, err)
	return h
}

func TestInitAndOpenNative(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, Init(root, "", nil))
	assert.ErrorIs(t, Init(root, "", nil), ErrAlreadyInitialized)
	require.NoError(t, gitconfig.Set(ConfigFile(root), "user.name", "Ada"))
	require.NoError(t, gitconfig.Set(ConfigFile(root), "user.email", "ada@example.com"))

	nested := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(nested, 0o755))
	r, err := Open(ctx, nested, Options{Backend: BackendNative, Getenv: noEnv})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, BackendNative, r.Backend)
	assert.Nil(t, r.Watch)

	st, err := r.Guard.Check(ctx)
	require.NoError(t, err)
	assert.True(t, st.Clean)

	sig, err := r.Identity.Committer(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Ada", sig.Name)

	_, err = r.Refs.Head(ctx)
	assert.Error(t, err, "a fresh repository has an unborn branch")
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, dir, Options{Backend: BackendNative})
	assert.Error(t, err)
	_, err = Open(ctx, dir, Options{Backend: BackendGit})
	assert.Error(t, err)
	_, err = Open(ctx, dir, Options{Backend: "svn"})
	assert.Error(t, err)
}

func TestOpenGit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	tip := gitCommit(t, repo, dir, "a.txt", "first\n", 1700000000)

	r, err := Open(ctx, dir, Options{Getenv: noEnv})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, BackendGit, r.Backend)
	head, err := r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, object.ID(tip.String()), head.Tip)

	require.NotNil(t, r.Watch)
	w, err := r.Watch(head)
	require.NoError(t, err)
	assert.False(t, w.Fired())
	assert.NoError(t, w.Close())
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	repo, err := git.PlainInit(src, false)
	require.NoError(t, err)

	base := gitCommit(t, repo, src, "a.txt", "base\n", 1700000000)
	left := gitCommit(t, repo, src, "a.txt", "left\n", 1700000060)
	right := gitCommit(t, repo, src, "b.txt", "right\n", 1700000120, base)
	merge := gitCommit(t, repo, src, "c.txt", "merge\n", 1700000180, left, right)

	from, err := Open(ctx, src, Options{Getenv: noEnv})
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, Init(dst, "", nil))
	to, err := Open(ctx, dst, Options{Backend: BackendNative, Getenv: noEnv})
	require.NoError(t, err)
	defer to.Close()

	res, err := to.Import(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Commits)
	assert.Equal(t, 0, res.Remapped)
	assert.Equal(t, object.Head{Branch: "master", Tip: object.ID(merge.String())}, res.Head)

	head, err := to.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Head, head)

	c, err := to.Objects.Read(ctx, object.ID(merge.String()))
	require.NoError(t, err)
	assert.Equal(t, []object.ID{object.ID(left.String()), object.ID(right.String())}, c.Parents)

	_, err = from.Import(ctx, to)
	assert.Error(t, err, "only native repositories accept imports")
}

func TestOpenGitLinkedWorktree(t *testing.T) {
	ctx := context.Background()
	mainDir := t.TempDir()
	repo, err := git.PlainInit(mainDir, false)
	require.NoError(t, err)
	tip := gitCommit(t, repo, mainDir, "a.txt", "first\n", 1700000000)

	common := filepath.Join(mainDir, ".git")
	require.NoError(t, gitconfig.Set(filepath.Join(common, "config"), "user.name", "Ada"))
	require.NoError(t, gitconfig.Set(filepath.Join(common, "config"), "user.email", "ada@example.com"))

	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("wt"), tip)))
	wtGitDir := filepath.Join(common, "worktrees", "wt")
	wtDir := filepath.Join(t.TempDir(), "wt")
	require.NoError(t, os.MkdirAll(wtGitDir, 0o755))
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wtGitDir, "HEAD"), []byte("ref: refs/heads/wt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtGitDir, "commondir"), []byte("../..\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtDir, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0o644))

	r, err := Open(ctx, wtDir, Options{Getenv: noEnv})
	require.NoError(t, err)
	defer r.Close()

	sig, err := r.Identity.Committer(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Ada", sig.Name)
	assert.Equal(t, "ada@example.com", sig.Email)

	head, err := r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wt", head.Branch)

	w, err := r.Watch(head)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, os.WriteFile(filepath.Join(common, "refs", "heads", "wt"), []byte(tip.String()+"\n"), 0o644))
	assert.Eventually(t, w.Fired, 2*time.Second, 10*time.Millisecond)
}
