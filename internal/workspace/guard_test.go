package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "cmsg/internal/errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()

	st, err := Static{}.Check(ctx)
	require.NoError(t, err)
	assert.True(t, st.Clean)
	assert.NoError(t, st.Err())

	st, err = Static{Dirty: []string{"b.txt", "a.txt"}}.Check(ctx)
	require.NoError(t, err)
	assert.False(t, st.Clean)
	assert.Equal(t, []string{"a.txt", "b.txt"}, st.Dirty)
	assert.Equal(t, apperrors.CodeDirty, apperrors.ExitCode(st.Err()))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Static{}.Check(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hello\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README")
	require.NoError(t, err)
	_, err = wt.Commit("initial\n", &git.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return dir, repo
}

func TestGitGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("Clean", func(t *testing.T) {
		_, repo := initRepo(t)
		st, err := NewGitGuard(repo, nil).Check(ctx)
		require.NoError(t, err)
		assert.True(t, st.Clean)
		assert.Empty(t, st.Dirty)
	})

	t.Run("ModifiedAndUntracked", func(t *testing.T) {
		dir, repo := initRepo(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("changed\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))

		st, err := NewGitGuard(repo, nil).Check(ctx)
		require.NoError(t, err)
		assert.False(t, st.Clean)
		assert.Equal(t, []string{"README", "new.txt"}, st.Dirty)
		assert.True(t, apperrors.Is(st.Err(), apperrors.ErrorTypeDirtyWorkingDirectory))
	})

	t.Run("Staged", func(t *testing.T) {
		dir, repo := initRepo(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "staged.txt"), []byte("x\n"), 0o644))
		wt, err := repo.Worktree()
		require.NoError(t, err)
		_, err = wt.Add("staged.txt")
		require.NoError(t, err)

		st, err := NewGitGuard(repo, nil).Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"staged.txt"}, st.Dirty)
	})
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".cmsg"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindRoot(nested, ".cmsg")
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotReal, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotReal)

	_, err = FindRoot(nested, ".does-not-exist")
	assert.Error(t, err)
}
