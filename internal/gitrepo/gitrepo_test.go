package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cmsg/internal/object"
	"cmsg/internal/store"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *git.Repository, name, content, msg string, at int64) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, name, []byte(content), 0o644))
	_, err = wt.Add(name)
	require.NoError(t, err)

	sig := &gitobject.Signature{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		When:  time.Unix(at, 0).In(time.FixedZone("", 3600)),
	}
	h, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return h
}

func memRepo(t *testing.T) (*git.Repository, []plumbing.Hash) {
	t.Helper()
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)

	var hashes []plumbing.Hash
	for i, msg := range []string{"first\n", "second\n", "third\n"} {
		hashes = append(hashes, commitFile(t, repo, "file.txt", msg, msg, 1700000000+int64(i)*60))
	}
	return repo, hashes
}

func TestObjectsRead(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)

	want, err := repo.CommitObject(hashes[1])
	require.NoError(t, err)

	got, err := r.Objects.Read(ctx, fromHash(hashes[1]))
	require.NoError(t, err)
	assert.Equal(t, fromHash(hashes[1]), got.ID)
	assert.Equal(t, fromHash(want.TreeHash), got.Tree)
	assert.Equal(t, []object.ID{fromHash(hashes[0])}, got.Parents)
	assert.Equal(t, want.Message, got.Message)
	assert.Equal(t, want.Author.Name, got.Author.Name)
	assert.True(t, want.Author.When.Equal(got.Author.When))
	assert.Equal(t, got.ID, object.Hash(got), "re-encoding an unsigned commit reproduces its id")

	_, err = r.Objects.Read(ctx, object.ID("0123456789012345678901234567890123456789"))
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
}

func TestObjectsWrite(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)

	orig, err := r.Objects.Read(ctx, fromHash(hashes[2]))
	require.NoError(t, err)

	edited := orig.Clone()
	edited.Message = "third, reworded\n"
	id, err := r.Objects.Write(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, object.Hash(edited), id)

	again, err := r.Objects.Write(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	ok, err := r.Objects.Has(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	viaGit, err := repo.CommitObject(toHash(id))
	require.NoError(t, err)
	assert.Equal(t, "third, reworded\n", viaGit.Message)
	assert.Equal(t, hashes[1], viaGit.ParentHashes[0])
}

func TestReadSignedCommitKeepsStoredID(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)

	parent, err := repo.CommitObject(hashes[2])
	require.NoError(t, err)
	signed := &gitobject.Commit{
		Author:       parent.Author,
		Committer:    parent.Committer,
		Message:      "signed\n",
		TreeHash:     parent.TreeHash,
		ParentHashes: []plumbing.Hash{hashes[2]},
		PGPSignature: "-----BEGIN PGP SIGNATURE-----\n\nabc\n-----END PGP SIGNATURE-----\n",
	}
	enc := repo.Storer.NewEncodedObject()
	require.NoError(t, signed.Encode(enc))
	h, err := repo.Storer.SetEncodedObject(enc)
	require.NoError(t, err)

	got, err := r.Objects.Read(ctx, fromHash(h))
	require.NoError(t, err)
	assert.Equal(t, fromHash(h), got.ID)
	assert.NotEqual(t, got.ID, object.Hash(got))
	assert.Equal(t, "signed\n", got.Message)
}

func TestHead(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)

	head, err := r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "master", head.Branch)
	assert.False(t, head.Detached)
	assert.Equal(t, fromHash(hashes[2]), head.Tip)

	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hashes[1])))
	head, err = r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.True(t, head.Detached)
	assert.Equal(t, fromHash(hashes[1]), head.Tip)
	assert.Equal(t, "HEAD", head.RefName())

	id, err := r.Refs.Read(ctx, "refs/heads/master")
	require.NoError(t, err)
	assert.Equal(t, fromHash(hashes[2]), id)

	_, err = r.Refs.Read(ctx, "refs/heads/nope")
	assert.ErrorIs(t, err, store.ErrRefNotFound)

	refs, err := r.Refs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, fromHash(hashes[2]), refs["refs/heads/master"])
	assert.Equal(t, fromHash(hashes[1]), refs["HEAD"])
}

func TestUnbornHead(t *testing.T) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)
	_, err = New(repo, nil).Refs.Head(context.Background())
	assert.ErrorIs(t, err, store.ErrRefNotFound)
}

func TestResolveRevision(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)

	for spec, want := range map[string]plumbing.Hash{
		"HEAD":                  hashes[2],
		"HEAD~2":                hashes[0],
		"master^":               hashes[1],
		hashes[1].String():      hashes[1],
		hashes[0].String()[:10]: hashes[0],
	} {
		got, err := r.Refs.ResolveRevision(ctx, spec)
		require.NoError(t, err, spec)
		assert.Equal(t, fromHash(want), got, spec)
	}

	_, err := r.Refs.ResolveRevision(ctx, "nope")
	assert.Error(t, err)
}

func TestCompareAndSwapInMemory(t *testing.T) {
	ctx := context.Background()
	repo, hashes := memRepo(t)
	r := New(repo, nil)
	name := "refs/heads/master"

	err := r.Refs.CompareAndSwap(ctx, name, fromHash(hashes[1]), fromHash(hashes[0]))
	assert.ErrorIs(t, err, store.ErrStaleRef)

	require.NoError(t, r.Refs.CompareAndSwap(ctx, name, fromHash(hashes[2]), fromHash(hashes[0])))
	id, err := r.Refs.Read(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, fromHash(hashes[0]), id)
}

func TestOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	first := commitFile(t, repo, "a.txt", "a\n", "first\n", 1700000000)
	second := commitFile(t, repo, "a.txt", "b\n", "second\n", 1700000060)

	r, err := Open(filepath.Join(dir), nil)
	require.NoError(t, err)

	gitDir, err := filepath.EvalSymlinks(r.GitDir())
	require.NoError(t, err)
	wantDir, err := filepath.EvalSymlinks(filepath.Join(dir, ".git"))
	require.NoError(t, err)
	assert.Equal(t, wantDir, gitDir)
	assert.Equal(t, filepath.Join(r.GitDir(), "config"), r.ConfigFile())

	head, err := r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(r.GitDir(), "refs", "heads", "master"),
		filepath.Join(r.GitDir(), "packed-refs"),
	}, r.WatchFiles(head))

	t.Run("Guard", func(t *testing.T) {
		st, err := r.Guard().Check(ctx)
		require.NoError(t, err)
		assert.True(t, st.Clean)
	})

	t.Run("Loose", func(t *testing.T) {
		err := r.Refs.CompareAndSwap(ctx, head.RefName(), fromHash(first), fromHash(first))
		assert.ErrorIs(t, err, store.ErrStaleRef)
		require.NoError(t, r.Refs.CompareAndSwap(ctx, head.RefName(), fromHash(second), fromHash(first)))
		require.NoError(t, r.Refs.CompareAndSwap(ctx, head.RefName(), fromHash(first), fromHash(second)))
	})

	t.Run("Packed", func(t *testing.T) {
		packer, ok := repo.Storer.(interface{ PackRefs() error })
		require.True(t, ok)
		require.NoError(t, packer.PackRefs())
		name := plumbing.ReferenceName(head.RefName())
		assert.False(t, r.Refs.looseExists(name))

		// A stale swap is decided under the lock against packed-refs and
		// leaves no empty loose file behind.
		err := r.Refs.swap(name, fromHash(first), fromHash(second))
		assert.ErrorIs(t, err, store.ErrStaleRef)
		assert.NoFileExists(t, r.Refs.refFile(name))
		id, err := r.Refs.Read(ctx, head.RefName())
		require.NoError(t, err)
		assert.Equal(t, fromHash(second), id)

		require.NoError(t, r.Refs.CompareAndSwap(ctx, head.RefName(), fromHash(second), fromHash(first)))
		id, err = r.Refs.Read(ctx, head.RefName())
		require.NoError(t, err)
		assert.Equal(t, fromHash(first), id)
	})
}

func TestLinkedWorktree(t *testing.T) {
	ctx := context.Background()
	mainDir := t.TempDir()
	repo, err := git.PlainInit(mainDir, false)
	require.NoError(t, err)
	first := commitFile(t, repo, "a.txt", "a\n", "first\n", 1700000000)
	second := commitFile(t, repo, "a.txt", "b\n", "second\n", 1700000060)

	// the layout `git worktree add ../wt -b wt` produces
	branch := plumbing.NewBranchReferenceName("wt")
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(branch, first)))
	common := filepath.Join(mainDir, ".git")
	wtGitDir := filepath.Join(common, "worktrees", "wt")
	wtDir := filepath.Join(t.TempDir(), "wt")
	require.NoError(t, os.MkdirAll(wtGitDir, 0o755))
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wtGitDir, "HEAD"), []byte("ref: refs/heads/wt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtGitDir, "commondir"), []byte("../..\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtGitDir, "gitdir"), []byte(filepath.Join(wtDir, ".git")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtDir, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0o644))

	r, err := Open(wtDir, nil)
	require.NoError(t, err)

	sameDir := func(want, got string) {
		t.Helper()
		w, err := filepath.EvalSymlinks(want)
		require.NoError(t, err)
		g, err := filepath.EvalSymlinks(got)
		require.NoError(t, err)
		assert.Equal(t, w, g)
	}
	sameDir(wtGitDir, r.GitDir())
	sameDir(common, r.CommonDir())
	sameDir(common, filepath.Dir(r.ConfigFile()))
	assert.Equal(t, "config", filepath.Base(r.ConfigFile()))

	head, err := r.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wt", head.Branch)
	assert.Equal(t, fromHash(first), head.Tip)

	files := r.WatchFiles(head)
	require.Len(t, files, 2)
	assert.FileExists(t, files[0])
	sameDir(filepath.Join(common, "refs", "heads"), filepath.Dir(files[0]))
	sameDir(common, filepath.Dir(files[1]))

	assert.Equal(t, filepath.Join(r.GitDir(), "HEAD"), r.Refs.refFile(plumbing.HEAD))

	require.NoError(t, r.Refs.CompareAndSwap(ctx, head.RefName(), fromHash(first), fromHash(second)))
	moved, err := repo.Reference(branch, false)
	require.NoError(t, err)
	assert.Equal(t, second, moved.Hash())
	assert.NoFileExists(t, filepath.Join(wtGitDir, "refs", "heads", "wt"))
}
