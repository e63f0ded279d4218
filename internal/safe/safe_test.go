package safe

import (
	"context"
	"strings"
	"testing"
	"time"

	"cmsg/internal/object"
	"cmsg/internal/storage"
	"cmsg/internal/store"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNative(t *testing.T) *Native {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	n, err := NewNative(db, Options{CacheSize: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func commit(msg string, parents ...object.ID) *object.Commit {
	who := object.Signature{Name: "Ada Lovelace", Email: "ada@example.com", When: time.Unix(1700000000, 0).In(time.FixedZone("", 3600))}
	return &object.Commit{
		Tree:      "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		Parents:   parents,
		Author:    who,
		Committer: who,
		Message:   msg,
	}
}

func TestObjects(t *testing.T) {
	ctx := context.Background()
	n := newNative(t)

	root := commit("initial\n")
	id, err := n.Objects.Write(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, object.ID("fbdb8d388a148abdd9f4a5d0cc0c96f86cbd118d"), id)

	again, err := n.Objects.Write(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	got, err := n.Objects.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "initial\n", got.Message)

	ok, err := n.Objects.Has(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	missing := object.ID(strings.Repeat("a", object.IDLength))
	ok, err = n.Objects.Has(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = n.Objects.Read(ctx, missing)
	assert.ErrorIs(t, err, store.ErrObjectNotFound)

	full, err := n.Objects.Expand(ctx, string(id[:6]))
	require.NoError(t, err)
	assert.Equal(t, id, full)
	_, err = n.Objects.Expand(ctx, "ffff")
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
}

func TestLargeObjectsAreCompressed(t *testing.T) {
	ctx := context.Background()
	n := newNative(t)

	big := commit(strings.Repeat("a long and repetitive commit body line\n", 200))
	id, err := n.Objects.Write(ctx, big)
	require.NoError(t, err)

	var raw []byte
	require.NoError(t, n.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	}))
	assert.True(t, isCompressed(raw))
	assert.Less(t, len(raw), len(object.Encode(big)))

	// Bypass the cache so the value is decompressed and verified.
	n.Objects.safe.cache.Purge()
	got, err := n.Objects.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, big.Message, got.Message)
}

func TestCorruptObjectIsRejected(t *testing.T) {
	ctx := context.Background()
	n := newNative(t)

	id, err := n.Objects.Write(ctx, commit("initial\n"))
	require.NoError(t, err)
	require.NoError(t, n.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(id), object.Encode(commit("tampered\n")))
	}))
	n.Objects.safe.cache.Purge()

	_, err = n.Objects.Read(ctx, id)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRefs(t *testing.T) {
	ctx := context.Background()
	n := newNative(t)
	a := object.ID(strings.Repeat("a", object.IDLength))
	b := object.ID(strings.Repeat("b", object.IDLength))

	_, err := n.Refs.Head(ctx)
	assert.ErrorIs(t, err, store.ErrRefNotFound)

	require.NoError(t, n.Refs.SetHead(ctx, "main", false))
	_, err = n.Refs.Head(ctx)
	assert.ErrorIs(t, err, store.ErrRefNotFound)

	require.NoError(t, n.Refs.CompareAndSwap(ctx, "refs/heads/main", object.ZeroID, a))
	head, err := n.Refs.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, object.Head{Branch: "main", Tip: a}, head)

	err = n.Refs.CompareAndSwap(ctx, "refs/heads/main", b, b)
	assert.ErrorIs(t, err, store.ErrStaleRef)
	got, err := n.Refs.Read(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	require.NoError(t, n.Refs.CompareAndSwap(ctx, "refs/heads/main", a, b))
	got, err = n.Refs.Read(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	require.NoError(t, n.Refs.Set(ctx, object.HeadRef, a))
	require.NoError(t, n.Refs.SetHead(ctx, "", true))
	head, err = n.Refs.Head(ctx)
	require.NoError(t, err)
	assert.True(t, head.Detached)
	assert.Equal(t, a, head.Tip)

	refs, err := n.Refs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]object.ID{"HEAD": a, "refs/heads/main": b}, refs)
}
