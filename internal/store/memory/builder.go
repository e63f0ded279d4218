package memory

import (
	"context"
	"fmt"
	"time"

	"cmsg/internal/object"
)

// Builder writes small histories into an Objects store for tests. Each
// commit gets its own tree id and a timestamp one minute after the previous.
type Builder struct {
	Objects *Objects
	Refs    *Refs
	clock   time.Time
	seq     int
}

func NewBuilder(branch string) *Builder {
	return &Builder{
		Objects: NewObjects(),
		Refs:    NewRefs(branch),
		clock:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("", 3600)),
	}
}

// Tree returns the tree id the builder assigns to the n-th commit.
func Tree(n int) object.ID {
	return object.ID(fmt.Sprintf("%040x", n))
}

// Commit writes a commit with the given message and parents.
func (b *Builder) Commit(message string, parents ...object.ID) *object.Commit {
	b.seq++
	b.clock = b.clock.Add(time.Minute)
	who := object.Signature{
		Name:  fmt.Sprintf("Author %d", b.seq),
		Email: fmt.Sprintf("author%d@example.com", b.seq),
		When:  b.clock,
	}
	c := &object.Commit{
		Tree:      Tree(b.seq),
		Parents:   parents,
		Author:    who,
		Committer: who,
		Message:   message,
	}
	id, err := b.Objects.Write(context.Background(), c)
	if err != nil {
		panic(err)
	}
	c.ID = id
	return c
}

// Linear writes n commits, each the parent of the next, and points the
// builder's branch at the last one.
func (b *Builder) Linear(n int) []*object.Commit {
	var (
		out    []*object.Commit
		parent []object.ID
	)
	for i := 0; i < n; i++ {
		c := b.Commit(fmt.Sprintf("commit %d\n", i), parent...)
		out = append(out, c)
		parent = []object.ID{c.ID}
	}
	if n > 0 {
		b.Refs.Set(object.BranchPrefix+b.Refs.branch, out[n-1].ID)
	}
	return out
}
