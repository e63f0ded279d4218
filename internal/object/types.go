// internal/object/types.go
package object

import (
	"encoding/hex"
	"fmt"
	"time"
)

// IDLength is the length of a full hex object id.
const IDLength = 40

// ID is the lowercase hex identifier of an object. It is derived from the
// object's content, never assigned.
type ID string

// ZeroID is the empty id.
const ZeroID ID = ""

func (id ID) String() string { return string(id) }

// Short returns the abbreviated form used in user-facing output.
func (id ID) Short() string {
	if len(id) <= 7 {
		return string(id)
	}
	return string(id[:7])
}

func (id ID) IsZero() bool { return id == ZeroID }

// ParseID validates a full hex id.
func ParseID(s string) (ID, error) {
	if len(s) != IDLength {
		return ZeroID, fmt.Errorf("invalid object id %q: want %d hex characters", s, IDLength)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ZeroID, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return ID(s), nil
}

// IsHex reports whether s could be a full id or an id prefix.
func IsHex(s string) bool {
	if s == "" || len(s) > IDLength {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Signature is an identity together with the moment it acted.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// Commit is an immutable node of the history graph.
type Commit struct {
	ID        ID        `json:"id"`
	Tree      ID        `json:"tree"`
	Parents   []ID      `json:"parents"`
	Author    Signature `json:"author"`
	Committer Signature `json:"committer"`
	Encoding  string    `json:"encoding,omitempty"`
	MergeTag  string    `json:"mergetag,omitempty"`
	Message   string    `json:"message"`
}

// Clone returns a deep copy without the id, ready to be modified and rehashed.
func (c *Commit) Clone() *Commit {
	out := *c
	out.ID = ZeroID
	out.Parents = append([]ID(nil), c.Parents...)
	return &out
}

// Subject is the first line of the message.
func (c *Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// Head describes the current reference: a branch or a detached pointer.
type Head struct {
	Branch   string `json:"branch,omitempty"`
	Detached bool   `json:"detached"`
	Tip      ID     `json:"tip"`
}

// HeadRef is the name of the detached head reference.
const HeadRef = "HEAD"

// BranchPrefix prefixes every branch reference name.
const BranchPrefix = "refs/heads/"

// RefName is the reference that has to be swapped to move this head.
func (h Head) RefName() string {
	if h.Detached {
		return HeadRef
	}
	return BranchPrefix + h.Branch
}

func (h Head) String() string {
	if h.Detached {
		return "detached HEAD at " + h.Tip.Short()
	}
	return h.Branch
}
