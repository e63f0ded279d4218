// Package message obtains the replacement commit message.
package message

import (
	"context"
	"strings"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"
)

// Source yields the new message for current. It may cancel, in which case
// it returns a CancelledOrEmptyMessage error.
type Source interface {
	Acquire(ctx context.Context, current *object.Commit) (string, error)
}

// Literal is a message given up front, e.g. with -m.
type Literal string

func (l Literal) Acquire(ctx context.Context, current *object.Commit) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := Cleanup(string(l), false)
	if msg == "" {
		return "", apperrors.Cancelled("empty commit message")
	}
	return msg, nil
}

// Cleanup normalises a message the way git's default cleanup mode does:
// trailing whitespace is stripped, leading and trailing blank lines are
// dropped, runs of blank lines collapse to one and the result ends in a
// single newline. With stripComments, lines starting with '#' are removed
// first. An all-blank message becomes "".
func Cleanup(msg string, stripComments bool) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")

	var (
		b       strings.Builder
		pending bool
	)
	for _, line := range strings.Split(msg, "\n") {
		if stripComments && strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimRight(line, " \t\r\v\f")
		if line == "" {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('\n')
			pending = false
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
