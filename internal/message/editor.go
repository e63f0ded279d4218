package message

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "cmsg/internal/errors"
	"cmsg/internal/object"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// EditFile is the name of the file handed to the editor.
const EditFile = "CMSG_EDITMSG"

const defaultEditor = "vi"

// ResolveEditor picks the editor command: GIT_EDITOR, then configured
// (core.editor or the cmsg config), then VISUAL, then EDITOR, then vi.
func ResolveEditor(configured string, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	candidates := []string{getenv("GIT_EDITOR"), configured, getenv("VISUAL"), getenv("EDITOR")}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return defaultEditor
}

// Editor opens the current message in an external editor and returns what
// the user saved, with comment lines removed.
type Editor struct {
	// Command is split with shell quoting rules; the file path is appended.
	Command string
	// Dir holds the edit file. Empty means a fresh temporary directory.
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

func (e *Editor) Acquire(ctx context.Context, current *object.Commit) (string, error) {
	args, err := shlex.Split(e.Command)
	if err != nil {
		return "", fmt.Errorf("parsing editor command %q: %w", e.Command, err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("empty editor command")
	}

	dir := e.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "cmsg-")
		if err != nil {
			return "", fmt.Errorf("creating edit directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	path := filepath.Join(dir, EditFile)
	if err := os.WriteFile(path, []byte(template(current)), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if e.Dir != "" {
		defer os.Remove(path)
	}

	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("launching editor", zap.Strings("args", args), zap.String("file", path))

	cmd := exec.CommandContext(ctx, args[0], append(args[1:], path)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperrors.Cancelled(fmt.Sprintf("editor interrupted: %v", ctxErr))
		}
		return "", apperrors.Cancelled(fmt.Sprintf("editor %q failed: %v", args[0], err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	msg := Cleanup(string(data), true)
	if msg == "" {
		return "", apperrors.Cancelled("empty commit message")
	}
	return msg, nil
}

func template(c *object.Commit) string {
	var b strings.Builder
	b.WriteString(c.Message)
	if !strings.HasSuffix(c.Message, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n# Please enter the new commit message for %s.\n", c.ID.Short())
	b.WriteString("# Lines starting with '#' will be ignored, and an empty message\n")
	b.WriteString("# aborts the edit.\n")
	fmt.Fprintf(&b, "#\n# Author: %s <%s>\n", c.Author.Name, c.Author.Email)
	return b.String()
}
