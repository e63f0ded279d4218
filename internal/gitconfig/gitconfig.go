// Package gitconfig reads identity and editor settings from git-style ini
// files.
package gitconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cmsg/internal/object"

	"gopkg.in/ini.v1"
)

// Config is the merged view of the global files and the repository file;
// the repository file wins.
type Config struct {
	file   *ini.File
	getenv func(string) string
}

// GlobalFiles lists the per-user config files git consults, lowest
// precedence first.
func GlobalFiles(getenv func(string) string) []string {
	var files []string
	home := getenv("HOME")
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		files = append(files, filepath.Join(xdg, "git", "config"))
	} else if home != "" {
		files = append(files, filepath.Join(home, ".config", "git", "config"))
	}
	if home != "" {
		files = append(files, filepath.Join(home, ".gitconfig"))
	}
	return files
}

// Load merges the global files with repoFile. Missing files are skipped.
// A nil getenv means os.Getenv.
func Load(repoFile string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	sources := make([]interface{}, 0, 3)
	for _, f := range GlobalFiles(getenv) {
		sources = append(sources, f)
	}
	if repoFile != "" {
		sources = append(sources, repoFile)
	}

	opts := ini.LoadOptions{Loose: true, Insensitive: true}
	var (
		file *ini.File
		err  error
	)
	if len(sources) == 0 {
		file = ini.Empty(opts)
	} else {
		file, err = ini.LoadSources(opts, sources[0], sources[1:]...)
	}
	if err != nil {
		return nil, fmt.Errorf("loading git config: %w", err)
	}
	return &Config{file: file, getenv: getenv}, nil
}

// Get returns the value of a "section.key" setting, or "".
func (c *Config) Get(key string) string {
	section, name, ok := split(key)
	if !ok {
		return ""
	}
	return c.file.Section(section).Key(name).String()
}

// Editor returns core.editor.
func (c *Config) Editor() string {
	return c.Get("core.editor")
}

// Committer builds the current user's signature at now.
// GIT_COMMITTER_NAME and GIT_COMMITTER_EMAIL take precedence over user.name
// and user.email.
func (c *Config) Committer(now time.Time) (object.Signature, error) {
	name := c.getenv("GIT_COMMITTER_NAME")
	if name == "" {
		name = c.Get("user.name")
	}
	email := c.getenv("GIT_COMMITTER_EMAIL")
	if email == "" {
		email = c.Get("user.email")
	}

	if name == "" || email == "" {
		return object.Signature{}, fmt.Errorf("committer identity unknown: set user.name and user.email")
	}
	return object.Signature{Name: name, Email: email, When: now}, nil
}

// Set writes a "section.key" value into path, creating the file if needed.
func Set(path, key, value string) error {
	section, name, ok := split(key)
	if !ok {
		return fmt.Errorf("invalid config key: %s", key)
	}

	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return err
	}
	cfg.Section(section).Key(name).SetValue(value)
	return cfg.SaveTo(path)
}

func split(key string) (string, string, bool) {
	parts := strings.SplitN(strings.ToLower(key), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
