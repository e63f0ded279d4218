// Package repo opens a history backend and bundles everything an edit
// needs from it.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cmsg/internal/gitconfig"
	"cmsg/internal/gitrepo"
	"cmsg/internal/object"
	"cmsg/internal/refwatch"
	"cmsg/internal/safe"
	"cmsg/internal/storage"
	"cmsg/internal/store"
	"cmsg/internal/workspace"

	"go.uber.org/zap"
)

// Backend selects the storage behind a repository.
type Backend string

const (
	BackendGit    Backend = "git"
	BackendNative Backend = "native"
)

// DirName is the directory holding a native repository.
const DirName = ".cmsg"

// DefaultBranch is the branch a new native repository starts on.
const DefaultBranch = "main"

var ErrAlreadyInitialized = errors.New("repository already initialized")

type Options struct {
	Backend   Backend
	Logger    *zap.Logger
	CacheSize int
	// Getenv overrides os.Getenv for identity lookup.
	Getenv func(string) string
}

// Repository is an open backend.
type Repository struct {
	Root     string
	Backend  Backend
	Objects  store.ObjectStore
	Refs     store.RefStore
	Guard    workspace.Guard
	Identity *gitconfig.Config
	// Watch arms a watcher on the files behind head. Nil when the backend
	// has no reference files to watch.
	Watch func(head object.Head) (*refwatch.Watcher, error)

	native *safe.Native
	logger *zap.Logger
}

// Open opens the repository containing path.
func Open(ctx context.Context, path string, opts Options) (*Repository, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch opts.Backend {
	case "", BackendGit:
		return openGit(path, opts)
	case BackendNative:
		return openNative(path, opts)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
}

func openGit(path string, opts Options) (*Repository, error) {
	g, err := gitrepo.Open(path, opts.Logger)
	if err != nil {
		return nil, err
	}

	identity, err := gitconfig.Load(g.ConfigFile(), opts.Getenv)
	if err != nil {
		return nil, err
	}

	root := g.Root()
	if root == "" {
		root = g.GitDir()
	}

	r := &Repository{
		Root:     root,
		Backend:  BackendGit,
		Objects:  g.Objects,
		Refs:     g.Refs,
		Guard:    g.Guard(),
		Identity: identity,
		logger:   opts.Logger,
	}
	if g.GitDir() != "" {
		r.Watch = func(head object.Head) (*refwatch.Watcher, error) {
			return refwatch.New(g.WatchFiles(head), opts.Logger)
		}
	}

	opts.Logger.Debug("opened git repository", zap.String("root", root))
	return r, nil
}

func openNative(path string, opts Options) (*Repository, error) {
	root, err := workspace.FindRoot(path, DirName)
	if err != nil {
		return nil, fmt.Errorf("not a native repository (run cmsg init): %w", err)
	}

	db, err := storage.InitDB(filepath.Join(root, DirName, "db"), opts.Logger)
	if err != nil {
		return nil, err
	}
	native, err := safe.NewNative(db, safe.Options{CacheSize: opts.CacheSize}, opts.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	identity, err := gitconfig.Load(ConfigFile(root), opts.Getenv)
	if err != nil {
		native.Close()
		return nil, err
	}

	opts.Logger.Debug("opened native repository", zap.String("root", root))
	return &Repository{
		Root:     root,
		Backend:  BackendNative,
		Objects:  native.Objects,
		Refs:     native.Refs,
		Guard:    workspace.Static{},
		Identity: identity,
		native:   native,
		logger:   opts.Logger,
	}, nil
}

// ConfigFile is the identity file of the native repository at root.
func ConfigFile(root string) string {
	return filepath.Join(root, DirName, "config")
}

// Init creates an empty native repository at root whose head is branch.
func Init(root, branch string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if branch == "" {
		branch = DefaultBranch
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	dir := filepath.Join(absRoot, DirName)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s directory: %w", DirName, err)
	}

	db, err := storage.InitDB(filepath.Join(dir, "db"), logger)
	if err != nil {
		return err
	}
	native, err := safe.NewNative(db, safe.Options{}, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer native.Close()

	if err := native.Refs.SetHead(context.Background(), branch, false); err != nil {
		return fmt.Errorf("setting head: %w", err)
	}
	logger.Info("initialized native repository", zap.String("root", absRoot), zap.String("branch", branch))
	return nil
}

// Close ensures proper cleanup of resources
func (r *Repository) Close() error {
	if r == nil || r.native == nil {
		return nil
	}
	if err := r.native.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
