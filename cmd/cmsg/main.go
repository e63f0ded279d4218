// cmd/cmsg/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"cmsg/internal/config"
	apperrors "cmsg/internal/errors"
	"cmsg/internal/logging"
	"cmsg/internal/message"
	"cmsg/internal/object"
	"cmsg/internal/repo"
	"cmsg/internal/reword"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every command shares once flags are parsed.
type app struct {
	getenv func(string) string

	repoPath   string
	backend    string
	configPath string
	logLevel   string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	a := &app{getenv: getenv}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		printError(stderr, err)
	}
	return apperrors.ExitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	var (
		msg    string
		rev    string
		dryRun bool
	)

	rootCmd := &cobra.Command{
		Use:   "cmsg",
		Short: "Edit the message of any commit on the current branch",
		Long: `cmsg rewrites the message of a commit that is an ancestor of the current
head, rebuilds every descendant on top of it and moves the branch in a single
compare-and-swap. Trees, authors and the order of history are preserved.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			var source message.Source
			if cmd.Flags().Changed("message") {
				source = message.Literal(msg)
			} else {
				configured := a.cfg.Editor
				if configured == "" {
					configured = r.Identity.Editor()
				}
				source = &message.Editor{
					Command: message.ResolveEditor(configured, a.getenv),
					Stdin:   cmd.InOrStdin(),
					Stdout:  cmd.OutOrStdout(),
					Stderr:  cmd.ErrOrStderr(),
					Logger:  a.logger,
				}
			}

			op := reword.New(operationConfig(r, a.cfg, a.logger))
			out, err := op.Run(cmd.Context(), reword.Request{
				Revision: rev,
				Message:  source,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}

			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&msg, "message", "m", "", "New commit message (skips the editor)")
	rootCmd.Flags().StringVarP(&rev, "commit", "c", "HEAD", "Commit to edit")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the rewrite without changing the repository")

	rootCmd.PersistentFlags().StringVarP(&a.repoPath, "repo", "C", ".", "Run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&a.backend, "backend", "", "Storage backend: git or native (default from config)")
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the cmsg config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose logging (same as --log-level debug)")

	rootCmd.AddCommand(newInitCmd(a), newImportCmd(a), newLogCmd(a))
	return rootCmd
}

// setup loads the config file and builds the logger.
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		path = config.Path(a.getenv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, a.verbose)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) open(ctx context.Context) (*repo.Repository, error) {
	return a.openAt(ctx, a.repoPath, repo.Backend(a.cfg.Backend))
}

func (a *app) openAt(ctx context.Context, path string, backend repo.Backend) (*repo.Repository, error) {
	r, err := repo.Open(ctx, path, repo.Options{
		Backend:   backend,
		Logger:    a.logger,
		CacheSize: a.cfg.Native.CacheSize,
		Getenv:    a.getenv,
	})
	if err != nil {
		return nil, apperrors.UnresolvableRevision("HEAD", err)
	}
	return r, nil
}

func operationConfig(r *repo.Repository, cfg *config.Config, logger *zap.Logger) reword.Config {
	rc := reword.Config{
		Objects:   r.Objects,
		Refs:      r.Refs,
		Guard:     r.Guard,
		Committer: r.Identity.Committer,
		MaxWalk:   cfg.History.MaxWalk,
		Logger:    logger,
	}
	if r.Watch != nil {
		rc.Watch = func(head object.Head) (reword.Watcher, error) {
			w, err := r.Watch(head)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	return rc
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(w, "%s %v\n", red("error:"), err)

	if paths, ok := dirtyPaths(err); ok {
		for _, p := range paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

func dirtyPaths(err error) ([]string, bool) {
	var e *apperrors.Error
	if !errors.As(err, &e) || e.Type != apperrors.ErrorTypeDirtyWorkingDirectory {
		return nil, false
	}
	paths, ok := e.Details.([]string)
	return paths, ok
}
