package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cmsg/internal/gitconfig"
	"cmsg/internal/object"
	"cmsg/internal/repo"
	"cmsg/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	var branch, name, email string

	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize an empty native repository",
		Long: `Creates a .cmsg directory holding a native object store and a head
pointing at an unborn branch. Fill it with cmsg import.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.repoPath
			if len(args) == 1 {
				dir = args[0]
			}

			if err := repo.Init(dir, branch, a.logger); err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}

			cfgFile := repo.ConfigFile(dir)
			if name != "" {
				if err := gitconfig.Set(cfgFile, "user.name", name); err != nil {
					return err
				}
			}
			if email != "" {
				if err := gitconfig.Set(cfgFile, "user.email", email); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Initialized empty cmsg repository in", dir)
			return nil
		},
	}

	initCmd.Flags().StringVar(&branch, "branch", repo.DefaultBranch, "Name of the initial branch")
	initCmd.Flags().StringVar(&name, "user-name", "", "Committer name stored in the repository config")
	initCmd.Flags().StringVar(&email, "user-email", "", "Committer email stored in the repository config")
	return initCmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <git-repo>",
		Short: "Copy the history of a git repository into the native repository",
		Long: `Copies every commit reachable from the git repository's head into the
native repository selected by --repo and points its head at the same branch.
Signed commits are stored without their signature and get new ids.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := a.openAt(cmd.Context(), a.repoPath, repo.BackendNative)
			if err != nil {
				return err
			}
			defer dst.Close()

			src, err := a.openAt(cmd.Context(), args[0], repo.BackendGit)
			if err != nil {
				return err
			}
			defer src.Close()

			res, err := dst.Import(cmd.Context(), src)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s commits onto %s at %s\n",
				green("Imported"), humanize.Comma(int64(res.Commits)), res.Head, res.Head.Tip.Short())
			if res.Remapped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s commits were re-hashed without their signature\n",
					humanize.Comma(int64(res.Remapped)))
			}
			return nil
		},
	}
}

func newLogCmd(a *app) *cobra.Command {
	var limit int

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show the first-parent history of the current head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			head, err := r.Refs.Head(ctx)
			if errors.Is(err, store.ErrRefNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No commits yet")
				return nil
			}
			if err != nil {
				return err
			}

			decorations := map[object.ID][]string{}
			if lister, ok := r.Refs.(store.RefLister); ok {
				refs, err := lister.List(ctx)
				if err != nil {
					return err
				}
				decorations = decorate(head, refs)
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			cyan := color.New(color.FgCyan).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()

			id := head.Tip
			for n := 0; !id.IsZero() && (limit <= 0 || n < limit); n++ {
				c, err := r.Objects.Read(ctx, id)
				if err != nil {
					return fmt.Errorf("reading commit %s: %w", id.Short(), err)
				}

				line := yellow(id.Short())
				if names := decorations[id]; len(names) > 0 {
					line += " " + cyan("("+strings.Join(names, ", ")+")")
				}
				line += " " + c.Subject() + " " + faint("("+humanize.Time(c.Committer.When)+")")
				fmt.Fprintln(cmd.OutOrStdout(), line)

				id = object.ZeroID
				if len(c.Parents) > 0 {
					id = c.Parents[0]
				}
			}
			return nil
		},
	}

	logCmd.Flags().IntVarP(&limit, "max-count", "n", 0, "Limit the number of commits shown")
	return logCmd
}

// decorate groups reference names by the commit they point at. The current
// branch is shown as "HEAD -> branch".
func decorate(head object.Head, refs map[string]object.ID) map[object.ID][]string {
	out := map[object.ID][]string{}
	for name, id := range refs {
		if name == object.HeadRef {
			continue
		}
		short := strings.TrimPrefix(name, object.BranchPrefix)
		if !head.Detached && short == head.Branch {
			short = "HEAD -> " + short
		}
		out[id] = append(out[id], short)
	}
	if head.Detached && !head.Tip.IsZero() {
		out[head.Tip] = append(out[head.Tip], object.HeadRef)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}
