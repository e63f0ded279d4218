package main

import (
	"fmt"
	"io"

	"cmsg/internal/diff"
	"cmsg/internal/object"
	"cmsg/internal/reword"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

const diffContext = 3

func printOutcome(w io.Writer, out *reword.Outcome) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	if !out.DryRun {
		fmt.Fprintf(w, "%s edited commit %s -> %s\n",
			green("Successfully"), yellow(out.Target.Short()), yellow(out.NewTarget.Short()))
		if n := len(out.Created); n > 1 {
			fmt.Fprintf(w, "Rewrote %s commits on %s\n", humanize.Comma(int64(n)), out.Head)
		}
		return
	}

	fmt.Fprintf(w, "Dry run: would edit commit %s -> %s on %s\n",
		yellow(out.Target.Short()), yellow(out.NewTarget.Short()), out.Head)

	result := diff.NewEngine(diffContext).Diff([]byte(out.OldMessage), []byte(out.NewMessage))
	if result.Empty() {
		fmt.Fprintln(w, "Message unchanged")
	} else {
		printDiff(w, result)
	}

	old := make(map[object.ID]object.ID, len(out.Mapping))
	for from, to := range out.Mapping {
		old[to] = from
	}
	fmt.Fprintf(w, "%s commits would be rewritten:\n", humanize.Comma(int64(len(out.Created))))
	for _, id := range out.Created {
		fmt.Fprintf(w, "  %s -> %s\n", old[id].Short(), id.Short())
	}
}

func printDiff(w io.Writer, result *diff.DiffResult) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	for _, h := range result.Hunks {
		fmt.Fprintln(w, cyan(fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)))
		for _, l := range h.Lines {
			text := l.Type.Prefix() + l.Content
			switch l.Type {
			case diff.Addition:
				text = green(text)
			case diff.Deletion:
				text = red(text)
			}
			fmt.Fprintln(w, text)
		}
	}
}
