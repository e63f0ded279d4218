// Package diff computes line diffs, used to show how a message changes.
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes. Starts are 1-based.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
	}
}

func splitLines(content []byte) [][]byte {
	content = bytes.TrimSuffix(content, []byte{'\n'})
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(content, []byte{'\n'})
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := e.editScript(oldLines, newLines, e.computeLCS(oldLines, newLines))

	result := &DiffResult{Hunks: e.group(script)}
	for _, l := range script {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result
}

// computeLCS returns m where m[i][j] is the length of the longest common
// subsequence of oldLines[i:] and newLines[j:].
func (e *Engine) computeLCS(oldLines, newLines [][]byte) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}

	for i := len(oldLines) - 1; i >= 0; i-- {
		for j := len(newLines) - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// editScript walks the LCS matrix forwards, preferring deletions before
// additions within a change.
func (e *Engine) editScript(oldLines, newLines [][]byte, lcs [][]int) []Line {
	var script []Line
	i, j := 0, 0
	for i < len(oldLines) || j < len(newLines) {
		switch {
		case i < len(oldLines) && j < len(newLines) && bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case i < len(oldLines) && (j == len(newLines) || lcs[i+1][j] >= lcs[i][j+1]):
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		default:
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		}
	}
	return script
}

// group cuts the script into hunks, keeping contextLines of unchanged
// lines around each change and merging hunks whose context overlaps.
func (e *Engine) group(script []Line) []Hunk {
	var hunks []Hunk
	var cur *Hunk
	lastChange := -1

	for idx, l := range script {
		if l.Type == Context {
			continue
		}

		start := max(0, idx-e.contextLines)
		if cur != nil && start <= lastChange+e.contextLines+1 {
			start = lastChange + 1
		} else {
			if cur != nil {
				hunks = append(hunks, e.closeHunk(*cur, script, lastChange))
			}
			cur = &Hunk{}
		}
		cur.Lines = append(cur.Lines, script[start:idx+1]...)
		lastChange = idx
	}
	if cur != nil {
		hunks = append(hunks, e.closeHunk(*cur, script, lastChange))
	}
	return hunks
}

func (e *Engine) closeHunk(h Hunk, script []Line, lastChange int) Hunk {
	end := min(len(script), lastChange+1+e.contextLines)
	h.Lines = append(h.Lines, script[lastChange+1:end]...)

	for _, l := range h.Lines {
		if l.Type != Addition {
			h.OldLines++
		}
		if l.Type != Deletion {
			h.NewLines++
		}
	}

	// Position of the first line; an empty side starts at the line before.
	for _, l := range h.Lines {
		if h.OldStart == 0 && l.OldNum > 0 {
			h.OldStart = l.OldNum
		}
		if h.NewStart == 0 && l.NewNum > 0 {
			h.NewStart = l.NewNum
		}
	}
	if h.OldLines == 0 {
		h.OldStart = precedingNum(script, h.Lines[0], true)
	}
	if h.NewLines == 0 {
		h.NewStart = precedingNum(script, h.Lines[0], false)
	}
	return h
}

// precedingNum is the line number on one side just before first, or 0.
func precedingNum(script []Line, first Line, old bool) int {
	n := 0
	for _, l := range script {
		if l == first {
			break
		}
		if old && l.OldNum > 0 {
			n = l.OldNum
		}
		if !old && l.NewNum > 0 {
			n = l.NewNum
		}
	}
	return n
}

// Empty reports whether the two inputs were identical.
func (r *DiffResult) Empty() bool {
	return len(r.Hunks) == 0
}

// Format returns a unified-diff style rendering of the hunks.
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			buf.WriteString(line.Type.Prefix())
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// Prefix is the marker a line of this type gets in unified output.
func (t LineType) Prefix() string {
	switch t {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	default:
		return " "
	}
}
