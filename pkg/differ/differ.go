// Package differ compares two versions of a line-oriented document, such as
// the rendered form of a source catalog.
package differ

import (
	"fmt"
	"strings"
)

// Result holds the lines present in only one version.
type Result struct {
	HasChanges bool     `json:"has_changes"`
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Unified    string   `json:"unified"`
	Stats      Stats    `json:"stats"`
}

// Stats holds counts of changes.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Lines compares two line lists as multisets: a line listed twice in old
// and once in new counts as one deletion. Blank lines are ignored and
// output keeps the input order.
func Lines(oldLines, newLines []string) Result {
	oldCount := count(oldLines)
	newCount := count(newLines)

	var removed, added []string
	for _, line := range oldLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if newCount[line] > 0 {
			newCount[line]--
			continue
		}
		removed = append(removed, line)
	}
	for _, line := range newLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if oldCount[line] > 0 {
			oldCount[line]--
			continue
		}
		added = append(added, line)
	}

	if len(added) == 0 && len(removed) == 0 {
		return Result{}
	}

	var sb strings.Builder
	sb.WriteString("--- old\n+++ new\n")
	for _, line := range removed {
		fmt.Fprintf(&sb, "-%s\n", line)
	}
	for _, line := range added {
		fmt.Fprintf(&sb, "+%s\n", line)
	}

	return Result{
		HasChanges: true,
		Added:      added,
		Removed:    removed,
		Unified:    sb.String(),
		Stats:      Stats{Additions: len(added), Deletions: len(removed)},
	}
}

// TextDiff computes a line-by-line diff between old and new text.
func TextDiff(oldText, newText string) Result {
	if oldText == newText {
		return Result{}
	}
	return Lines(strings.Split(oldText, "\n"), strings.Split(newText, "\n"))
}

func count(lines []string) map[string]int {
	m := make(map[string]int, len(lines))
	for _, l := range lines {
		m[l]++
	}
	return m
}

// Summary returns a human-readable summary of the diff.
func (d Result) Summary() string {
	if !d.HasChanges {
		return "No changes detected"
	}
	return fmt.Sprintf("%d additions, %d deletions", d.Stats.Additions, d.Stats.Deletions)
}
