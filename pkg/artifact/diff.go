package artifact

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff returns a line-oriented diff from prev to next in unified style: removed
// lines start with "-", added lines with "+" and unchanged lines with " ".
// It returns "" when the documents are identical.
func Diff(prev, next Artifact) string {
	if prev.Document == next.Document {
		return ""
	}
	dmp := diffmatchpatch.New()
	var lines []string
	index := make(map[string]rune)
	a := lineRunes(prev.Document, &lines, index)
	b := lineRunes(next.Document, &lines, index)
	diffs := dmp.DiffMainRunes(a, b, false)

	var out strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, r := range d.Text {
			line := lines[lineIndex(r)]
			out.WriteString(prefix)
			out.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}
	return out.String()
}

// lineRunes encodes each line of text as one rune so the diff runs line by line.
// go-diff v1.3's DiffLinesToChars output splits multi-digit line indexes.
func lineRunes(text string, lines *[]string, index map[string]rune) []rune {
	var out []rune
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		r, ok := index[line]
		if !ok {
			r = lineRune(len(*lines))
			index[line] = r
			*lines = append(*lines, line)
		}
		out = append(out, r)
	}
	return out
}

// lineRune maps a line index to a rune outside the surrogate range, which would
// not survive the round trip through Diff.Text.
func lineRune(i int) rune {
	if i >= 0xD800 {
		return rune(i + 0x800)
	}
	return rune(i)
}

func lineIndex(r rune) int {
	if r >= 0xE000 {
		return int(r) - 0x800
	}
	return int(r)
}

// DiffStats counts inserted and deleted lines between two artifacts.
func DiffStats(prev, next Artifact) (added, removed int) {
	for _, line := range strings.Split(Diff(prev, next), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
