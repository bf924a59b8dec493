package artifact

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	prev := Artifact{Document: Document("<h1>Old</h1>", "")}
	next := Artifact{Document: Document("<h1>New</h1>", "")}

	d := Diff(prev, next)
	assert.Contains(t, d, "-<h1>Old</h1>\n")
	assert.Contains(t, d, "+<h1>New</h1>\n")
	assert.Contains(t, d, " <body>\n")

	added, removed := DiffStats(prev, next)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	assert.Empty(t, Diff(next, next))
}

func TestDiffFromEmpty(t *testing.T) {
	next := Artifact{Document: "a\nb\n"}
	assert.Equal(t, "+a\n+b\n", Diff(Artifact{}, next))
}

func TestDiffManyLines(t *testing.T) {
	var a, b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&a, "<li>item %d</li>\n", i)
		if i == 23 {
			b.WriteString("<li>changed</li>\n")
			continue
		}
		fmt.Fprintf(&b, "<li>item %d</li>\n", i)
	}
	prev, next := Artifact{Document: a.String()}, Artifact{Document: b.String()}

	d := Diff(prev, next)
	assert.Contains(t, d, "-<li>item 23</li>\n+<li>changed</li>\n")
	assert.Contains(t, d, " <li>item 12</li>\n")
	assert.Equal(t, 41, strings.Count(d, "\n"))

	added, removed := DiffStats(prev, next)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
}

func TestDiffRepeatedLines(t *testing.T) {
	prev := Artifact{Document: "<p>x</p>\n<p>x</p>\n"}
	next := Artifact{Document: "<p>x</p>\n<p>y</p>\n<p>x</p>\n"}
	assert.Equal(t, " <p>x</p>\n+<p>y</p>\n <p>x</p>\n", Diff(prev, next))
}
