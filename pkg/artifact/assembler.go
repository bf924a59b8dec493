// Package artifact turns a completed generation into a self-contained,
// previewable HTML document.
package artifact

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/utils"
)

// DefaultTitle is the <title> of every assembled shell.
const DefaultTitle = "Generated Website"

// Artifact is the output of one successful generation. The zero value is the
// empty artifact shown before anything has been generated.
type Artifact struct {
	Kind generation.OutputKind `json:"kind,omitempty"`
	// HTML is the body markup that was wrapped into Document.
	HTML string `json:"html"`
	CSS  string `json:"css"`
	// Source is the generated code as returned, before any wrapping.
	Source   string `json:"source"`
	Document string `json:"document"`
}

// IsEmpty reports whether a is the empty artifact.
func (a Artifact) IsEmpty() bool {
	return a.Document == ""
}

// Assemble builds the artifact for a completion. It fails only when the
// canonical field for the event's kind is missing; companions default to empty.
// The result depends only on ev.
func Assemble(ev generation.CompleteEvent) (Artifact, error) {
	primary := ev.Payload.Primary
	if strings.TrimSpace(primary) == "" {
		return Artifact{}, utils.NewProtocolError(
			fmt.Sprintf("Backend response is missing the %q field", ev.Kind.Field()), nil).
			WithComponent("artifact").WithOperation("assemble")
	}

	a := Artifact{Kind: ev.Kind, Source: primary}
	switch ev.Kind {
	case generation.KindCSS:
		a.CSS = primary
		a.HTML = ev.ExistingContext
	case generation.KindReact:
		a.HTML = "<pre><code>" + html.EscapeString(primary) + "</code></pre>"
		a.CSS = ev.Payload.Companion("css")
	default:
		// html, enhance and fix all return markup.
		a.HTML = primary
		a.CSS = ev.Payload.Companion("css")
	}
	a.Document = Document(a.HTML, a.CSS)
	return a, nil
}

var (
	fullDocumentRe = regexp.MustCompile(`(?i)^\s*(<!doctype\s+html|<html[\s>])`)
	headCloseRe    = regexp.MustCompile(`(?i)</head\s*>`)
	bodyOpenRe     = regexp.MustCompile(`(?i)<body[\s>]`)
)

// IsFullDocument reports whether body already carries its own html shell.
func IsFullDocument(body string) bool {
	return fullDocumentRe.MatchString(body)
}

// Document wraps body and css into a standalone HTML document. A body that is
// already a full document is not wrapped again; css is injected before its
// closing head tag.
func Document(body, css string) string {
	body = strings.TrimSpace(body)
	css = strings.TrimSpace(css)

	if IsFullDocument(body) {
		return injectStyle(body, css)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString("<html lang=\"en\">\n")
	b.WriteString("<head>\n")
	b.WriteString("<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	b.WriteString("<title>" + DefaultTitle + "</title>\n")
	b.WriteString(styleBlock(css))
	b.WriteString("</head>\n")
	b.WriteString("<body>\n")
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	b.WriteString("</body>\n")
	b.WriteString("</html>\n")
	return b.String()
}

func styleBlock(css string) string {
	return "<style>\n" + css + "\n</style>\n"
}

func injectStyle(doc, css string) string {
	if css == "" {
		return doc + "\n"
	}
	if loc := headCloseRe.FindStringIndex(doc); loc != nil {
		return doc[:loc[0]] + styleBlock(css) + doc[loc[0]:] + "\n"
	}
	if loc := bodyOpenRe.FindStringIndex(doc); loc != nil {
		return doc[:loc[0]] + "<head>\n" + styleBlock(css) + "</head>\n" + doc[loc[0]:] + "\n"
	}
	return styleBlock(css) + doc + "\n"
}
