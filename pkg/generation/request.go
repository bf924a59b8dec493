// Package generation drives one website generation against the backend,
// over either a unary HTTP call or a streaming WebSocket channel.
package generation

import (
	"fmt"
	"strings"

	"github.com/alantheprice/webforge/pkg/utils"
)

// OutputKind selects what the backend generates.
type OutputKind string

const (
	KindHTML    OutputKind = "html"
	KindCSS     OutputKind = "css"
	KindReact   OutputKind = "react"
	KindEnhance OutputKind = "enhance"
	KindFix     OutputKind = "fix"
)

// Kinds lists every supported output kind.
var Kinds = []OutputKind{KindHTML, KindCSS, KindReact, KindEnhance, KindFix}

// ParseKind validates a user-supplied output kind.
func ParseKind(s string) (OutputKind, error) {
	k := OutputKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown output kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k OutputKind) Valid() bool {
	switch k {
	case KindHTML, KindCSS, KindReact, KindEnhance, KindFix:
		return true
	}
	return false
}

// Field is the one completion data field that carries the generated body for k.
func (k OutputKind) Field() string {
	switch k {
	case KindEnhance:
		return "enhanced_code"
	case KindFix:
		return "fixed_code"
	default:
		return string(k)
	}
}

// Endpoint is the unary endpoint path for k, relative to the API base URL.
func (k OutputKind) Endpoint() string {
	switch k {
	case KindEnhance:
		return "/enhance"
	case KindFix:
		return "/fix"
	default:
		return "/generate/" + string(k)
	}
}

// StatusLabel is the progress message announced when a generation of kind k starts.
func (k OutputKind) StatusLabel() string {
	switch k {
	case KindHTML:
		return "Generating HTML..."
	case KindCSS:
		return "Generating CSS..."
	case KindReact:
		return "Generating React component..."
	case KindEnhance:
		return "Enhancing code..."
	case KindFix:
		return "Fixing code issues..."
	default:
		return "Generating..."
	}
}

// Request is one user submission.
type Request struct {
	Description            string
	ModelName              string
	Kind                   OutputKind
	AdditionalRequirements string
	// ExistingContext is prior output the request builds on: the HTML a CSS
	// generation styles, or the code an enhance/fix request rewrites.
	ExistingContext string
	// Props are the required props of a React component.
	Props []string
}

// Validate rejects requests that must never reach the network.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return utils.NewValidationError("description", "Please enter a description of the website to generate")
	}
	if !r.Kind.Valid() {
		return utils.NewValidationError("kind", fmt.Sprintf("Unknown output kind %q", r.Kind))
	}
	if strings.TrimSpace(r.ModelName) == "" {
		return utils.NewValidationError("model", "Please select a model")
	}
	if (r.Kind == KindEnhance || r.Kind == KindFix) && strings.TrimSpace(r.ExistingContext) == "" {
		return utils.NewValidationError("existing_context", fmt.Sprintf("The %s request needs existing code to work on", r.Kind))
	}
	return nil
}

// WireRequest is the JSON body shared by the unary endpoints and the stream
// initiation message. Each kind fills the fields its endpoint reads.
type WireRequest struct {
	Type                   string   `json:"type,omitempty"`
	Description            string   `json:"description,omitempty"`
	ModelName              string   `json:"model_name,omitempty"`
	AdditionalRequirements string   `json:"additional_requirements,omitempty"`
	MockupDescription      string   `json:"mockup_description,omitempty"`
	ExistingHTML           string   `json:"existing_html,omitempty"`
	ComponentDescription   string   `json:"component_description,omitempty"`
	Props                  []string `json:"props,omitempty"`
	ExistingCode           string   `json:"existing_code,omitempty"`
	EnhancementRequest     string   `json:"enhancement_request,omitempty"`
	ProblematicCode        string   `json:"problematic_code,omitempty"`
	IssuesDescription      string   `json:"issues_description,omitempty"`
}

// Wire converts r to its wire form. The stream initiation message also carries
// the type tag and the generic description.
func (r Request) Wire(stream bool) WireRequest {
	w := WireRequest{ModelName: r.ModelName}
	if stream {
		w.Type = string(r.Kind)
		w.Description = r.Description
		w.AdditionalRequirements = r.AdditionalRequirements
	}

	switch r.Kind {
	case KindHTML:
		w.Description = r.Description
		w.AdditionalRequirements = r.AdditionalRequirements
	case KindCSS:
		w.MockupDescription = r.Description
		w.ExistingHTML = r.ExistingContext
	case KindReact:
		w.ComponentDescription = r.Description
		w.Props = r.Props
	case KindEnhance:
		w.ExistingCode = r.ExistingContext
		w.EnhancementRequest = r.Description
	case KindFix:
		w.ProblematicCode = r.ExistingContext
		w.IssuesDescription = r.Description
	}
	return w
}

// Prompt returns the main instruction text regardless of which field carried it.
func (w WireRequest) Prompt(kind OutputKind) string {
	var v string
	switch kind {
	case KindCSS:
		v = w.MockupDescription
	case KindReact:
		v = w.ComponentDescription
	case KindEnhance:
		v = w.EnhancementRequest
	case KindFix:
		v = w.IssuesDescription
	}
	if strings.TrimSpace(v) == "" {
		v = w.Description
	}
	return v
}

// Context returns the prior code a request builds on, if any.
func (w WireRequest) Context(kind OutputKind) string {
	switch kind {
	case KindCSS:
		return w.ExistingHTML
	case KindEnhance:
		return w.ExistingCode
	case KindFix:
		return w.ProblematicCode
	}
	return ""
}
