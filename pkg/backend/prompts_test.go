package backend

import (
	"strings"
	"testing"

	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name     string
		kind     generation.OutputKind
		req      generation.Request
		system   string
		contains []string
	}{
		{
			name:     "html",
			kind:     generation.KindHTML,
			req:      generation.Request{Description: "bakery", AdditionalRequirements: "pastel colors", ModelName: "gpt-oss:20b"},
			system:   htmlSystem,
			contains: []string{"bakery", "Additional requirements:\npastel colors", "```css"},
		},
		{
			name:     "css with html",
			kind:     generation.KindCSS,
			req:      generation.Request{Description: "warm", ExistingContext: "<main></main>", ModelName: "gpt-oss:20b"},
			system:   cssSystem,
			contains: []string{"warm", "Existing HTML structure:\n```html\n<main></main>\n```"},
		},
		{
			name:     "react without props",
			kind:     generation.KindReact,
			req:      generation.Request{Description: "card", ModelName: "gpt-oss:20b"},
			system:   reactSystem,
			contains: []string{"card", "Determine props based on the requirements"},
		},
		{
			name:     "fix",
			kind:     generation.KindFix,
			req:      generation.Request{Description: "layout broken", ExistingContext: "<div>", ModelName: "gpt-oss:20b"},
			system:   codeSystem,
			contains: []string{"Issues to fix: layout broken", "```\n<div>\n```"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Kind = tt.kind
			p := BuildPrompt(tt.kind, tt.req.Wire(false))
			assert.Equal(t, tt.system, p.System)
			for _, want := range tt.contains {
				assert.Contains(t, p.User, want)
			}
			assert.False(t, strings.HasPrefix(p.User, "Task: "))
		})
	}
}

func TestCSSPromptWithoutHTML(t *testing.T) {
	p := BuildPrompt(generation.KindCSS, generation.WireRequest{MockupDescription: "warm", ModelName: "x"})
	assert.NotContains(t, p.User, "Existing HTML structure")
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "Task: do it\n\nGenerate clean, working code. Be concise but complete.", forModel("do it", "llama3.2:3B"))
	assert.Equal(t, "do it", forModel("do it", "gpt-oss:20b"))
}

func TestMatchModel(t *testing.T) {
	installed := []string{"llama3.2:3b", "mistral:latest"}

	m, ok := matchModel("llama3.2:3b", installed)
	assert.True(t, ok)
	assert.Equal(t, "llama3.2:3b", m)

	m, ok = matchModel("mistral", installed)
	assert.True(t, ok)
	assert.Equal(t, "mistral:latest", m)

	_, ok = matchModel("llama3.2", installed)
	assert.False(t, ok)
}

func TestExtract(t *testing.T) {
	assert.Equal(t, map[string]string{"html": "<p/>"}, extract(generation.KindHTML, "<p/>"))
	assert.Equal(t, map[string]string{"react": "const A = () => null"}, extract(generation.KindReact, "```jsx\nconst A = () => null\n```"))
	assert.Equal(t, map[string]string{"fixed_code": "<b>x</b>"}, extract(generation.KindFix, "Fixed:\n```html\n<b>x</b>\n```"))
}

func TestModelNotInstalledError(t *testing.T) {
	err := ModelNotInstalledError("phi3", nil)
	assert.Equal(t, "Model phi3 is not installed. Install it with: ollama pull phi3", err.Error())
	assert.True(t, IsServiceError(err))
}
