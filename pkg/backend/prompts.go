package backend

import (
	"fmt"
	"strings"

	"github.com/alantheprice/webforge/pkg/generation"
)

const (
	htmlSystem = `You are an expert web developer specializing in clean, modern HTML with CSS.
When generating code:
- Use semantic HTML5 elements
- Include responsive CSS with Flexbox/Grid
- Use modern color schemes and typography
- Ensure accessibility with proper ARIA labels
- Include placeholder content that makes sense
- Generate complete, runnable code`

	cssSystem = `You are a CSS expert focused on modern, responsive design.
When creating styles:
- Use CSS Grid and Flexbox for layouts
- Implement mobile-first responsive design
- Use CSS custom properties for consistency
- Include hover effects and smooth transitions
- Use semantic class names`

	reactSystem = `You are a React developer creating functional components with hooks.
When building components:
- Use functional components with useState/useEffect hooks
- Use TypeScript types for props
- Use semantic HTML in JSX
- Include proper event handlers and state management`

	codeSystem = `You are an expert web developer who improves and repairs existing HTML, CSS and JavaScript.
Always return the complete resulting code, never a partial snippet.`
)

// BuildPrompt renders the prompt for a request of kind.
func BuildPrompt(kind generation.OutputKind, req generation.WireRequest) Prompt {
	var p Prompt
	switch kind {
	case generation.KindHTML:
		p = Prompt{System: htmlSystem, User: htmlPrompt(req.Prompt(kind), req.AdditionalRequirements)}
	case generation.KindCSS:
		p = Prompt{System: cssSystem, User: cssPrompt(req.Prompt(kind), req.Context(kind))}
	case generation.KindReact:
		p = Prompt{System: reactSystem, User: reactPrompt(req.Prompt(kind), req.Props)}
	case generation.KindEnhance:
		p = Prompt{System: codeSystem, User: enhancePrompt(req.Context(kind), req.Prompt(kind))}
	case generation.KindFix:
		p = Prompt{System: codeSystem, User: fixPrompt(req.Context(kind), req.Prompt(kind))}
	}
	p.User = forModel(p.User, req.ModelName)
	return p
}

func htmlPrompt(description, additional string) string {
	var b strings.Builder
	b.WriteString("Create a complete HTML page based on this description:\n\n")
	b.WriteString(description)
	b.WriteString("\n\n")
	if strings.TrimSpace(additional) != "" {
		b.WriteString("Additional requirements:\n")
		b.WriteString(additional)
		b.WriteString("\n\n")
	}
	b.WriteString(`Requirements:
- Use semantic HTML5 elements (header, nav, main, section, footer)
- Include responsive CSS with a mobile-first approach
- Use a modern design with a good color scheme and typography
- Add some interactive touches such as hover effects
- Use placeholder content that fits the theme
- Do not depend on external resources

Put the HTML in a ` + "```html" + ` block and the CSS in a separate ` + "```css" + ` block.`)
	return b.String()
}

func cssPrompt(mockup, existingHTML string) string {
	var b strings.Builder
	b.WriteString("Create CSS styles to match this design:\n\n")
	b.WriteString(mockup)
	if strings.TrimSpace(existingHTML) != "" {
		b.WriteString("\n\nExisting HTML structure:\n```html\n")
		b.WriteString(existingHTML)
		b.WriteString("\n```")
	}
	b.WriteString(`

Requirements:
- Modern, responsive CSS using Grid and Flexbox
- Good contrast and typography that match the design
- Hover effects and smooth transitions
- CSS custom properties for colors and spacing

Return only the CSS code in a ` + "```css" + ` block.`)
	return b.String()
}

func reactPrompt(description string, props []string) string {
	propsText := "Determine props based on the requirements"
	if len(props) > 0 {
		propsText = "Props needed: " + strings.Join(props, ", ")
	}
	return fmt.Sprintf(`Create a React functional component based on this description:

%s

%s

Requirements:
- Functional component with hooks as needed
- TypeScript interface for the props
- Semantic HTML structure
- Proper event handlers

Return the complete component in a `+"```tsx"+` block.`, description, propsText)
}

func enhancePrompt(existing, request string) string {
	return fmt.Sprintf(`Enhance this existing web code based on the following request:

Enhancement request: %s

Existing code:
`+"```"+`
%s
`+"```"+`

Requirements:
- Improve the code without breaking existing functionality
- Add the requested enhancements
- Keep the design responsive

Return the complete enhanced code in a single fenced block.`, request, existing)
}

func fixPrompt(problematic, issues string) string {
	return fmt.Sprintf(`Fix the issues in this web code:

Issues to fix: %s

Problematic code:
`+"```"+`
%s
`+"```"+`

Requirements:
- Fix all identified issues
- Keep existing functionality where possible
- Follow web standards

Return the complete fixed code in a single fenced block.`, issues, problematic)
}

// forModel shortens instructions for small models, which follow terse tasks better.
func forModel(prompt, model string) string {
	if strings.Contains(strings.ToLower(model), "3b") {
		return "Task: " + prompt + "\n\nGenerate clean, working code. Be concise but complete."
	}
	return prompt
}
