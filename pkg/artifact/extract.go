package artifact

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)\r?\n?```")

// Block returns the first fenced code block tagged with one of langs, or ""
// when the response has none. Tags are matched case-insensitively.
func Block(response string, langs ...string) string {
	for _, m := range fenceRe.FindAllStringSubmatch(response, -1) {
		tag := strings.ToLower(m[1])
		for _, lang := range langs {
			if tag == lang {
				return strings.TrimSpace(m[2])
			}
		}
	}
	return ""
}

// ExtractCode splits a model response into HTML and CSS. When the model did not
// use fenced blocks the whole response is taken as HTML with embedded styles.
func ExtractCode(response string) (htmlCode, cssCode string) {
	htmlCode = Block(response, "html")
	cssCode = Block(response, "css")

	if htmlCode == "" && cssCode == "" {
		return strings.TrimSpace(response), ""
	}
	if htmlCode == "" && strings.Contains(strings.ToLower(response), "<html") {
		htmlCode = strings.TrimSpace(response)
	}
	return htmlCode, cssCode
}

// ExtractSingle returns the fenced block for one of langs, falling back to any
// untagged block and then to the whole response.
func ExtractSingle(response string, langs ...string) string {
	if code := Block(response, langs...); code != "" {
		return code
	}
	if code := Block(response, ""); code != "" {
		return code
	}
	return strings.TrimSpace(response)
}
