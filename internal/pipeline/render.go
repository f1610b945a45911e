package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"relaypoint/internal/types"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{placeholder}} occurrences in the template's subject
// and body with values from the event context. Missing or nil values render
// as an empty string; rendering itself never fails. Dotted names walk nested
// map[string]any values, e.g. {{suite.name}}.
func Render(tmpl *types.NotificationTemplate, eventContext map[string]any) types.RenderedContent {
	return types.RenderedContent{
		Subject: substitute(tmpl.SubjectTemplate, eventContext),
		Body:    substitute(tmpl.BodyTemplate, eventContext),
	}
}

func substitute(s string, eventContext map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := lookup(eventContext, name)
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	})
}

func lookup(eventContext map[string]any, name string) (any, bool) {
	parts := strings.Split(name, ".")
	current := eventContext
	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		nested, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = nested
	}
	return nil, false
}
