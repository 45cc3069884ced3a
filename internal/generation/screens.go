package generation

import (
	"regexp"
	"strings"
)

// ParsedScreen is one mockup screen extracted from a builder response.
type ParsedScreen struct {
	Name string
	HTML string
}

// screenFencePattern matches the opening of a screen code block:
// ```html screen:<Name>
var screenFencePattern = regexp.MustCompile("(?m)^```html\\s+screen:([A-Za-z0-9_\\- ]+)\\s*$")

// ParseScreens extracts the named screen blocks from a builder response.
// Text outside the fences (explanations, navigation notes) is returned as
// the remaining narrative.
func ParseScreens(response string) (screens []ParsedScreen, narrative string) {
	var narrativeParts []string
	rest := response

	for {
		loc := screenFencePattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			narrativeParts = append(narrativeParts, rest)
			break
		}

		narrativeParts = append(narrativeParts, rest[:loc[0]])
		name := strings.TrimSpace(rest[loc[2]:loc[3]])
		body := rest[loc[1]:]

		end := strings.Index(body, "\n```")
		if end < 0 {
			// Unterminated fence: take everything that is left.
			screens = append(screens, ParsedScreen{Name: name, HTML: strings.TrimSpace(body)})
			break
		}

		screens = append(screens, ParsedScreen{
			Name: name,
			HTML: strings.TrimSpace(body[:end]),
		})
		rest = body[end+len("\n```"):]
	}

	narrative = strings.TrimSpace(strings.Join(narrativeParts, ""))
	return screens, narrative
}
