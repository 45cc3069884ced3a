package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"mocksmith/internal/ai"
)

const builderSystemPrompt = `You are an expert UI engineer for Mocksmith, a platform that turns app ideas into interactive mockups.

REQUIREMENTS - ALWAYS FOLLOW:
1. Produce complete, self-contained HTML screens with inline CSS and JS
2. One fenced code block per screen, opened as ` + "```" + `html screen:<ScreenName>
3. Screens must be responsive and render standalone in an iframe
4. Never output placeholder content or TODO comments
5. Keep visual style consistent across all screens of one app

When the user message carries a design brief, implement it faithfully.`

const discussSystemPrompt = `You are a product design assistant for Mocksmith. Discuss the user's app idea, suggest screens, flows and improvements. Do not output code in discuss mode.`

const plannerSystemPrompt = `You are a senior product designer. Given an app description, write a concise design brief: the list of screens to build, the navigation between them, the color palette, and the key components of each screen. Plain text only, no code.`

const contextSelectorSystemPrompt = `You select the project files relevant to a change request. Reply with one file path per line, nothing else. Pick at most 5 files.`

// contextSelectionThreshold is the file count above which a dedicated
// selection call narrows the context instead of inlining every file.
const contextSelectionThreshold = 4

// tagPattern matches the model/provider markers a planning stage (or a
// user, manually) prefixes onto a message.
var tagPattern = regexp.MustCompile(`^\[model:\s*([^\]]+)\]\s*\[provider:\s*([^\]]+)\]\s*`)

// tagMessage prefixes content with model/provider markers so downstream
// extraction treats pipeline-planned messages and manually tagged ones
// identically.
func tagMessage(model string, provider ai.Provider, content string) string {
	return fmt.Sprintf("[model: %s] [provider: %s]\n\n%s", model, provider, content)
}

// extractTarget reads model/provider markers off the trailing user message.
// Returns the cleaned content and the requested pair, empty when untagged.
func extractTarget(content string) (cleaned, model, provider string) {
	m := tagPattern.FindStringSubmatch(content)
	if m == nil {
		return content, "", ""
	}
	return content[len(m[0]):], strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

// systemPromptFor returns the builder system prompt for the chat mode.
func systemPromptFor(mode Mode) string {
	if mode == ModeBuild {
		return builderSystemPrompt
	}
	return discussSystemPrompt
}

// planningPrompt builds the single planning-stage message from the
// conversation's trailing user request.
func planningPrompt(userRequest string) string {
	return fmt.Sprintf("App request:\n\n%s\n\nWrite the design brief.", userRequest)
}

// fileListing renders file paths for the context-selection call.
func fileListing(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}

// renderFileContext inlines the chosen files below the user request.
func renderFileContext(files map[string]string, selected []string) string {
	var b strings.Builder
	for _, path := range selected {
		content, ok := files[path]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n\nFile %s:\n```\n%s\n```", path, content)
	}
	return b.String()
}

// parseSelectedPaths reads the context-selection response: one path per
// line, unknown paths dropped.
func parseSelectedPaths(response string, files map[string]string) []string {
	var selected []string
	for _, line := range strings.Split(response, "\n") {
		path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if path == "" {
			continue
		}
		if _, ok := files[path]; ok {
			selected = append(selected, path)
		}
	}
	return selected
}

// allPaths returns every file path, sorted, for the small-project case
// where selection is skipped.
func allPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
