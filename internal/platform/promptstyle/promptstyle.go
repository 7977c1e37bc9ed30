package promptstyle

import "strings"

const marker = "REWATCH_PROMPT_STYLE_V1"

// firstNonEmptyLine serves as a one-line task summary in the preamble.
func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// ApplySystem prepends a concise guidance block to system prompts. It is
// intentionally minimal to avoid changing task semantics while improving
// output discipline.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	parts := []string{
		marker,
		"You are a careful assistant for Rewatch.",
	}
	if summary := firstNonEmptyLine(base); summary != "" {
		parts = append(parts, "Task summary: "+summary)
	}
	parts = append(parts,
		"Follow the system and user instructions precisely.",
		"If an output format or schema is specified, output only that format.",
		"Ground every claim in the provided transcript excerpts; do not invent facts or citations.",
		"If information is missing from the excerpts, say so instead of guessing.",
	)
	if strings.ToLower(strings.TrimSpace(mode)) == "json" {
		parts = append(parts, "Return a single JSON object that conforms to the schema and contains no extra keys.")
	} else {
		parts = append(parts, "Be concise and structured when helpful.")
	}

	return strings.TrimSpace(strings.Join(parts, "\n") + "\n---\n" + base)
}
