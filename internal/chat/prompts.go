package chat

import "strings"

// chatPayload lays out the user-side prompt sections in a fixed label order.
func chatPayload(recent, userText string, extra ...string) string {
	parts := []string{
		"RECENT_MESSAGES:",
		defaultString(recent, "(none)"),
		"",
		"USER_MESSAGE:",
		strings.TrimSpace(userText),
	}
	parts = append(parts, extra...)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func promptAnswer(recent string, userText string, evidence string) (string, string) {
	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Assistant that answers questions about the user's video library.",
		"TASK: Answer from the transcript sources below. Do not invent content that is not in the sources.",
		"INPUTS: Recent messages, the user message, and transcript SOURCE blocks with videoId/videoTitle/timestamp/startTime.",
		"OUTPUT: A direct answer grounded in the sources.",
		"CITATIONS: When a claim comes from a source, cite it inline exactly as [<videoTitle> at <timestamp>](videoId:<videoId>:<startTime>).",
		"Example: [How Magnets Work at 10:15](videoId:abc-123:615).",
		"Use each source's own videoId, timestamp, and startTime verbatim. Never fabricate a citation.",
		"RULES: If the sources do not cover the question, say so and suggest what to ask instead. Keep the answer focused.",
	}, "\n"))

	user := chatPayload(recent, userText,
		"",
		"SOURCES:",
		defaultString(evidence, "(no search results)"),
	)

	return system, user
}

func promptFastChat(recent string, userText string) (string, string) {
	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Quick conversational assistant inside a video library app.",
		"TASK: Handle greetings, thanks, and other small talk without ceremony.",
		"INPUTS: Recent messages plus the new user message.",
		"OUTPUT: One to three sentences, matching the user's tone.",
		"RULES: Do not run searches or cite videos unless explicitly asked.",
	}, "\n"))

	return system, chatPayload(recent, userText)
}
