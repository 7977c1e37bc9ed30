package zeroentropy

import "strings"

const collectionPrefix = "yt_transcripts_"

// CollectionForUser maps a user identifier to that user's collection name.
// The mapping is deterministic so fetch-or-create flows always land on the
// same collection, and the id is sanitized because collection names reject
// characters that are legal in identifiers elsewhere.
func CollectionForUser(userID string) string {
	var b strings.Builder
	b.WriteString(collectionPrefix)
	for _, r := range strings.TrimSpace(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
