package chat

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain"
)

// formatRecent renders up to limit messages as "[seq] role: content" lines,
// oldest first, for the prompt's conversation context.
func formatRecent(msgs []*types.ChatMessage, limit int) string {
	if len(msgs) == 0 {
		return ""
	}
	// msgs may arrive DESC; normalize to ASC.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		lines = append(lines, "["+strconv.FormatInt(m.Seq, 10)+"] "+strings.TrimSpace(m.Role)+": "+trimToChars(content, 800))
	}
	return strings.Join(lines, "\n")
}

// trimToChars caps s at n runes, appending an ellipsis when it truncates.
func trimToChars(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	if r := []rune(s); len(r) > n {
		return strings.TrimSpace(string(r[:n])) + "..."
	}
	return s
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// threadVideoIDs reads the optional "video_ids" scope from thread metadata.
// Absent or malformed metadata means the thread searches the whole library.
func threadVideoIDs(t *types.ChatThread) []string {
	if t == nil || len(t.Metadata) == 0 {
		return nil
	}
	var meta struct {
		VideoIDs []string `json:"video_ids"`
	}
	if err := json.Unmarshal(t.Metadata, &meta); err != nil {
		return nil
	}
	out := make([]string, 0, len(meta.VideoIDs))
	for _, id := range meta.VideoIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
