package chat

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

type toolExecResult struct {
	Evidence string
	Executed []toolExecSummary
	Skipped  []toolSkipSummary
	Metadata map[string]any
}

type toolExecSummary struct {
	ToolName   string `json:"tool_name"`
	Query      string `json:"query"`
	TotalFound int    `json:"total_found"`
	Error      string `json:"error,omitempty"`
}

type toolSkipSummary struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

var toolLevels = map[string]transcript.ChunkLevel{
	"detailed": transcript.LevelDetailed,
	"thematic": transcript.LevelThematic,
}

// executeSearchToolCalls runs routed tool calls through the search router.
// Tool failures come back inside the result envelope, never as an error, so
// the answer turn degrades to whatever evidence was gathered.
func executeSearchToolCalls(ctx context.Context, deps RespondDeps, userID string, thread *types.ChatThread, calls []toolCall) toolExecResult {
	out := toolExecResult{Metadata: map[string]any{}}
	if deps.Search == nil || len(calls) == 0 {
		return out
	}

	maxCalls := resolveChatToolMaxCalls()
	ordered := pickToolCalls(calls)
	scope := threadVideoIDs(thread)

	var evidence strings.Builder
	usedKeys := map[string]bool{}
	sourceNum := 0

	for _, call := range ordered {
		name := strings.ToLower(strings.TrimSpace(call.ToolName))
		if len(out.Executed) >= maxCalls {
			out.Skipped = append(out.Skipped, toolSkipSummary{ToolName: call.ToolName, Reason: "max_calls"})
			continue
		}
		level, ok := toolLevels[name]
		if !ok {
			out.Skipped = append(out.Skipped, toolSkipSummary{ToolName: call.ToolName, Reason: "unsupported"})
			continue
		}
		query := argString(call.Arguments, "query")
		if query == "" {
			out.Skipped = append(out.Skipped, toolSkipSummary{ToolName: call.ToolName, Reason: "missing_query"})
			continue
		}
		key := name + "|" + strings.ToLower(query)
		if usedKeys[key] {
			out.Skipped = append(out.Skipped, toolSkipSummary{ToolName: call.ToolName, Reason: "duplicate"})
			continue
		}
		usedKeys[key] = true

		videoIDs := argStringSlice(call.Arguments, "videoIds")
		if len(videoIDs) == 0 {
			videoIDs = scope
		}

		resp := deps.Search.Search(ctx, search.Request{
			Query:    query,
			UserID:   userID,
			VideoIDs: videoIDs,
			Limit:    argInt(call.Arguments, "limit"),
			Level:    level,
		})

		summary := toolExecSummary{
			ToolName:   name,
			Query:      query,
			TotalFound: resp.TotalFound,
			Error:      resp.Error,
		}
		out.Executed = append(out.Executed, summary)

		if resp.Error != "" || len(resp.Results) == 0 {
			continue
		}
		for _, r := range resp.Results {
			sourceNum++
			evidence.WriteString(fmt.Sprintf("SOURCE %d (tool=%s)\n", sourceNum, name))
			evidence.WriteString("videoId: " + r.VideoID + "\n")
			evidence.WriteString("videoTitle: " + defaultString(r.VideoTitle, "Video") + "\n")
			evidence.WriteString(fmt.Sprintf("timestamp: %s (startTime=%s)\n", r.Timestamp, trimFloat(r.StartTime)))
			evidence.WriteString("content: " + trimToChars(r.Content, 1200) + "\n\n")
		}
	}

	out.Evidence = strings.TrimSpace(evidence.String())
	out.Metadata["tool_calls"] = out.Executed
	if len(out.Skipped) > 0 {
		out.Metadata["skipped"] = out.Skipped
	}
	return out
}

func pickToolCalls(calls []toolCall) []toolCall {
	if len(calls) == 0 {
		return nil
	}
	out := append([]toolCall{}, calls...)
	// Stable sort by confidence (desc).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Confidence > out[i].Confidence {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func resolveChatToolMaxCalls() int {
	n := 2
	if v := strings.TrimSpace(os.Getenv("CHAT_TOOL_MAX_CALLS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func argStringSlice(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	v, ok := args[key]
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
	case []string:
		for _, s := range t {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func argInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch t := args[key].(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
