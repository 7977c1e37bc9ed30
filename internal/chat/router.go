package chat

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/platform/openai"
)

type routeDecision struct {
	Route     string     `json:"route"`
	ToolCalls []toolCall `json:"tool_calls"`
}

type toolCall struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Confidence float64        `json:"confidence"`
}

func resolveChatRouteModel() string {
	return strings.TrimSpace(os.Getenv("CHAT_ROUTE_MODEL"))
}

func resolveChatFastModel() string {
	return strings.TrimSpace(os.Getenv("CHAT_FAST_MODEL"))
}

func routeMessage(ctx context.Context, deps RespondDeps, thread *types.ChatThread, userText string, recent string) (routeDecision, error) {
	out := routeDecision{Route: RouteSearch}
	if deps.AI == nil || thread == nil {
		return out, nil
	}
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return out, nil
	}

	tools := allowedSearchTools()
	toolJSON := "[]"
	if b, err := json.Marshal(tools); err == nil {
		toolJSON = string(b)
	}

	scope := strings.Join(threadVideoIDs(thread), ", ")

	system := strings.TrimSpace(strings.Join([]string{
		"You route user messages for a video-library assistant.",
		"Choose one route:",
		"- search: questions about what the user's videos say, summaries, facts, timestamps, comparisons across videos",
		"- smalltalk: greetings, thanks, or casual chat that needs no video content",
		"If unsure, choose search.",
		"If route=search, include 1-2 tool calls from the allowed list.",
		"Use 'detailed' for precise facts or specific moments, 'thematic' for overviews and broad themes. Use both when the question needs facts plus context.",
		"Return ONLY JSON matching the schema.",
	}, "\n"))

	user := strings.TrimSpace(strings.Join([]string{
		"THREAD_VIDEO_SCOPE: " + defaultString(scope, "(entire library)"),
		"RECENT_MESSAGES:",
		defaultString(recent, "(none)"),
		"",
		"USER_MESSAGE:",
		userText,
		"",
		"ALLOWED_TOOLS:",
		toolJSON,
	}, "\n"))

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"route": map[string]any{
				"type": "string",
				"enum": []any{RouteSearch, RouteSmalltalk},
			},
			"tool_calls": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"tool_name":  map[string]any{"type": "string", "enum": toolNamesForSchema()},
						"arguments":  map[string]any{"type": "object"},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required": []any{"tool_name", "arguments", "confidence"},
				},
			},
		},
		"required": []any{"route", "tool_calls"},
	}

	ai := deps.AI
	if routeModel := resolveChatRouteModel(); routeModel != "" {
		ai = openai.WithModel(ai, routeModel)
	}

	obj, err := ai.GenerateJSON(ctx, system, user, "chat_route_v1", schema)
	if err != nil {
		return out, err
	}
	b, _ := json.Marshal(obj)
	_ = json.Unmarshal(b, &out)
	out.Route = strings.TrimSpace(strings.ToLower(out.Route))
	if out.Route == "" {
		out.Route = RouteSearch
	}
	return out, nil
}

func toolNamesForSchema() []any {
	tools := allowedSearchTools()
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

type searchToolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required_args"`
	Optional    []string `json:"optional_args"`
}

func allowedSearchTools() []searchToolSpec {
	return []searchToolSpec{
		{
			Name:        "detailed",
			Description: "Search fine-grained transcript chunks (30-90s) for specific facts, quotes, or moments.",
			Required:    []string{"query"},
			Optional:    []string{"videoIds", "limit"},
		},
		{
			Name:        "thematic",
			Description: "Search broad transcript chunks (5-20min) for themes, summaries, and overviews.",
			Required:    []string{"query"},
			Optional:    []string{"videoIds", "limit"},
		},
	}
}
