package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/httpx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/promptstyle"
)

// Client is the language-generation collaborator: structured JSON for
// routing decisions, plain text for answers, streamed text for live chat.
type Client interface {
	// GenerateJSON requests a response constrained to a json_schema.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateText returns a plain text completion.
	GenerateText(ctx context.Context, system string, user string) (string, error)

	// StreamText streams output deltas to onDelta and returns the full text.
	StreamText(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error)
}

// WithModel returns a client that uses the provided model for generation
// calls. Empty model or nil base returns the base unchanged.
func WithModel(base Client, model string) Client {
	model = strings.TrimSpace(model)
	if base == nil || model == "" {
		return base
	}
	if c, ok := base.(*client); ok {
		clone := *c
		clone.model = model
		return &clone
	}
	return base
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int

	temperature        *float64
	disableTemperature bool
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def, floor int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < floor {
		return def
	}
	return parsed
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	c := &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    strings.TrimRight(envOr("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:     apiKey,
		model:      envOr("OPENAI_MODEL", "gpt-5.2"),
		maxRetries: envIntOr("OPENAI_MAX_RETRIES", 4, 0),
	}
	timeoutSec := envIntOr("OPENAI_TIMEOUT_SECONDS", 180, 1)
	c.httpClient = &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}

	// OPENAI_TEMPERATURE accepts a float, or off/none/false to omit the
	// parameter entirely for models that reject it.
	temp := 0.2
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE"))); v {
	case "":
	case "off", "none", "false":
		c.disableTemperature = true
	default:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			temp = f
		}
	}
	if !c.disableTemperature {
		c.temperature = &temp
	}
	return c, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// jsonRequest builds an authenticated POST with a JSON-encoded body. Every
// endpoint this client talks to is a POST.
func (c *client) jsonRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *client) postOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	req, err := c.jsonRequest(ctx, path, body)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, nil, err
	}
	if code := resp.StatusCode; code < 200 || code >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: code, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) postJSON(ctx context.Context, path string, body any, out any) error {
	wait := time.Second
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.postOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, wait, 10*time.Second))
		c.log.Warn("openai request retrying", "path", path, "attempt", attempt+1, "max_retries", c.maxRetries, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		wait *= 2
	}
}

func (c *client) postWithTempFallback(ctx context.Context, path string, req *responsesRequest, out any) error {
	err := c.postJSON(ctx, path, req, out)
	switch {
	case err == nil:
		return nil
	case req.Temperature == nil:
		return err
	case !isUnsupportedTemperatureParam(err):
		return err
	}
	// Retry once without temperature.
	req.Temperature = nil
	return c.postJSON(ctx, path, req, out)
}

// Wording differs across OpenAI-compatible endpoints, so match loosely.
var noTempMarkers = []string{
	"unsupported parameter",
	"unknown parameter",
	"unrecognized parameter",
	"not supported",
	"does not support",
	"only the default",
	"unsupported_value",
	"invalid_request_error",
}

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if msg == "" || !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range noTempMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type responsesInput struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model string           `json:"model"`
	Input []responsesInput `json:"input"`
	Text  struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var b strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

func (c *client) newRequest(system, user string) *responsesRequest {
	req := &responsesRequest{
		Model: c.model,
		Input: []responsesInput{{Role: "system", Content: system}, {Role: "user", Content: user}},
	}
	if !c.disableTemperature && c.temperature != nil {
		req.Temperature = c.temperature
	}
	return req
}

// respond runs a Responses API call to completion and returns the assistant
// output text.
func (c *client) respond(ctx context.Context, req *responsesRequest) (string, error) {
	var resp responsesResponse
	if err := c.postWithTempFallback(ctx, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := c.newRequest(promptstyle.ApplySystem(system, "json"), user)
	req.Text.Format = map[string]any{"type": "json_schema", "name": schemaName, "schema": schema, "strict": true}

	jsonText, err := c.respond(ctx, req)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, jsonText)
	}
	return obj, nil
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	return c.respond(ctx, c.newRequest(promptstyle.ApplySystem(system, "text"), user))
}

// StreamText streams output_text deltas from the Responses API. Any
// non-empty delta is forwarded to onDelta and accumulated into the
// returned text.
func (c *client) StreamText(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error) {
	reqBody := c.newRequest(promptstyle.ApplySystem(system, "text"), user)
	reqBody.Stream = true

	openStream := func(body *responsesRequest) (*http.Response, error) {
		req, err := c.jsonRequest(ctx, "/v1/responses", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if code := resp.StatusCode; code < 200 || code >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &openAIHTTPError{StatusCode: code, Body: string(raw)}
		}
		return resp, nil
	}

	resp, err := openStream(reqBody)
	if err != nil && reqBody.Temperature != nil && isUnsupportedTemperatureParam(err) {
		reqBody.Temperature = nil
		resp, err = openStream(reqBody)
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = streamSSE(resp.Body, func(event string, data string) error {
		// "[DONE]" is the end-of-stream sentinel.
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var obj map[string]any
		if json.Unmarshal([]byte(data), &obj) != nil {
			return nil
		}

		if r, _ := obj["refusal"].(string); strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny := obj["error"]; eAny != nil {
			detail, _ := json.Marshal(eAny)
			return fmt.Errorf("openai stream error: %s", string(detail))
		}

		// The payload's type field is more reliable than the SSE event name.
		evt, _ := obj["type"].(string)
		if strings.TrimSpace(evt) == "" {
			evt = event
		}
		if !strings.Contains(evt, "output_text.delta") {
			return nil
		}
		d, _ := obj["delta"].(string)
		d = strings.TrimRight(d, "\u0000")
		if d == "" {
			return nil
		}
		full.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}
