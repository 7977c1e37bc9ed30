package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	temp := 0.2
	return &client{
		log:         newTestLogger(t),
		baseURL:     "https://api.openai.test",
		apiKey:      "test-key",
		model:       "gpt-5.2",
		httpClient:  &http.Client{Transport: roundTripFunc(roundTrip)},
		maxRetries:  2,
		temperature: &temp,
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func decodeRequest(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func responsesBody(text string) string {
	resp := map[string]any{
		"output": []map[string]any{
			{
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": text},
				},
			},
		},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestGenerateJSONSendsSchemaAndParsesOutput(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("method: want=POST got=%s", req.Method)
		}
		if req.URL.Path != "/v1/responses" {
			t.Fatalf("path: want=/v1/responses got=%s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization header: want=%q got=%q", "Bearer test-key", got)
		}
		captured = decodeRequest(t, req)
		return jsonResponse(http.StatusOK, responsesBody(`{"route":"search"}`)), nil
	})

	out, err := c.GenerateJSON(context.Background(), "Route the message.", "find the part about goroutines", "chat_route", map[string]any{
		"type": "object",
	})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got := out["route"]; got != "search" {
		t.Fatalf("route: want=%q got=%v", "search", got)
	}

	if got := captured["model"]; got != "gpt-5.2" {
		t.Fatalf("model: want=%q got=%v", "gpt-5.2", got)
	}
	input, ok := captured["input"].([]any)
	if !ok || len(input) != 2 {
		t.Fatalf("input: want 2 items got=%v", captured["input"])
	}
	system := input[0].(map[string]any)
	if system["role"] != "system" {
		t.Fatalf("first input role: want=system got=%v", system["role"])
	}
	content, _ := system["content"].(string)
	if !strings.Contains(content, "REWATCH_PROMPT_STYLE_V1") {
		t.Fatalf("system content missing prompt style guidance: %q", content)
	}
	if !strings.Contains(content, "Route the message.") {
		t.Fatalf("system content missing caller prompt: %q", content)
	}

	text, ok := captured["text"].(map[string]any)
	if !ok {
		t.Fatalf("text block missing: %v", captured)
	}
	format, ok := text["format"].(map[string]any)
	if !ok {
		t.Fatalf("format block missing: %v", text)
	}
	if format["type"] != "json_schema" {
		t.Fatalf("format type: want=json_schema got=%v", format["type"])
	}
	if format["name"] != "chat_route" {
		t.Fatalf("format name: want=chat_route got=%v", format["name"])
	}
	if format["strict"] != true {
		t.Fatalf("format strict: want=true got=%v", format["strict"])
	}
	if got, ok := captured["temperature"].(float64); !ok || got != 0.2 {
		t.Fatalf("temperature: want=0.2 got=%v", captured["temperature"])
	}
}

func TestGenerateJSONRequiresSchema(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", req.URL.Path)
		return nil, nil
	})

	if _, err := c.GenerateJSON(context.Background(), "s", "u", "", map[string]any{"type": "object"}); err == nil {
		t.Fatalf("expected error for empty schema name")
	}
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "name", nil); err == nil {
		t.Fatalf("expected error for nil schema")
	}
}

func TestGenerateJSONRefusal(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"output":[],"refusal":"cannot do that"}`), nil
	})

	_, err := c.GenerateJSON(context.Background(), "s", "u", "name", map[string]any{"type": "object"})
	if err == nil {
		t.Fatalf("expected refusal error")
	}
	if !strings.Contains(err.Error(), "model refused") {
		t.Fatalf("refusal error: got=%v", err)
	}
}

func TestGenerateTextRetriesServerErrors(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			resp := jsonResponse(http.StatusBadGateway, `{"error":{"message":"upstream"}}`)
			resp.Header.Set("Retry-After", "0")
			return resp, nil
		}
		return jsonResponse(http.StatusOK, responsesBody("The video covers goroutine scheduling.")), nil
	})

	got, err := c.GenerateText(context.Background(), "Answer the question.", "what is this video about?")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "The video covers goroutine scheduling." {
		t.Fatalf("text: got=%q", got)
	}
	if attempts != 2 {
		t.Fatalf("attempts: want=2 got=%d", attempts)
	}
}

func TestClientErrorsDoNotRetry(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		attempts++
		return jsonResponse(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`), nil
	})

	_, err := c.GenerateText(context.Background(), "s", "u")
	if err == nil {
		t.Fatalf("expected error")
	}
	var httpErr *openAIHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("want openAIHTTPError got=%T", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: want=401 got=%d", httpErr.StatusCode)
	}
	if attempts != 1 {
		t.Fatalf("attempts: want=1 got=%d", attempts)
	}
}

func TestTemperatureFallbackRetriesOnceWithoutIt(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		bodies = append(bodies, decodeRequest(t, req))
		if len(bodies) == 1 {
			return jsonResponse(http.StatusBadRequest,
				`{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model.","type":"invalid_request_error"}}`), nil
		}
		return jsonResponse(http.StatusOK, responsesBody("ok")), nil
	})

	got, err := c.GenerateText(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "ok" {
		t.Fatalf("text: want=%q got=%q", "ok", got)
	}
	if len(bodies) != 2 {
		t.Fatalf("requests: want=2 got=%d", len(bodies))
	}
	if _, ok := bodies[0]["temperature"]; !ok {
		t.Fatalf("first request should carry temperature: %v", bodies[0])
	}
	if _, ok := bodies[1]["temperature"]; ok {
		t.Fatalf("fallback request should drop temperature: %v", bodies[1])
	}
}

func TestStreamTextForwardsDeltas(t *testing.T) {
	stream := strings.Join([]string{
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"Hello"}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":" world"}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Accept"); got != "text/event-stream" {
			t.Fatalf("accept header: want=text/event-stream got=%q", got)
		}
		body := decodeRequest(t, req)
		if body["stream"] != true {
			t.Fatalf("stream flag: want=true got=%v", body["stream"])
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(strings.NewReader(stream)),
		}, nil
	})

	var deltas []string
	got, err := c.StreamText(context.Background(), "Answer.", "hello?", func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if got != "Hello world" {
		t.Fatalf("full text: want=%q got=%q", "Hello world", got)
	}
	if len(deltas) != 2 || deltas[0] != "Hello" || deltas[1] != " world" {
		t.Fatalf("deltas: got=%v", deltas)
	}
}

func TestStreamTextSurfacesErrorEvents(t *testing.T) {
	stream := strings.Join([]string{
		"event: error",
		`data: {"error":{"message":"boom"}}`,
		"",
	}, "\n")

	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(strings.NewReader(stream)),
		}, nil
	})

	_, err := c.StreamText(context.Background(), "s", "u", nil)
	if err == nil {
		t.Fatalf("expected stream error")
	}
	if !strings.Contains(err.Error(), "openai stream error") {
		t.Fatalf("stream error: got=%v", err)
	}
}

func TestStreamSSEJoinsMultilineDataAndSkipsComments(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive",
		"event: custom",
		"data: line one",
		"data: line two",
		"",
	}, "\n")

	var events []string
	var datas []string
	err := streamSSE(strings.NewReader(input), func(event string, data string) error {
		events = append(events, event)
		datas = append(datas, data)
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}
	if len(events) != 1 || events[0] != "custom" {
		t.Fatalf("events: got=%v", events)
	}
	if len(datas) != 1 || datas[0] != "line one\nline two" {
		t.Fatalf("datas: got=%v", datas)
	}
}

func TestWithModelClonesClient(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, responsesBody("ok")), nil
	})

	scoped := WithModel(c, "gpt-5.2-mini")
	sc, ok := scoped.(*client)
	if !ok {
		t.Fatalf("WithModel should return *client, got %T", scoped)
	}
	if sc.model != "gpt-5.2-mini" {
		t.Fatalf("scoped model: want=%q got=%q", "gpt-5.2-mini", sc.model)
	}
	if c.model != "gpt-5.2" {
		t.Fatalf("base model changed: got=%q", c.model)
	}
	if got := WithModel(c, "  "); got != c {
		t.Fatalf("blank model should return base client")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(newTestLogger(t)); err == nil {
		t.Fatalf("expected error for missing OPENAI_API_KEY")
	}
}

func TestNewClientReadsEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "https://proxy.openai.test/")
	t.Setenv("OPENAI_MODEL", "gpt-5.2-mini")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "30")
	t.Setenv("OPENAI_MAX_RETRIES", "1")
	t.Setenv("OPENAI_TEMPERATURE", "off")

	got, err := NewClient(newTestLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c, ok := got.(*client)
	if !ok {
		t.Fatalf("want *client got %T", got)
	}
	if c.baseURL != "https://proxy.openai.test" {
		t.Fatalf("baseURL: want trailing slash trimmed, got=%q", c.baseURL)
	}
	if c.model != "gpt-5.2-mini" {
		t.Fatalf("model: got=%q", c.model)
	}
	if c.maxRetries != 1 {
		t.Fatalf("maxRetries: want=1 got=%d", c.maxRetries)
	}
	if !c.disableTemperature || c.temperature != nil {
		t.Fatalf("temperature off: disable=%v ptr=%v", c.disableTemperature, c.temperature)
	}
}
