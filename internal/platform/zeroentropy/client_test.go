package zeroentropy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

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
	return &client{
		log:     newTestLogger(t),
		cfg:     Config{BaseURL: "https://api.zeroentropy.test/v1", APIKey: "test-key", TimeoutSeconds: 5},
		baseURL: "https://api.zeroentropy.test/v1",
		http: &http.Client{
			Transport: roundTripFunc(roundTrip),
		},
	}
}

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func decodeRequest(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func TestNewClientValidatesConfig(t *testing.T) {
	log := newTestLogger(t)
	_, err := NewClient(log, Config{BaseURL: "https://api.zeroentropy.test/v1", TimeoutSeconds: 5})
	if err == nil {
		t.Fatalf("expected error for missing api key")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Code != ConfigErrorMissingAPIKey {
		t.Fatalf("config error code: want=%q got=%q", ConfigErrorMissingAPIKey, cfgErr.Code)
	}
}

func TestEnsureCollectionSendsName(t *testing.T) {
	var captured map[string]any
	var capturedPath, capturedAuth string
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = decodeRequest(t, req)
		capturedPath = req.URL.Path
		capturedAuth = req.Header.Get("Authorization")
		return jsonResponse(t, http.StatusOK, map[string]any{}), nil
	})

	if err := c.EnsureCollection(context.Background(), "yt_transcripts_u1"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if capturedPath != "/v1/collections/add-collection" {
		t.Fatalf("path: want=%q got=%q", "/v1/collections/add-collection", capturedPath)
	}
	if capturedAuth != "Bearer test-key" {
		t.Fatalf("authorization header: want=%q got=%q", "Bearer test-key", capturedAuth)
	}
	if got := captured["collection_name"]; got != "yt_transcripts_u1" {
		t.Fatalf("collection_name: want=%q got=%v", "yt_transcripts_u1", got)
	}
}

func TestEnsureCollectionTolerateExisting(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusConflict, map[string]any{"detail": "collection already exists"}), nil
	})

	if err := c.EnsureCollection(context.Background(), "yt_transcripts_u1"); err != nil {
		t.Fatalf("conflict should be treated as success, got %v", err)
	}
}

func TestEnsureCollectionRejectsEmptyName(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("request should not be sent")
		return nil, nil
	})

	err := c.EnsureCollection(context.Background(), "  ")
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opError.Code)
	}
}

func TestAddDocumentBodyShape(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = decodeRequest(t, req)
		if req.URL.Path != "/v1/documents/add-document" {
			t.Fatalf("path: want=%q got=%q", "/v1/documents/add-document", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{}), nil
	})

	err := c.AddDocument(context.Background(), "yt_transcripts_u1", Document{
		Path:    "dQw4w9WgXcQ-chunk0",
		Content: "never gonna give you up",
		Metadata: map[string]string{
			"videoId":    "dQw4w9WgXcQ",
			"chunkLevel": "1",
		},
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if got := captured["path"]; got != "dQw4w9WgXcQ-chunk0" {
		t.Fatalf("path field: want=%q got=%v", "dQw4w9WgXcQ-chunk0", got)
	}
	content, ok := captured["content"].(map[string]any)
	if !ok {
		t.Fatalf("content field missing or wrong type: %v", captured["content"])
	}
	if content["type"] != "text" {
		t.Fatalf("content type: want=%q got=%v", "text", content["type"])
	}
	if content["text"] != "never gonna give you up" {
		t.Fatalf("content text: want=%q got=%v", "never gonna give you up", content["text"])
	}
	meta, ok := captured["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata field missing or wrong type: %v", captured["metadata"])
	}
	if meta["chunkLevel"] != "1" {
		t.Fatalf("metadata chunkLevel: want=%q got=%v", "1", meta["chunkLevel"])
	}
}

func TestAddDocumentRejectsEmptyContent(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("request should not be sent")
		return nil, nil
	})

	err := c.AddDocument(context.Background(), "col", Document{Path: "p", Content: "   "})
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opError.Code)
	}
}

func TestDeleteDocumentSendsPath(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = decodeRequest(t, req)
		return jsonResponse(t, http.StatusOK, map[string]any{}), nil
	})

	if err := c.DeleteDocument(context.Background(), "col", "vid-chunk3"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if got := captured["path"]; got != "vid-chunk3" {
		t.Fatalf("path: want=%q got=%v", "vid-chunk3", got)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusNotFound, map[string]any{"detail": "document not found"}), nil
	})

	err := c.DeleteDocument(context.Background(), "col", "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not_found classification, got %v", err)
	}
}

func TestDocumentInfoListFiltersByPrefix(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"documents": []map[string]any{
				{"id": "1", "path": "vidA-chunk0", "index_status": "indexed"},
				{"id": "2", "path": "vidA-chunk1", "index_status": "indexed"},
				{"id": "3", "path": "vidB-chunk0", "index_status": "parsing"},
			},
		}), nil
	})

	docs, err := c.DocumentInfoList(context.Background(), "col", "vidA-", 0)
	if err != nil {
		t.Fatalf("DocumentInfoList: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("filtered docs: want=2 got=%d", len(docs))
	}
	for _, d := range docs {
		if !strings.HasPrefix(d.Path, "vidA-") {
			t.Fatalf("unexpected path %q after prefix filter", d.Path)
		}
	}
}

func TestTopSnippetsDecodesResults(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = decodeRequest(t, req)
		if req.URL.Path != "/v1/queries/top-snippets" {
			t.Fatalf("path: want=%q got=%q", "/v1/queries/top-snippets", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"results": []map[string]any{
				{"path": "vid-chunk2", "content": "snippet text", "score": 0.91},
				{"path": "vid-chunk7", "content": "other text", "score": 0.42},
			},
		}), nil
	})

	snippets, err := c.TopSnippets(context.Background(), "col", "how do transformers work", 5, map[string]any{
		"chunkLevel": map[string]any{"$eq": "1"},
	})
	if err != nil {
		t.Fatalf("TopSnippets: %v", err)
	}
	if len(snippets) != 2 {
		t.Fatalf("snippet count: want=2 got=%d", len(snippets))
	}
	if snippets[0].Path != "vid-chunk2" || snippets[0].Score != 0.91 {
		t.Fatalf("first snippet: got %+v", snippets[0])
	}
	if got := captured["k"]; got != float64(5) {
		t.Fatalf("k: want=5 got=%v", got)
	}
	if _, ok := captured["filter"]; !ok {
		t.Fatalf("filter should be forwarded when provided")
	}
}

func TestTopDocumentsDecodesMetadata(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/queries/top-documents" {
			t.Fatalf("path: want=%q got=%q", "/v1/queries/top-documents", req.URL.Path)
		}
		body := decodeRequest(t, req)
		if body["include_metadata"] != true {
			t.Fatalf("include_metadata should be true, got %v", body["include_metadata"])
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"results": []map[string]any{
				{
					"path":  "vid-chunk0",
					"score": 0.77,
					"metadata": map[string]any{
						"videoId":    "vid",
						"videoTitle": "Intro to Go",
						"startTime":  "0",
					},
				},
			},
		}), nil
	})

	docs, err := c.TopDocuments(context.Background(), "col", "intro", 3, nil)
	if err != nil {
		t.Fatalf("TopDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("doc count: want=1 got=%d", len(docs))
	}
	if docs[0].Metadata["videoTitle"] != "Intro to Go" {
		t.Fatalf("metadata videoTitle: want=%q got=%q", "Intro to Go", docs[0].Metadata["videoTitle"])
	}
}

func TestTopSnippetsRejectsEmptyQuery(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("request should not be sent")
		return nil, nil
	})

	_, err := c.TopSnippets(context.Background(), "col", "  ", 5, nil)
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opError.Code)
	}
}

func TestDoJSONClassifiesTimeout(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})

	err := c.AddDocument(context.Background(), "col", Document{Path: "p", Content: "text"})
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorTimeout {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTimeout, opError.Code)
	}
}

func TestDoJSONClassifiesTransportFailure(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	err := c.EnsureCollection(context.Background(), "col")
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorTransportFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTransportFailed, opError.Code)
	}
}

func TestDoJSONReportsStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadRequest, map[string]any{"detail": "invalid filter"}), nil
	})

	_, err := c.TopSnippets(context.Background(), "col", "query", 5, nil)
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opError.Code != OperationErrorRequestFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorRequestFailed, opError.Code)
	}
	if opError.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code: want=%d got=%d", http.StatusBadRequest, opError.StatusCode)
	}
	if !strings.Contains(opError.Message, "invalid filter") {
		t.Fatalf("message should carry response body, got %q", opError.Message)
	}
}
