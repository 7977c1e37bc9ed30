package zeroentropy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Client is the vector-index collaborator: per-user collections of indexed
// transcript pages, queried at snippet or document granularity.
type Client interface {
	EnsureCollection(ctx context.Context, collection string) error
	AddDocument(ctx context.Context, collection string, doc Document) error
	DeleteDocument(ctx context.Context, collection, path string) error
	DocumentInfoList(ctx context.Context, collection, pathPrefix string, limit int) ([]DocumentInfo, error)
	TopSnippets(ctx context.Context, collection, query string, k int, filter map[string]any) ([]Snippet, error)
	TopDocuments(ctx context.Context, collection, query string, k int, filter map[string]any) ([]DocumentResult, error)
}

// Document is one indexable page: text content plus a flat string metadata
// map the query side filters and renders from.
type Document struct {
	Path     string
	Content  string
	Metadata map[string]string
}

type Snippet struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type DocumentResult struct {
	Path     string            `json:"path"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

type DocumentInfo struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	IndexStatus string `json:"index_status"`
}

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &client{
		log:     log.With("service", "ZeroEntropyClient"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}, nil
}

func (c *client) EnsureCollection(ctx context.Context, collection string) error {
	const op = "ensure_collection"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(op, OperationErrorValidation, "collection name is required", nil)
	}

	req := map[string]any{"collection_name": collection}
	err := c.doJSON(ctx, op, "/collections/add-collection", req, nil)
	if IsConflict(err) {
		// Already exists: fetch-or-create semantics, not a failure.
		return nil
	}
	return err
}

func (c *client) AddDocument(ctx context.Context, collection string, doc Document) error {
	const op = "add_document"
	if strings.TrimSpace(collection) == "" {
		return opErr(op, OperationErrorValidation, "collection name is required", nil)
	}
	if strings.TrimSpace(doc.Path) == "" {
		return opErr(op, OperationErrorValidation, "document path is required", nil)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("document %q has empty content", doc.Path), nil)
	}

	req := map[string]any{
		"collection_name": collection,
		"path":            doc.Path,
		"content": map[string]any{
			"type": "text",
			"text": doc.Content,
		},
		"metadata": cloneMetadata(doc.Metadata),
	}
	return c.doJSON(ctx, op, "/documents/add-document", req, nil)
}

func (c *client) DeleteDocument(ctx context.Context, collection, path string) error {
	const op = "delete_document"
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(path) == "" {
		return opErr(op, OperationErrorValidation, "collection and path are required", nil)
	}

	req := map[string]any{
		"collection_name": collection,
		"path":            path,
	}
	return c.doJSON(ctx, op, "/documents/delete-document", req, nil)
}

func (c *client) DocumentInfoList(ctx context.Context, collection, pathPrefix string, limit int) ([]DocumentInfo, error) {
	const op = "document_info_list"
	if strings.TrimSpace(collection) == "" {
		return nil, opErr(op, OperationErrorValidation, "collection name is required", nil)
	}
	if limit <= 0 {
		limit = 1024
	}

	req := map[string]any{
		"collection_name": collection,
		"limit":           limit,
	}
	var out struct {
		Documents []DocumentInfo `json:"documents"`
	}
	if err := c.doJSON(ctx, op, "/documents/get-document-info-list", req, &out); err != nil {
		return nil, err
	}

	if pathPrefix == "" {
		return out.Documents, nil
	}
	filtered := make([]DocumentInfo, 0, len(out.Documents))
	for _, d := range out.Documents {
		if strings.HasPrefix(d.Path, pathPrefix) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (c *client) TopSnippets(ctx context.Context, collection, query string, k int, filter map[string]any) ([]Snippet, error) {
	const op = "top_snippets"
	if strings.TrimSpace(collection) == "" {
		return nil, opErr(op, OperationErrorValidation, "collection name is required", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, opErr(op, OperationErrorValidation, "query text is required", nil)
	}
	if k <= 0 {
		k = 10
	}

	req := map[string]any{
		"collection_name": collection,
		"query":           query,
		"k":               k,
	}
	if len(filter) > 0 {
		req["filter"] = filter
	}
	var out struct {
		Results []Snippet `json:"results"`
	}
	if err := c.doJSON(ctx, op, "/queries/top-snippets", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *client) TopDocuments(ctx context.Context, collection, query string, k int, filter map[string]any) ([]DocumentResult, error) {
	const op = "top_documents"
	if strings.TrimSpace(collection) == "" {
		return nil, opErr(op, OperationErrorValidation, "collection name is required", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, opErr(op, OperationErrorValidation, "query text is required", nil)
	}
	if k <= 0 {
		k = 10
	}

	req := map[string]any{
		"collection_name":  collection,
		"query":            query,
		"k":                k,
		"include_metadata": true,
	}
	if len(filter) > 0 {
		req["filter"] = filter
	}
	var out struct {
		Results []DocumentResult `json:"results"`
	}
	if err := c.doJSON(ctx, op, "/queries/top-documents", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// doJSON posts a JSON body and decodes the JSON response. Every API
// operation of the service is an HTTP POST.
func (c *client) doJSON(ctx context.Context, op, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "zeroentropy request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       codeForStatus(resp.StatusCode),
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("zeroentropy http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	if out == nil {
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode response failed", err)
	}
	return nil
}

func codeForStatus(status int) OperationErrorCode {
	switch status {
	case http.StatusConflict:
		return OperationErrorConflict
	case http.StatusNotFound:
		return OperationErrorNotFound
	default:
		return OperationErrorRequestFailed
	}
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
