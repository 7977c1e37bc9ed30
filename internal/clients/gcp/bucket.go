package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type BucketCategory string

const (
	// BucketCategoryAvatar holds generated user avatars, served via CDN.
	BucketCategoryAvatar BucketCategory = "avatar"
	// BucketCategoryTranscript archives raw fetched caption tracks as JSON
	// under transcripts/<videoId>.json. The archive is the second tier of
	// the transcript lookup chain, after the Redis cache and before the
	// provider.
	BucketCategoryTranscript BucketCategory = "transcript"
)

// Transfers get a generous window; metadata operations a short one.
const (
	bucketTransferTimeout = 2 * time.Minute
	bucketOpTimeout       = 30 * time.Second
)

type bucketConfig struct {
	name      string
	cdnDomain string
}

type BucketService interface {
	UploadFile(dbc dbctx.Context, category BucketCategory, key string, file io.Reader) error
	DeleteFile(dbc dbctx.Context, category BucketCategory, key string) error
	ReplaceFile(dbc dbctx.Context, category BucketCategory, key string, newFile io.Reader) error
	DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, category BucketCategory, prefix string) error
	GetPublicURL(category BucketCategory, key string) string
}

type bucketService struct {
	log     *logger.Logger
	client  *storage.Client
	buckets map[BucketCategory]bucketConfig
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing env var %s", key)
	}
	return v, nil
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	avatarBucketName, err := requireEnv("AVATAR_GCS_BUCKET_NAME")
	if err != nil {
		return nil, err
	}
	transcriptBucketName, err := requireEnv("TRANSCRIPT_GCS_BUCKET_NAME")
	if err != nil {
		return nil, err
	}

	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:    log.With("service", "BucketService"),
		client: client,
		buckets: map[BucketCategory]bucketConfig{
			BucketCategoryAvatar: {
				name:      avatarBucketName,
				cdnDomain: os.Getenv("AVATAR_CDN_DOMAIN"),
			},
			BucketCategoryTranscript: {
				name: transcriptBucketName,
			},
		},
	}, nil
}

func (bs *bucketService) bucketFor(category BucketCategory) (bucketConfig, error) {
	cfg, ok := bs.buckets[category]
	if !ok {
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
	return cfg, nil
}

// object resolves a category and key to a GCS object handle.
func (bs *bucketService) object(category BucketCategory, key string) (*storage.ObjectHandle, error) {
	cfg, err := bs.bucketFor(category)
	if err != nil {
		return nil, err
	}
	return bs.client.Bucket(cfg.name).Object(key), nil
}

func (bs *bucketService) UploadFile(dbc dbctx.Context, category BucketCategory, key string, file io.Reader) error {
	obj, err := bs.object(category, key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, bucketTransferTimeout)
	defer cancel()

	w := obj.NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	obj, err := bs.object(category, key)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, bucketTransferTimeout)

	r, err := obj.NewReader(dctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}

	return &cancelOnCloseReader{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) DeleteFile(dbc dbctx.Context, category BucketCategory, key string) error {
	obj, err := bs.object(category, key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, bucketOpTimeout)
	defer cancel()

	if err := obj.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, obj.BucketName(), err)
	}
	return nil
}

func (bs *bucketService) ReplaceFile(dbc dbctx.Context, category BucketCategory, key string, newFile io.Reader) error {
	if err := bs.DeleteFile(dbc, category, key); err != nil {
		return fmt.Errorf("failed deleting old file: %w", err)
	}
	if err := bs.UploadFile(dbc, category, key, newFile); err != nil {
		return fmt.Errorf("failed uploading new file: %w", err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	cfg, err := bs.bucketFor(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, bucketOpTimeout)
	defer cancel()

	keys := make([]string, 0, 16)
	it := bs.client.Bucket(cfg.name).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, attrs.Name)
	}
}

// DeletePrefix removes every object under prefix, ignoring per-object
// failures so one missing key does not abort the sweep.
func (bs *bucketService) DeletePrefix(ctx context.Context, category BucketCategory, prefix string) error {
	keys, err := bs.ListKeys(ctx, category, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_ = bs.DeleteFile(dbctx.Context{Ctx: ctx}, category, k)
	}
	return nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := bs.bucketFor(category)
	if err != nil {
		return key
	}
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

var bucketContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".json": "application/json",
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	return bucketContentTypes[path.Ext(s)]
}

// cancelOnCloseReader carries a download context's cancel func so the
// context stays live until the caller finishes reading. Cancelling before
// returning the reader would make every read see a dead context.
type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
