package handlers

import (
	"strings"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	types "github.com/yungbote/rewatch-backend/internal/domain"
)

// resolveBucketBackedURL re-resolves a stored object URL against the current
// bucket config, so rows written under an old public base URL still serve.
func resolveBucketBackedURL(bucket gcp.BucketService, category gcp.BucketCategory, storageKey, currentURL string) string {
	fallback := strings.TrimSpace(currentURL)
	key := strings.TrimSpace(storageKey)
	if bucket == nil || key == "" {
		return fallback
	}
	if resolved := strings.TrimSpace(bucket.GetPublicURL(category, key)); resolved != "" {
		return resolved
	}
	return fallback
}

func normalizeUserAvatarURL(bucket gcp.BucketService, u *types.User) {
	if u == nil {
		return
	}
	u.AvatarURL = resolveBucketBackedURL(bucket, gcp.BucketCategoryAvatar, u.AvatarBucketKey, u.AvatarURL)
}
