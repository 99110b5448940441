package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/sendrec/lessonstream/internal/api"
)

const (
	DefaultThumbnailCacheSize = 256
	// DefaultThumbnailTTL stays below the service's signed URL lifetime.
	DefaultThumbnailTTL = 50 * time.Minute
)

// Thumbnails signs poster images. Concurrent requests for one asset share
// a single call, and results are cached until shortly before they expire.
type Thumbnails struct {
	client Client
	cache  *expirable.LRU[string, string]
	group  singleflight.Group
}

// NewThumbnails builds a cache meant to live for the whole process. The
// underlying LRU runs an expiry goroutine that cannot be stopped, so hosts
// create one and share it across sessions.
func NewThumbnails(client Client, size int, ttl time.Duration) *Thumbnails {
	if size <= 0 {
		size = DefaultThumbnailCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultThumbnailTTL
	}
	return &Thumbnails{
		client: client,
		cache:  expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func thumbnailKey(lessonID, assetID string) string {
	if assetID != "" {
		return "asset:" + assetID
	}
	return "lesson:" + lessonID
}

func (t *Thumbnails) Get(ctx context.Context, lessonID, assetID string) (string, error) {
	key := thumbnailKey(lessonID, assetID)
	if url, ok := t.cache.Get(key); ok {
		return url, nil
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		resp, err := t.client.ResolveSignedURL(ctx, api.SignedURLRequest{
			LessonID: lessonID,
			AssetID:  assetID,
			Type:     api.AssetTypeThumbnail,
		})
		if err != nil {
			return "", fmt.Errorf("sign thumbnail: %w", err)
		}
		t.cache.Add(key, resp.SignedURL)
		return resp.SignedURL, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Thumbnails) Invalidate(lessonID, assetID string) {
	t.cache.Remove(thumbnailKey(lessonID, assetID))
}

func (t *Thumbnails) Len() int {
	return t.cache.Len()
}
