// Package lesson serves the playback API: signed media URLs, progress,
// duration backfill, verification codes and heartbeats.
package lesson

import (
	"context"
	"time"

	"github.com/sendrec/lessonstream/internal/database"
	"github.com/sendrec/lessonstream/internal/geoip"
	"github.com/sendrec/lessonstream/internal/metrics"
)

type Presigner interface {
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	PublicURL(key string) string
}

type CodeStore interface {
	Issue(ctx context.Context, userID, lessonID string) (string, error)
	Verify(ctx context.Context, userID, lessonID, code string) error
	Release(ctx context.Context, userID, lessonID string) error
	TTL() time.Duration
}

type CodeSender interface {
	SendOTP(ctx context.Context, toEmail, code, lang string, expiresIn time.Duration) error
}

type Locator interface {
	Lookup(ip string) geoip.Location
}

type DeviceLeases interface {
	Acquire(ctx context.Context, userID, deviceID string) (bool, error)
}

// CompletionNotifier is told the first time a viewer completes a lesson.
type CompletionNotifier interface {
	LessonCompleted(ctx context.Context, userID, lessonID string, watchedSeconds float64)
}

type Deps struct {
	Storage   Presigner
	Codes     CodeStore
	Sender    CodeSender
	Geo       Locator
	Leases    DeviceLeases
	Completed CompletionNotifier
	Metrics   *metrics.Metrics
}

type Config struct {
	VideoSessionSecret string
	VideoSessionTTL    time.Duration
	// GlobalSessions makes one verification unlock every lesson.
	GlobalSessions bool
	SignedURLTTL   time.Duration
}

type Handler struct {
	db      database.DBTX
	storage Presigner
	codes   CodeStore
	sender  CodeSender
	geo     Locator
	leases  DeviceLeases
	notify  CompletionNotifier
	metrics *metrics.Metrics
	cfg     Config
}

func NewHandler(db database.DBTX, deps Deps, cfg Config) *Handler {
	if cfg.VideoSessionTTL <= 0 {
		cfg.VideoSessionTTL = 4 * time.Hour
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		db:      db,
		storage: deps.Storage,
		codes:   deps.Codes,
		sender:  deps.Sender,
		geo:     deps.Geo,
		leases:  deps.Leases,
		notify:  deps.Completed,
		metrics: m,
		cfg:     cfg,
	}
}
