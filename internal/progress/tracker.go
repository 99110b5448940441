// Package progress checkpoints a viewer's position in a lesson and seeds
// the player with the stored position and speed on mount.
package progress

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/player"
	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	CheckpointInterval = 10 * time.Second
	CompletionRatio    = 0.9
	checkpointTask     = "progress.checkpoint"
	finalTimeout       = 5 * time.Second
)

type Client interface {
	GetProgress(ctx context.Context, lessonID string) (*api.Progress, error)
	PostProgress(ctx context.Context, req api.ProgressRequest) error
	BackfillDuration(ctx context.Context, lessonID string, duration float64) error
}

type Tracker struct {
	loop     *schedule.Loop
	client   Client
	lessonID string
	ctrl     *player.Controller

	storedDuration float64
	resumed        bool
	backfilled     bool
	disposed       bool
}

func New(loop *schedule.Loop, client Client, lessonID string) *Tracker {
	return &Tracker{loop: loop, client: client, lessonID: lessonID}
}

// Load fetches stored progress and hands it to done on the loop. A failed
// fetch is logged and reported as no progress.
func (t *Tracker) Load(done func(*api.Progress)) {
	lessonID := t.lessonID
	t.loop.Go(func(ctx context.Context) func() {
		p, err := t.client.GetProgress(ctx, lessonID)
		if err != nil {
			slog.Warn("progress: load failed", "lesson_id", lessonID, "error", err)
			p = nil
		}
		return func() { done(p) }
	})
}

// Attach starts following c: checkpoints while it plays, duration backfill,
// and persisting user rate changes.
func (t *Tracker) Attach(c *player.Controller) {
	t.ctrl = c
	c.SetRatePersister(t)
	c.Subscribe(t.observe)
}

// Resume seeds the attached player with stored progress.
func (t *Tracker) Resume(p *api.Progress) {
	if t.ctrl == nil {
		return
	}
	t.resumed = true
	if p == nil {
		t.ctrl.ApplyResume(0, 0)
	} else {
		t.storedDuration = p.Duration
		t.ctrl.ApplyResume(p.Progress, p.PreferredSpeed)
	}
	t.maybeBackfill(t.ctrl.Snapshot())
}

func (t *Tracker) observe(prev, next player.Snapshot) {
	t.maybeBackfill(next)

	switch {
	case next.State == player.Playing && prev.State != player.Playing:
		t.loop.Every(checkpointTask, CheckpointInterval, t.tick)
	case next.State != player.Playing && prev.State == player.Playing:
		t.loop.Cancel(checkpointTask)
	}
}

// maybeBackfill reports the first locked duration once, after stored
// progress is known so a matching stored duration can be skipped.
func (t *Tracker) maybeBackfill(s player.Snapshot) {
	if !t.resumed || t.backfilled || !s.DurationLocked {
		return
	}
	t.backfilled = true
	duration := s.Duration
	if t.storedDuration > 0 && math.Abs(t.storedDuration-duration) < 1 {
		return
	}
	lessonID := t.lessonID
	t.loop.Go(func(ctx context.Context) func() {
		if err := t.client.BackfillDuration(ctx, lessonID, duration); err != nil {
			slog.Warn("progress: duration backfill failed", "lesson_id", lessonID, "error", err)
		}
		return nil
	})
}

func (t *Tracker) tick() {
	if t.ctrl == nil || t.ctrl.Snapshot().State != player.Playing {
		return
	}
	t.post(t.ctrl.Snapshot())
}

// PersistSpeed records a user-chosen rate as the preferred speed.
func (t *Tracker) PersistSpeed(float64) {
	if t.ctrl != nil {
		t.post(t.ctrl.Snapshot())
	}
}

// Checkpoint builds the request for s. It reports false while the total
// duration is unknown, and such checkpoints are never sent.
func Checkpoint(lessonID string, s player.Snapshot) (api.ProgressRequest, bool) {
	total := s.Duration
	if !s.DurationLocked || total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return api.ProgressRequest{}, false
	}
	watched := player.Clamp(s.CurrentTime, total)
	return api.ProgressRequest{
		LessonID:       lessonID,
		WatchedSeconds: watched,
		TotalSeconds:   total,
		Completed:      watched/total > CompletionRatio,
		PreferredSpeed: s.Rate,
	}, true
}

func (t *Tracker) post(s player.Snapshot) {
	req, ok := Checkpoint(t.lessonID, s)
	if !ok {
		return
	}
	t.loop.Go(func(ctx context.Context) func() {
		if err := t.client.PostProgress(ctx, req); err != nil {
			slog.Warn("progress: checkpoint failed", "lesson_id", req.LessonID, "error", err)
		}
		return nil
	})
}

// Dispose stops checkpointing and sends one final checkpoint that outlives
// the session.
func (t *Tracker) Dispose() {
	if t.disposed {
		return
	}
	t.disposed = true
	t.loop.Cancel(checkpointTask)
	if t.ctrl == nil {
		return
	}
	req, ok := Checkpoint(t.lessonID, t.ctrl.Snapshot())
	if !ok {
		return
	}
	client := t.client
	t.loop.GoDetached(finalTimeout, func(ctx context.Context) {
		if err := client.PostProgress(ctx, req); err != nil {
			slog.Warn("progress: final checkpoint failed", "lesson_id", req.LessonID, "error", err)
		}
	})
}
