// Package heartbeat emits liveness pings while a lesson is playing so the
// service can detect one account streaming on several devices.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/player"
	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	Interval    = 10 * time.Second
	DeviceIDKey = "device_id"
	pingTask    = "heartbeat.ping"

	defaultStopReason = "Playback stopped because this lesson is playing on another device."
)

type Client interface {
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) error
}

type KV interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// DeviceID returns the identifier stored in kv, generating one on first use.
// It carries nothing about the viewer or the hardware.
func DeviceID(kv KV) string {
	if id, ok := kv.Get(DeviceIDKey); ok {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	id := uuid.NewString()
	kv.Set(DeviceIDKey, id)
	return id
}

type Config struct {
	LessonID string
	CourseID string
	DeviceID string
}

type Monitor struct {
	loop   *schedule.Loop
	client Client
	cfg    Config
	ctrl   *player.Controller
}

func New(loop *schedule.Loop, client Client, cfg Config) *Monitor {
	return &Monitor{loop: loop, client: client, cfg: cfg}
}

func (m *Monitor) Attach(c *player.Controller) {
	m.ctrl = c
	c.Subscribe(m.observe)
}

func (m *Monitor) observe(prev, next player.Snapshot) {
	switch {
	case next.State == player.Playing && prev.State != player.Playing:
		m.loop.Every(pingTask, Interval, m.ping)
	case next.State != player.Playing && prev.State == player.Playing:
		m.loop.Cancel(pingTask)
	}
}

func (m *Monitor) ping() {
	s := m.ctrl.Snapshot()
	if s.State != player.Playing {
		m.loop.Cancel(pingTask)
		return
	}
	req := api.HeartbeatRequest{
		Event: api.HeartbeatEventName,
		Metadata: api.HeartbeatMetadata{
			LessonID:      m.cfg.LessonID,
			CourseID:      m.cfg.CourseID,
			DeviceID:      m.cfg.DeviceID,
			CurrentTime:   s.CurrentTime,
			Duration:      s.Duration,
			WatchInterval: int(Interval / time.Second),
		},
	}
	m.loop.Go(func(ctx context.Context) func() {
		err := m.client.Heartbeat(ctx, req)
		if err == nil {
			return nil
		}
		if !api.IsHardStop(err) {
			slog.Warn("heartbeat: ping failed", "lesson_id", req.Metadata.LessonID, "error", err)
			return nil
		}
		reason := defaultStopReason
		var se *api.StatusError
		if errors.As(err, &se) && se.Message != "" {
			reason = se.Message
		}
		slog.Info("heartbeat: service stopped playback", "lesson_id", req.Metadata.LessonID, "device_id", req.Metadata.DeviceID)
		return func() { m.ctrl.HardStop(reason) }
	})
}

func (m *Monitor) Dispose() {
	m.loop.Cancel(pingTask)
}
