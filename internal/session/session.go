// Package session wires one mounted lesson player: the access gate, URL
// resolution, the player, progress, heartbeats, the watermark and the
// remote-display bridge, all on a single schedule.Loop.
//
// Every exported method must be called on the loop.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/gate"
	"github.com/sendrec/lessonstream/internal/heartbeat"
	"github.com/sendrec/lessonstream/internal/player"
	"github.com/sendrec/lessonstream/internal/progress"
	"github.com/sendrec/lessonstream/internal/remote"
	"github.com/sendrec/lessonstream/internal/resolver"
	"github.com/sendrec/lessonstream/internal/schedule"
	"github.com/sendrec/lessonstream/internal/watermark"
)

type Client interface {
	gate.Client
	resolver.Client
	progress.Client
	heartbeat.Client
	SetVideoSession(token string)
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseVerifying
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseVerifying:
		return "verifying"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

type Config struct {
	LessonID string
	AssetID  string
	CourseID string
	Lang     string
	// Scope selects the cached verification. Empty means per lesson.
	Scope    string
	DeviceID string
	// BaseURL is the public site used for the Smart-TV deep link.
	BaseURL  string
	Identity watermark.Identity
	Bounds   watermark.Size
}

type Deps struct {
	Loop       *schedule.Loop
	Client     Client
	Media      player.Media
	Cache      *gate.Cache
	Thumbnails *resolver.Thumbnails
	Probe      remote.Probe
	Platform   remote.Platform
	Seed       uint64
}

// View is what a host renders. A failed session shows only Error.
type View struct {
	Phase     Phase
	Gate      gate.Status
	Player    player.Snapshot
	Watermark watermark.State
	Thumbnail string
	Error     string
}

type eventSource interface {
	Attach(fn func(player.Event))
}

type Session struct {
	cfg    Config
	loop   *schedule.Loop
	client Client
	cache  *gate.Cache
	thumbs *resolver.Thumbnails

	ctrl     *player.Controller
	gate     *gate.Gate
	resolver *resolver.Resolver
	tracker  *progress.Tracker
	monitor  *heartbeat.Monitor
	overlay  *watermark.Overlay
	bridge   *remote.Bridge

	phase      Phase
	errMsg     string
	thumbnail  string
	reverified bool
	seeded     bool
	marked     bool
	disposed   bool

	onChange func(View)
}

func New(cfg Config, deps Deps) *Session {
	if cfg.Scope == "" {
		cfg.Scope = cfg.LessonID
	}
	cache := deps.Cache
	if cache == nil {
		cache = gate.NewCache(gate.NewMemoryStore(), deps.Loop.Clock())
	}

	s := &Session{
		cfg:    cfg,
		loop:   deps.Loop,
		client: deps.Client,
		cache:  cache,
		thumbs: deps.Thumbnails,
	}
	s.ctrl = player.NewController(deps.Loop, deps.Media)
	if src, ok := deps.Media.(eventSource); ok {
		src.Attach(s.ctrl.Dispatch)
	}
	s.ctrl.SetReload(s.retry)
	s.ctrl.Subscribe(func(prev, next player.Snapshot) { s.changed() })

	s.resolver = resolver.New(deps.Loop, deps.Client)
	s.tracker = progress.New(deps.Loop, deps.Client, cfg.LessonID)
	s.tracker.Attach(s.ctrl)
	s.monitor = heartbeat.New(deps.Loop, deps.Client, heartbeat.Config{
		LessonID: cfg.LessonID,
		CourseID: cfg.CourseID,
		DeviceID: cfg.DeviceID,
	})
	s.monitor.Attach(s.ctrl)
	s.overlay = watermark.New(deps.Loop, cfg.Identity, cfg.Bounds, deps.Seed)
	s.overlay.OnChange(func(watermark.State) { s.changed() })
	s.bridge = remote.New(deps.Probe, deps.Platform, s.ctrl, cfg.BaseURL, cfg.LessonID)
	return s
}

func (s *Session) Controller() *player.Controller { return s.ctrl }
func (s *Session) Gate() *gate.Gate               { return s.gate }
func (s *Session) Bridge() *remote.Bridge         { return s.bridge }
func (s *Session) Phase() Phase                   { return s.phase }

func (s *Session) OnChange(fn func(View)) {
	s.onChange = fn
}

func (s *Session) View() View {
	v := View{
		Phase:     s.phase,
		Player:    s.ctrl.Snapshot(),
		Watermark: s.overlay.State(),
		Thumbnail: s.thumbnail,
		Error:     s.errMsg,
	}
	if s.gate != nil {
		v.Gate = s.gate.Status()
	}
	return v
}

func (s *Session) changed() {
	if s.onChange != nil && !s.disposed {
		s.onChange(s.View())
	}
}

func (s *Session) setPhase(p Phase) {
	s.phase = p
	s.changed()
}

// Mount starts the session. A cached verification skips the gate.
func (s *Session) Mount() {
	s.ctrl.GatePlay()
	s.ctrl.Begin(s.cfg.LessonID)

	if token, _, ok := s.cache.Load(s.cfg.Scope); ok {
		slog.Debug("session: using cached verification", "lesson_id", s.cfg.LessonID, "scope", s.cfg.Scope)
		s.client.SetVideoSession(token)
		s.unlocked()
		return
	}
	s.challenge()
}

func (s *Session) challenge() {
	if s.gate != nil {
		s.gate.Dispose()
	}
	s.gate = gate.New(s.loop, s.client, s.cfg.LessonID, s.cfg.Lang)
	s.gate.OnChange(func(gate.Status) { s.changed() })
	s.gate.OnSuccess(s.verified)
	s.setPhase(PhaseVerifying)
	s.gate.Request()
}

func (s *Session) verified(res gate.Result) {
	if res.Token != "" {
		s.client.SetVideoSession(res.Token)
		if !res.ExpiresAt.IsZero() {
			if err := s.cache.Save(s.cfg.Scope, res.Token, res.ExpiresAt); err != nil {
				slog.Warn("session: cache verification failed", "lesson_id", s.cfg.LessonID, "error", err)
			}
		}
	}
	s.unlocked()
}

// unlocked runs once access is granted: the URL, stored progress and the
// thumbnail are fetched in parallel.
func (s *Session) unlocked() {
	s.setPhase(PhaseLoading)
	s.resolve()
	if !s.seeded {
		s.seeded = true
		s.tracker.Load(s.tracker.Resume)
		s.loadThumbnail()
	}
}

func (s *Session) request() api.SignedURLRequest {
	return api.SignedURLRequest{
		LessonID: s.cfg.LessonID,
		AssetID:  s.cfg.AssetID,
		Type:     api.AssetTypeVideo,
	}
}

func (s *Session) resolve() {
	s.resolver.Resolve(s.request(), s.resolved)
}

func (s *Session) resolved(url string, err error) {
	if err != nil {
		if api.IsAuthExpired(err) && !s.reverified {
			slog.Info("session: video session rejected, verifying again", "lesson_id", s.cfg.LessonID)
			s.reverified = true
			s.cache.Clear(s.cfg.Scope)
			s.client.SetVideoSession("")
			s.challenge()
			return
		}
		s.fail(err.Error())
		return
	}

	s.reverified = false
	s.errMsg = ""
	snap := s.ctrl.Snapshot()
	if snap.URL != "" && snap.SourceID == s.cfg.LessonID {
		s.ctrl.Reload(url)
	} else {
		s.ctrl.Load(s.cfg.LessonID, url)
	}
	if !s.marked {
		s.marked = true
		s.overlay.Start()
	}
	s.setPhase(PhaseReady)
}

func (s *Session) fail(msg string) {
	s.errMsg = msg
	s.ctrl.Fail(msg)
	s.setPhase(PhaseFailed)
}

// retry is the player's manual Retry: fetch a fresh URL and reload.
func (s *Session) retry() {
	s.errMsg = ""
	s.setPhase(PhaseLoading)
	s.resolve()
}

func (s *Session) loadThumbnail() {
	if s.thumbs == nil {
		return
	}
	thumbs, lessonID, assetID := s.thumbs, s.cfg.LessonID, s.cfg.AssetID
	s.loop.Go(func(ctx context.Context) func() {
		url, err := thumbs.Get(ctx, lessonID, assetID)
		if err != nil {
			slog.Warn("session: thumbnail failed", "lesson_id", lessonID, "error", err)
			return nil
		}
		return func() {
			s.thumbnail = url
			s.changed()
		}
	})
}

// SetVisibility forwards page visibility to the remote bridge.
func (s *Session) SetVisibility(hidden bool) {
	s.bridge.SetVisibility(hidden)
}

func (s *Session) Resize(bounds watermark.Size) {
	s.overlay.Resize(bounds)
}

// Dispose tears the session down. The final progress checkpoint is still
// delivered; call Loop.Wait to block until it has been.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.tracker.Dispose()
	s.monitor.Dispose()
	s.overlay.Dispose()
	s.resolver.Cancel()
	if s.gate != nil {
		s.gate.Dispose()
	}
	s.ctrl.Dispose()
	s.loop.Dispose()
}

// DisposeAndWait disposes and waits for outstanding work, bounded by timeout.
func (s *Session) DisposeAndWait(timeout time.Duration) bool {
	s.Dispose()
	done := make(chan struct{})
	go func() {
		s.loop.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
