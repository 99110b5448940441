package player

import (
	"log/slog"
	"time"

	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	PollInterval = 500 * time.Millisecond
	pollTask     = "player.poll"
)

// Media is the underlying media element. Controller is its only writer,
// apart from the host feeding native events back through Dispatch.
type Media interface {
	Load(url string)
	Play() error
	Pause()
	CurrentTime() float64
	SetCurrentTime(t float64)
	Paused() bool
	Muted() bool
	SetMuted(muted bool)
	Volume() float64
	SetVolume(v float64)
	Buffered() float64
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	ToggleFullscreen() error
	TogglePictureInPicture() error
}

// RatePersister stores a user-chosen playback rate as the preferred speed.
type RatePersister interface {
	PersistSpeed(rate float64)
}

type Listener func(prev, next Snapshot)

type resumePoint struct {
	offset float64
	rate   float64
}

// Controller must only be used from its loop.
type Controller struct {
	loop  *schedule.Loop
	media Media
	snap  Snapshot

	listeners []Listener
	feedback  func(Feedback)
	persister RatePersister
	reload    func()

	playGated   bool
	pendingPlay bool
	resume      *resumePoint

	lastTapAt   time.Time
	lastTapZone Zone
}

func NewController(loop *schedule.Loop, media Media) *Controller {
	return &Controller{
		loop:  loop,
		media: media,
		snap:  Initial(),
	}
}

func (c *Controller) Snapshot() Snapshot {
	return c.snap
}

func (c *Controller) Subscribe(fn Listener) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) OnFeedback(fn func(Feedback)) {
	c.feedback = fn
}

func (c *Controller) SetRatePersister(p RatePersister) {
	c.persister = p
}

// SetReload replaces the default Retry behaviour, which reloads the current URL.
func (c *Controller) SetReload(fn func()) {
	c.reload = fn
}

func (c *Controller) Dispatch(ev Event) {
	prev := c.snap
	c.snap = Reduce(prev, ev)
	if c.resume != nil && c.resumable() {
		c.applyResume()
	}
	if c.snap != prev {
		next := c.snap
		for _, fn := range c.listeners {
			fn(prev, next)
		}
	}
}

// Begin marks the player as loading before the source URL is known.
func (c *Controller) Begin(sourceID string) {
	c.Dispatch(SourceSet{SourceID: sourceID})
}

func (c *Controller) Load(sourceID, url string) {
	c.Dispatch(SourceSet{SourceID: sourceID, URL: url})
	c.media.Load(url)
	c.loop.Every(pollTask, PollInterval, c.poll)
}

// Reload swaps in a fresh URL for the same source, keeping the position.
func (c *Controller) Reload(url string) {
	position := c.media.CurrentTime()
	if position <= 0 {
		position = c.snap.CurrentTime
	}
	c.Load(c.snap.SourceID, url)
	if position > 0 {
		c.resume = &resumePoint{offset: position}
	}
}

func (c *Controller) Fail(message string) {
	c.loop.Cancel(pollTask)
	c.Dispatch(LoadFailed{Message: message})
}

// Retry is the manual recovery from Errored.
func (c *Controller) Retry() {
	if c.reload != nil {
		c.reload()
		return
	}
	if c.snap.URL != "" {
		c.Reload(c.snap.URL)
	}
}

func (c *Controller) poll() {
	c.Dispatch(Poll{
		Time:     c.media.CurrentTime(),
		Paused:   c.media.Paused(),
		Muted:    c.media.Muted(),
		Volume:   c.media.Volume(),
		Buffered: c.media.Buffered(),
	})
}

// GatePlay defers user play requests until ReleasePlayGate.
func (c *Controller) GatePlay() {
	c.playGated = true
}

func (c *Controller) ReleasePlayGate() {
	c.playGated = false
	if c.pendingPlay {
		c.pendingPlay = false
		c.Play()
	}
}

func (c *Controller) PlayGated() bool {
	return c.playGated
}

// ApplyResume seeks to offset and applies rate once the source can accept
// it, then releases the play gate. Zero values mean nothing to apply.
func (c *Controller) ApplyResume(offset, rate float64) {
	if offset <= 0 && rate <= 0 {
		c.ReleasePlayGate()
		return
	}
	c.resume = &resumePoint{offset: offset, rate: rate}
	if c.resumable() {
		c.applyResume()
	}
}

func (c *Controller) resumable() bool {
	switch c.snap.State {
	case Ready, Playing, Paused, Ended:
		return true
	}
	return false
}

func (c *Controller) applyResume() {
	r := c.resume
	c.resume = nil
	if r.offset > 0 {
		c.Seek(r.offset)
	}
	if r.rate > 0 {
		c.media.SetPlaybackRate(r.rate)
		c.Dispatch(RateChange{Rate: r.rate})
	}
	c.ReleasePlayGate()
}

func (c *Controller) Play() {
	if c.playGated {
		c.pendingPlay = true
		return
	}
	switch c.snap.State {
	case Idle, Errored:
		return
	case Ended:
		if c.snap.CurrentTime >= c.snap.Duration {
			c.Seek(0)
		}
	}
	if err := c.media.Play(); err != nil {
		slog.Warn("player: play rejected", "source_id", c.snap.SourceID, "error", err)
		return
	}
	c.Dispatch(Play{})
}

func (c *Controller) Pause() {
	c.pendingPlay = false
	c.media.Pause()
	c.Dispatch(Pause{})
}

func (c *Controller) TogglePlay() {
	if c.snap.State == Playing {
		c.Pause()
		return
	}
	c.Play()
}

// Seek moves to t clamped to [0, duration] and returns the applied position.
func (c *Controller) Seek(t float64) float64 {
	t = Clamp(t, c.snap.Duration)
	c.media.SetCurrentTime(t)
	c.Dispatch(TimeUpdate{Time: t})
	return t
}

func (c *Controller) SeekBy(delta float64) float64 {
	return c.Seek(c.media.CurrentTime() + delta)
}

func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.media.SetVolume(v)
	muted := c.media.Muted()
	if v > 0 && muted {
		c.media.SetMuted(false)
		muted = false
	}
	c.Dispatch(VolumeChange{Volume: v, Muted: muted})
}

func (c *Controller) ToggleMute() {
	muted := !c.media.Muted()
	c.media.SetMuted(muted)
	c.Dispatch(VolumeChange{Volume: c.media.Volume(), Muted: muted})
}

// SetRate applies a user-chosen rate and persists it as the preferred speed.
func (c *Controller) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	c.media.SetPlaybackRate(rate)
	c.Dispatch(RateChange{Rate: rate})
	if c.persister != nil {
		c.persister.PersistSpeed(rate)
	}
}

func (c *Controller) ToggleFullscreen() {
	if err := c.media.ToggleFullscreen(); err != nil {
		slog.Warn("player: fullscreen unavailable", "error", err)
	}
}

func (c *Controller) TogglePictureInPicture() error {
	return c.media.TogglePictureInPicture()
}

// HardStop pauses playback at the service's demand.
func (c *Controller) HardStop(reason string) {
	c.pendingPlay = false
	c.media.Pause()
	c.Dispatch(HardStop{Reason: reason})
}

func (c *Controller) Dispose() {
	c.loop.Cancel(pollTask)
	c.media.Pause()
	c.listeners = nil
}
