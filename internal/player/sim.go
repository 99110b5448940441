package player

import (
	"errors"
	"time"

	"github.com/sendrec/lessonstream/internal/schedule"
)

var ErrNoPictureInPicture = errors.New("picture-in-picture is not supported")

// SimMedia is a headless Media whose position advances with the loop clock.
// It reports native events asynchronously through the loop, the way a real
// element would, and backs the CLI player and tests.
type SimMedia struct {
	loop *schedule.Loop
	emit func(Event)

	Duration float64
	// FailCode makes the next Load report a native media error.
	FailCode int
	// PiP controls whether picture-in-picture can be entered.
	PiP bool

	url        string
	loaded     bool
	position   float64
	since      time.Time
	paused     bool
	muted      bool
	volume     float64
	rate       float64
	fullscreen bool
	inPiP      bool
}

func NewSimMedia(loop *schedule.Loop, duration float64) *SimMedia {
	return &SimMedia{
		loop:     loop,
		Duration: duration,
		paused:   true,
		volume:   1,
		rate:     1,
		PiP:      true,
	}
}

// Attach routes the simulated native events, normally to Controller.Dispatch.
func (m *SimMedia) Attach(fn func(Event)) {
	m.emit = fn
}

func (m *SimMedia) post(ev Event) {
	if m.emit == nil {
		return
	}
	emit := m.emit
	m.loop.Post(func() { emit(ev) })
}

func (m *SimMedia) URL() string {
	return m.url
}

func (m *SimMedia) Load(url string) {
	m.url = url
	m.loaded = false
	m.position = 0
	m.paused = true
	if m.FailCode != 0 {
		code := m.FailCode
		m.FailCode = 0
		m.post(MediaFailed{Code: code})
		return
	}
	m.loaded = true
	m.post(LoadedMetadata{Duration: m.Duration})
	m.post(CanPlay{})
}

func (m *SimMedia) Play() error {
	if !m.loaded {
		return errors.New("no source loaded")
	}
	if !m.paused {
		return nil
	}
	if m.position >= m.Duration {
		m.position = 0
	}
	m.since = m.loop.Now()
	m.paused = false
	m.post(Play{})
	return nil
}

func (m *SimMedia) Pause() {
	if m.paused {
		return
	}
	m.position = m.CurrentTime()
	m.paused = true
	m.post(Pause{})
}

func (m *SimMedia) CurrentTime() float64 {
	if m.paused {
		return m.position
	}
	t := m.position + m.loop.Now().Sub(m.since).Seconds()*m.rate
	if t >= m.Duration {
		m.position = m.Duration
		m.paused = true
		m.post(MediaEnded{})
		return m.Duration
	}
	return t
}

func (m *SimMedia) SetCurrentTime(t float64) {
	if !m.paused {
		m.since = m.loop.Now()
	}
	m.position = Clamp(t, m.Duration)
}

func (m *SimMedia) Paused() bool {
	m.CurrentTime()
	return m.paused
}

func (m *SimMedia) Muted() bool         { return m.muted }
func (m *SimMedia) SetMuted(muted bool) { m.muted = muted }
func (m *SimMedia) Volume() float64     { return m.volume }
func (m *SimMedia) SetVolume(v float64) { m.volume = v }

func (m *SimMedia) Buffered() float64 {
	if !m.loaded {
		return 0
	}
	return m.Duration
}

func (m *SimMedia) PlaybackRate() float64 {
	return m.rate
}

func (m *SimMedia) SetPlaybackRate(rate float64) {
	if !m.paused {
		m.position = m.CurrentTime()
		m.since = m.loop.Now()
	}
	m.rate = rate
}

func (m *SimMedia) ToggleFullscreen() error {
	m.fullscreen = !m.fullscreen
	return nil
}

func (m *SimMedia) Fullscreen() bool {
	return m.fullscreen
}

func (m *SimMedia) TogglePictureInPicture() error {
	if !m.PiP {
		return ErrNoPictureInPicture
	}
	m.inPiP = !m.inPiP
	return nil
}

func (m *SimMedia) InPictureInPicture() bool {
	return m.inPiP
}
