// Package player folds media-element events into one playback state.
//
// Reduce is pure and owns every transition. Controller wraps it around a
// Media handle, runs the reconciliation poll, and maps gestures and keyboard
// shortcuts onto the handle.
package player

import "math"

type State int

const (
	Idle State = iota
	Loading
	Ready
	Playing
	Paused
	Ended
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	case Errored:
		return "errored"
	}
	return "unknown"
}

type Snapshot struct {
	State    State
	SourceID string
	URL      string

	// Duration is locked by the first finite positive report for SourceID.
	Duration       float64
	DurationLocked bool

	CurrentTime float64
	Buffered    float64
	Paused      bool
	Muted       bool
	Volume      float64
	Rate        float64

	ErrorCode int
	Message   string
}

// Initial is the snapshot of a player with nothing loaded.
func Initial() Snapshot {
	return Snapshot{State: Idle, Paused: true, Volume: 1, Rate: 1}
}

type Event interface {
	isEvent()
}

// SourceSet starts loading a source. A new SourceID resets the duration
// lock and position; the same SourceID with a fresh URL keeps them.
type SourceSet struct {
	SourceID string
	URL      string
}

type LoadFailed struct{ Message string }

type LoadedMetadata struct{ Duration float64 }

type DurationChange struct{ Duration float64 }

type CanPlay struct{}

type TimeUpdate struct{ Time float64 }

type Play struct{}

type Pause struct{}

type MediaEnded struct{}

// MediaFailed carries a native media error code (1-4).
type MediaFailed struct{ Code int }

// Poll is the periodic re-sync of the handle's observable fields.
type Poll struct {
	Time     float64
	Paused   bool
	Muted    bool
	Volume   float64
	Buffered float64
}

type RateChange struct{ Rate float64 }

type VolumeChange struct {
	Volume float64
	Muted  bool
}

// HardStop is the service telling this device to stop playing.
type HardStop struct{ Reason string }

func (SourceSet) isEvent()      {}
func (LoadFailed) isEvent()     {}
func (LoadedMetadata) isEvent() {}
func (DurationChange) isEvent() {}
func (CanPlay) isEvent()        {}
func (TimeUpdate) isEvent()     {}
func (Play) isEvent()           {}
func (Pause) isEvent()          {}
func (MediaEnded) isEvent()     {}
func (MediaFailed) isEvent()    {}
func (Poll) isEvent()           {}
func (RateChange) isEvent()     {}
func (VolumeChange) isEvent()   {}
func (HardStop) isEvent()       {}

func validDuration(d float64) bool {
	return d > 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}

// Clamp bounds t to [0, duration], or to [0, +inf) while no duration is known.
func Clamp(t, duration float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if validDuration(duration) && t > duration {
		return duration
	}
	return t
}

func lockDuration(s Snapshot, d float64) Snapshot {
	if s.DurationLocked || !validDuration(d) {
		return s
	}
	s.Duration = d
	s.DurationLocked = true
	s.CurrentTime = Clamp(s.CurrentTime, d)
	return s
}

func playable(s State) bool {
	return s == Ready || s == Playing || s == Paused || s == Ended
}

func Reduce(s Snapshot, ev Event) Snapshot {
	switch e := ev.(type) {
	case SourceSet:
		if e.SourceID != s.SourceID {
			s.SourceID = e.SourceID
			s.Duration = 0
			s.DurationLocked = false
			s.CurrentTime = 0
			s.Buffered = 0
		}
		s.URL = e.URL
		s.State = Loading
		s.Paused = true
		s.ErrorCode = 0
		s.Message = ""

	case LoadFailed:
		s.State = Errored
		s.Paused = true
		s.Message = e.Message

	case LoadedMetadata:
		s = lockDuration(s, e.Duration)
		if s.State == Loading {
			s.State = Ready
		}

	case DurationChange:
		s = lockDuration(s, e.Duration)

	case CanPlay:
		if s.State == Loading {
			s.State = Ready
		}

	case TimeUpdate:
		if s.State != Errored {
			s.CurrentTime = Clamp(e.Time, s.Duration)
		}

	case Play:
		if playable(s.State) {
			s.State = Playing
			s.Paused = false
			s.Message = ""
		}

	case Pause:
		if s.State == Playing {
			s.State = Paused
		}
		if s.State != Errored {
			s.Paused = true
		}

	case MediaEnded:
		if playable(s.State) {
			s.State = Ended
			s.Paused = true
			if s.DurationLocked {
				s.CurrentTime = s.Duration
			}
		}

	case MediaFailed:
		s.State = Errored
		s.Paused = true
		s.ErrorCode = e.Code
		s.Message = MediaErrorMessage(e.Code)

	case Poll:
		if s.State == Errored || s.State == Idle {
			return s
		}
		s.CurrentTime = Clamp(e.Time, s.Duration)
		s.Muted = e.Muted
		s.Volume = e.Volume
		s.Buffered = e.Buffered
		s.Paused = e.Paused
		switch {
		case s.State == Playing && e.Paused:
			s.State = Paused
		case (s.State == Paused || s.State == Ready) && !e.Paused:
			s.State = Playing
		}

	case RateChange:
		if e.Rate > 0 {
			s.Rate = e.Rate
		}

	case VolumeChange:
		s.Volume = e.Volume
		s.Muted = e.Muted

	case HardStop:
		if s.State == Playing || s.State == Ready {
			s.State = Paused
		}
		if s.State != Errored {
			s.Paused = true
			s.Message = e.Reason
		}
	}
	return s
}
