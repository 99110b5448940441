package player

import (
	"log/slog"
	"time"
)

const (
	DoubleTapWindow = 300 * time.Millisecond
	TapSeekSeconds  = 10
	KeySeekSeconds  = 5
	KeyVolumeStep   = 0.1
)

type Zone int

const (
	ZoneLeft Zone = iota
	ZoneCenter
	ZoneRight
)

// ZoneAt splits a surface of the given width into thirds.
func ZoneAt(x, width float64) Zone {
	if width <= 0 {
		return ZoneCenter
	}
	switch {
	case x < width/3:
		return ZoneLeft
	case x >= 2*width/3:
		return ZoneRight
	}
	return ZoneCenter
}

// Feedback is the transient visual cue shown after a gesture.
type Feedback struct {
	Zone  Zone
	Delta float64
}

// Tap handles a click or touch at x on a surface of the given width. A side
// zone seeks only on the second tap inside DoubleTapWindow.
func (c *Controller) Tap(x, width float64) {
	zone := ZoneAt(x, width)
	now := c.loop.Now()

	if zone == ZoneCenter {
		c.lastTapAt = time.Time{}
		c.TogglePlay()
		return
	}

	if !c.lastTapAt.IsZero() && c.lastTapZone == zone && now.Sub(c.lastTapAt) <= DoubleTapWindow {
		c.lastTapAt = time.Time{}
		delta := float64(TapSeekSeconds)
		if zone == ZoneLeft {
			delta = -delta
		}
		c.SeekBy(delta)
		if c.feedback != nil {
			c.feedback(Feedback{Zone: zone, Delta: delta})
		}
		return
	}
	c.lastTapAt = now
	c.lastTapZone = zone
}

// Key applies a keyboard shortcut and reports whether it was consumed.
// Keys typed into a text field are never consumed.
func (c *Controller) Key(key string, inTextField bool) bool {
	if inTextField {
		return false
	}
	switch key {
	case " ", "k", "K":
		c.TogglePlay()
	case "ArrowLeft":
		c.SeekBy(-KeySeekSeconds)
	case "ArrowRight":
		c.SeekBy(KeySeekSeconds)
	case "ArrowUp":
		c.SetVolume(c.media.Volume() + KeyVolumeStep)
	case "ArrowDown":
		c.SetVolume(c.media.Volume() - KeyVolumeStep)
	case "m", "M":
		c.ToggleMute()
	case "f", "F":
		c.ToggleFullscreen()
	case "p", "P":
		if err := c.TogglePictureInPicture(); err != nil {
			slog.Warn("player: picture-in-picture unavailable", "error", err)
		}
	default:
		return false
	}
	return true
}
