// Package remote hands playback to other displays and reacts to the page
// being hidden.
package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sendrec/lessonstream/internal/player"
)

var ErrUnsupported = errors.New("not supported on this device")

// Probe answers feature-detection questions about the host. Implementations
// must test for the API itself and never look at the user agent.
type Probe interface {
	HasRemotePlayback() bool
	HasAirPlayPicker() bool
	HasPictureInPicture() bool
}

type Capabilities struct {
	CanCast    bool `json:"canCast"`
	CanAirPlay bool `json:"canAirPlay"`
	CanPiP     bool `json:"canPiP"`
}

func Detect(p Probe) Capabilities {
	if p == nil {
		return Capabilities{}
	}
	return Capabilities{
		CanCast:    p.HasRemotePlayback(),
		CanAirPlay: p.HasAirPlayPicker(),
		CanPiP:     p.HasPictureInPicture(),
	}
}

// Platform performs the native hand-offs.
type Platform interface {
	PromptRemotePlayback() error
	ShowAirPlayPicker() error
	SetBlur(on bool)
}

// Target describes how a cast request was fulfilled.
type Target struct {
	Kind string
	// DeepLink is set for KindDeepLink: a URL to open in a Smart-TV browser.
	DeepLink string
}

const (
	KindCast     = "cast"
	KindAirPlay  = "airplay"
	KindDeepLink = "deeplink"
)

type Bridge struct {
	caps     Capabilities
	platform Platform
	ctrl     *player.Controller
	baseURL  string
	lessonID string
	hidden   bool
}

// New resolves capabilities once. baseURL is the public site used to build
// the Smart-TV link.
func New(probe Probe, platform Platform, ctrl *player.Controller, baseURL, lessonID string) *Bridge {
	return &Bridge{
		caps:     Detect(probe),
		platform: platform,
		ctrl:     ctrl,
		baseURL:  strings.TrimRight(baseURL, "/"),
		lessonID: lessonID,
	}
}

func (b *Bridge) Capabilities() Capabilities {
	return b.caps
}

// DeepLink is the fallback URL for displays with no native hand-off.
func (b *Bridge) DeepLink() string {
	return b.baseURL + "/tv/" + url.PathEscape(b.lessonID)
}

// Cast tries remote playback, then AirPlay, and otherwise returns the deep
// link for the viewer to copy.
func (b *Bridge) Cast() (Target, error) {
	if b.caps.CanCast && b.platform != nil {
		err := b.platform.PromptRemotePlayback()
		if err == nil {
			return Target{Kind: KindCast}, nil
		}
		slog.Warn("remote: remote playback prompt failed", "lesson_id", b.lessonID, "error", err)
	}
	if b.caps.CanAirPlay && b.platform != nil {
		err := b.platform.ShowAirPlayPicker()
		if err == nil {
			return Target{Kind: KindAirPlay}, nil
		}
		slog.Warn("remote: airplay picker failed", "lesson_id", b.lessonID, "error", err)
	}
	if b.baseURL == "" {
		return Target{}, fmt.Errorf("cast lesson %s: %w", b.lessonID, ErrUnsupported)
	}
	return Target{Kind: KindDeepLink, DeepLink: b.DeepLink()}, nil
}

func (b *Bridge) PictureInPicture() error {
	if !b.caps.CanPiP {
		return ErrUnsupported
	}
	if err := b.ctrl.TogglePictureInPicture(); err != nil {
		return fmt.Errorf("toggle picture-in-picture: %w", err)
	}
	return nil
}

// SetVisibility reacts to the page being hidden or shown. Hiding pauses and
// blurs; showing again only removes the blur and leaves playback paused.
func (b *Bridge) SetVisibility(hidden bool) {
	if hidden == b.hidden {
		return
	}
	b.hidden = hidden
	if hidden {
		if b.ctrl.Snapshot().State == player.Playing {
			b.ctrl.Pause()
		}
		if b.platform != nil {
			b.platform.SetBlur(true)
		}
		return
	}
	if b.platform != nil {
		b.platform.SetBlur(false)
	}
}

func (b *Bridge) Hidden() bool {
	return b.hidden
}
