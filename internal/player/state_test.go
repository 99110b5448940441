package player

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fold(events ...Event) Snapshot {
	s := Initial()
	for _, ev := range events {
		s = Reduce(s, ev)
	}
	return s
}

func TestReduce_DurationLockedOnce(t *testing.T) {
	s := fold(
		SourceSet{SourceID: "lesson-a", URL: "https://cdn/a.mp4"},
		DurationChange{Duration: math.NaN()},
		DurationChange{Duration: math.Inf(1)},
		LoadedMetadata{Duration: 0},
		LoadedMetadata{Duration: 120},
		DurationChange{Duration: 131.5},
		LoadedMetadata{Duration: 90},
	)
	if s.Duration != 120 || !s.DurationLocked {
		t.Fatalf("expected locked duration 120, got %v (locked=%v)", s.Duration, s.DurationLocked)
	}

	s = Reduce(s, SourceSet{SourceID: "lesson-a", URL: "https://cdn/a.mp4?sig=fresh"})
	s = Reduce(s, DurationChange{Duration: 200})
	if s.Duration != 120 {
		t.Errorf("fresh URL for the same source must keep the lock, got %v", s.Duration)
	}

	s = Reduce(s, SourceSet{SourceID: "lesson-b", URL: "https://cdn/b.mp4"})
	if s.DurationLocked || s.Duration != 0 {
		t.Fatalf("new source must reset the lock, got %+v", s)
	}
	s = Reduce(s, DurationChange{Duration: 45})
	if s.Duration != 45 {
		t.Errorf("expected 45 for the new source, got %v", s.Duration)
	}
}

func TestReduce_Lifecycle(t *testing.T) {
	got := fold(
		SourceSet{SourceID: "l1", URL: "u"},
		LoadedMetadata{Duration: 60},
		CanPlay{},
		Play{},
		TimeUpdate{Time: 12},
		Pause{},
	)
	want := Snapshot{
		State:          Paused,
		SourceID:       "l1",
		URL:            "u",
		Duration:       60,
		DurationLocked: true,
		CurrentTime:    12,
		Paused:         true,
		Volume:         1,
		Rate:           1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestReduce_PlayIgnoredWhileLoading(t *testing.T) {
	s := fold(SourceSet{SourceID: "l1", URL: "u"}, Play{})
	if s.State != Loading {
		t.Errorf("expected loading, got %s", s.State)
	}
}

func TestReduce_EndedPinsToDuration(t *testing.T) {
	s := fold(
		SourceSet{SourceID: "l1", URL: "u"},
		LoadedMetadata{Duration: 30},
		Play{},
		TimeUpdate{Time: 29.8},
		MediaEnded{},
	)
	if s.State != Ended || s.CurrentTime != 30 || !s.Paused {
		t.Errorf("unexpected ended snapshot %+v", s)
	}
}

func TestReduce_MediaFailedMessages(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{MediaErrAborted, "Video playback was aborted."},
		{MediaErrNetwork, "A network error stopped the video from loading."},
		{MediaErrDecode, "The video could not be decoded."},
		{MediaErrSrcNotSupported, "This video format is not supported on this device."},
		{9, "An unknown playback error occurred."},
	}
	for _, tt := range tests {
		s := fold(SourceSet{SourceID: "l1", URL: "u"}, MediaFailed{Code: tt.code})
		if s.State != Errored {
			t.Errorf("code %d: expected errored, got %s", tt.code, s.State)
		}
		if s.Message != tt.want || s.ErrorCode != tt.code {
			t.Errorf("code %d: got %q (%d)", tt.code, s.Message, s.ErrorCode)
		}
	}
}

func TestReduce_PollReconciles(t *testing.T) {
	s := fold(SourceSet{SourceID: "l1", URL: "u"}, LoadedMetadata{Duration: 100}, Play{})
	s = Reduce(s, Poll{Time: 42, Paused: true, Muted: true, Volume: 0.3, Buffered: 80})

	want := Snapshot{
		State:          Paused,
		SourceID:       "l1",
		URL:            "u",
		Duration:       100,
		DurationLocked: true,
		CurrentTime:    42,
		Buffered:       80,
		Paused:         true,
		Muted:          true,
		Volume:         0.3,
		Rate:           1,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	s = Reduce(s, Poll{Time: 43, Paused: false, Volume: 0.3})
	if s.State != Playing {
		t.Errorf("expected poll to recover playing, got %s", s.State)
	}
}

func TestReduce_PollIgnoredWhenErrored(t *testing.T) {
	s := fold(SourceSet{SourceID: "l1", URL: "u"}, MediaFailed{Code: 2})
	got := Reduce(s, Poll{Time: 10, Paused: false})
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("errored snapshot changed (-want +got):\n%s", diff)
	}
}

func TestReduce_HardStop(t *testing.T) {
	s := fold(SourceSet{SourceID: "l1", URL: "u"}, LoadedMetadata{Duration: 10}, Play{})
	s = Reduce(s, HardStop{Reason: "Playback started on another device"})
	if s.State != Paused || s.Message != "Playback started on another device" {
		t.Errorf("unexpected snapshot %+v", s)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		t, d, want float64
	}{
		{-5, 100, 0},
		{50, 100, 50},
		{150, 100, 100},
		{150, 0, 150},
		{math.NaN(), 100, 0},
		{20, math.NaN(), 20},
	}
	for _, tt := range tests {
		if got := Clamp(tt.t, tt.d); got != tt.want {
			t.Errorf("Clamp(%v, %v) = %v, want %v", tt.t, tt.d, got, tt.want)
		}
	}
}
