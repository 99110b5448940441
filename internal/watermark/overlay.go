// Package watermark draws a viewer's identity and a live clock over the
// video and keeps moving it around.
//
// The mark is a deterrent. It makes a screen recording traceable to the
// account that made it, but anyone can crop, blur or re-record it away.
// It is not a security control and must not be described as one.
package watermark

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	MoveInterval  = 10 * time.Second
	FadeDuration  = time.Second
	ClockInterval = time.Second
	Opacity       = 0.25

	moveTask   = "watermark.move"
	fadeInTask = "watermark.fadein"
	clockTask  = "watermark.clock"

	timestampLayout = "2006-01-02 15:04:05"
)

type Size struct {
	W, H float64
}

type Point struct {
	X, Y float64
}

type Identity struct {
	UserID string
	Phone  string
}

func (i Identity) Label() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{i.UserID, i.Phone} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " · ")
}

type State struct {
	Position  Point
	Visible   bool
	Label     string
	Timestamp time.Time
}

func (s State) Lines() []string {
	return []string{s.Label, s.Timestamp.Format(timestampLayout)}
}

type Overlay struct {
	loop     *schedule.Loop
	rng      *rand.Rand
	bounds   Size
	state    State
	onChange func(State)
}

func New(loop *schedule.Loop, id Identity, bounds Size, seed uint64) *Overlay {
	return &Overlay{
		loop:   loop,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		bounds: bounds,
		state:  State{Label: id.Label()},
	}
}

func (o *Overlay) OnChange(fn func(State)) {
	o.onChange = fn
}

func (o *Overlay) State() State {
	return o.state
}

func (o *Overlay) Block() Size {
	return BlockSize(o.state.Lines())
}

func (o *Overlay) changed() {
	if o.onChange != nil {
		o.onChange(o.state)
	}
}

// Start shows the mark and begins the move and clock cycles.
func (o *Overlay) Start() {
	o.state.Timestamp = o.loop.Now()
	o.state.Position = Place(o.bounds, o.Block(), o.rng)
	o.state.Visible = true
	o.changed()
	o.loop.Every(moveTask, MoveInterval, o.fadeOut)
	o.loop.Every(clockTask, ClockInterval, o.tick)
}

func (o *Overlay) fadeOut() {
	o.state.Visible = false
	o.changed()
	o.loop.After(fadeInTask, FadeDuration, o.fadeIn)
}

func (o *Overlay) fadeIn() {
	o.state.Position = Place(o.bounds, o.Block(), o.rng)
	o.state.Visible = true
	o.changed()
}

func (o *Overlay) tick() {
	o.state.Timestamp = o.loop.Now()
	o.changed()
}

// Resize follows the rendered video bounds, pulling the mark back inside
// when it no longer fits.
func (o *Overlay) Resize(bounds Size) {
	o.bounds = bounds
	o.state.Position = clampInto(o.state.Position, bounds, o.Block())
	o.changed()
}

func (o *Overlay) Dispose() {
	o.loop.Cancel(moveTask)
	o.loop.Cancel(fadeInTask)
	o.loop.Cancel(clockTask)
	o.onChange = nil
}

// Place picks a random top-left corner keeping block fully inside bounds.
// A block larger than bounds is pinned to the origin on that axis.
func Place(bounds, block Size, rng *rand.Rand) Point {
	var p Point
	if free := bounds.W - block.W; free > 0 {
		p.X = rng.Float64() * free
	}
	if free := bounds.H - block.H; free > 0 {
		p.Y = rng.Float64() * free
	}
	return p
}

func clampInto(p Point, bounds, block Size) Point {
	p.X = clampAxis(p.X, bounds.W-block.W)
	p.Y = clampAxis(p.Y, bounds.H-block.H)
	return p
}

func clampAxis(v, limit float64) float64 {
	if limit <= 0 || v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
