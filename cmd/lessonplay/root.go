package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/gate"
	"github.com/sendrec/lessonstream/internal/heartbeat"
	"github.com/sendrec/lessonstream/internal/logging"
	"github.com/sendrec/lessonstream/internal/player"
	"github.com/sendrec/lessonstream/internal/resolver"
	"github.com/sendrec/lessonstream/internal/schedule"
	"github.com/sendrec/lessonstream/internal/session"
	"github.com/sendrec/lessonstream/internal/watermark"
)

type options struct {
	baseURL      string
	token        string
	lesson       string
	course       string
	asset        string
	user         string
	phone        string
	lang         string
	scope        string
	deviceID     string
	duration     float64
	watch        time.Duration
	watermarkOut string
	width        int
	height       int
	logLevel     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "lessonplay",
		Short:        "Play a protected lesson headlessly",
		Long:         "Mount a lesson against a lesson service, answer the code challenge from stdin and play it on a simulated media element.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(logging.NewWriter(cmd.ErrOrStderr(), opts.logLevel, "text"))
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "lesson service base URL")
	f.StringVar(&opts.token, "token", os.Getenv("LESSONSTREAM_TOKEN"), "access token (defaults to $LESSONSTREAM_TOKEN)")
	f.StringVar(&opts.lesson, "lesson", "", "lesson id")
	f.StringVar(&opts.course, "course", "", "course id reported in heartbeats")
	f.StringVar(&opts.asset, "asset", "", "asset id, when the lesson has several")
	f.StringVar(&opts.user, "user", "", "user id shown in the watermark")
	f.StringVar(&opts.phone, "phone", "", "phone number shown in the watermark")
	f.StringVar(&opts.lang, "lang", "en", "language of the code message")
	f.StringVar(&opts.scope, "scope", "", "verification scope: empty for per lesson, or \"global\"")
	f.StringVar(&opts.deviceID, "device-id", "", "device id (generated when empty)")
	f.Float64Var(&opts.duration, "duration", 120, "simulated media length in seconds")
	f.DurationVar(&opts.watch, "watch", 0, "stop after this long (0 plays to the end)")
	f.StringVar(&opts.watermarkOut, "watermark-out", "", "write the last watermark frame to this PNG file")
	f.IntVar(&opts.width, "width", 1280, "rendered video width")
	f.IntVar(&opts.height, "height", 720, "rendered video height")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	_ = cmd.MarkFlagRequired("lesson")

	return cmd
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	if opts.duration <= 0 {
		return errors.New("--duration must be positive")
	}

	client := api.New(api.Config{BaseURL: opts.baseURL, AccessToken: opts.token})
	store := gate.NewMemoryStore()
	deviceID := opts.deviceID
	if deviceID == "" {
		deviceID = heartbeat.DeviceID(store)
	}
	client.SetDeviceID(deviceID)

	loop := schedule.New(nil)
	sess := session.New(session.Config{
		LessonID: opts.lesson,
		AssetID:  opts.asset,
		CourseID: opts.course,
		Lang:     opts.lang,
		Scope:    opts.scope,
		DeviceID: deviceID,
		BaseURL:  opts.baseURL,
		Identity: watermark.Identity{UserID: opts.user, Phone: opts.phone},
		Bounds:   watermark.Size{W: float64(opts.width), H: float64(opts.height)},
	}, session.Deps{
		Loop:       loop,
		Client:     client,
		Media:      player.NewSimMedia(loop, opts.duration),
		Cache:      gate.NewCache(store, loop.Clock()),
		Thumbnails: resolver.NewThumbnails(client, 0, 0),
		Seed:       uint64(time.Now().UnixNano()),
	})

	r := &reporter{out: out, loop: loop, sess: sess, opts: opts}
	sess.OnChange(r.update)
	go readCodes(in, loop, sess)

	loop.Post(sess.Mount)
	if opts.watch > 0 {
		loop.After("lessonplay.stop", opts.watch, r.finish)
	}

	err := loop.Run(ctx)
	if !sess.DisposeAndWait(10 * time.Second) {
		slog.Warn("lessonplay: final checkpoint still pending at exit")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return r.err
}

// readCodes feeds stdin lines to the gate as pasted codes.
func readCodes(in io.Reader, loop *schedule.Loop, sess *session.Session) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		loop.Post(func() {
			g := sess.Gate()
			if g == nil {
				return
			}
			if err := g.Paste(line); err != nil {
				slog.Warn("lessonplay: code rejected", "error", err)
			}
		})
	}
}

type reporter struct {
	out  io.Writer
	loop *schedule.Loop
	sess *session.Session
	opts *options

	phase     session.Phase
	gateState gate.State
	state     player.State
	started   bool
	done      bool
	err       error
}

func (r *reporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *reporter) update(v session.View) {
	if v.Phase != r.phase {
		r.phase = v.Phase
		r.printf("session: %s", v.Phase)
		if v.Phase == session.PhaseFailed {
			r.printf("error: %s", v.Error)
			r.err = errors.New(v.Error)
			r.loop.Post(r.finish)
			return
		}
	}

	if v.Phase == session.PhaseVerifying && v.Gate.State != r.gateState {
		r.gateState = v.Gate.State
		switch v.Gate.State {
		case gate.AwaitingCode:
			r.printf("enter the %d-digit code (expires in %s):", gate.CodeLength, gate.FormatCountdown(v.Gate.ExpiresIn))
		case gate.Error, gate.Idle:
			if v.Gate.Message != "" {
				r.printf("code: %s", v.Gate.Message)
			}
		}
	}

	if v.Player.State != r.state {
		r.state = v.Player.State
		r.printf("player: %s at %.1fs of %.1fs", v.Player.State, v.Player.CurrentTime, v.Player.Duration)
		switch v.Player.State {
		case player.Ready:
			if !r.started {
				r.started = true
				r.loop.Post(r.sess.Controller().Play)
			}
		case player.Ended:
			r.loop.Post(r.finish)
		case player.Errored:
			r.err = errors.New(v.Player.Message)
			r.loop.Post(r.finish)
		}
	}
}

func (r *reporter) finish() {
	if r.done {
		return
	}
	r.done = true
	if r.opts.watermarkOut != "" {
		if err := r.writeWatermark(); err != nil {
			slog.Error("lessonplay: watermark frame", "error", err)
		}
	}
	r.sess.Dispose()
}

func (r *reporter) writeWatermark() error {
	f, err := os.Create(r.opts.watermarkOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.opts.watermarkOut, err)
	}
	defer func() { _ = f.Close() }()

	st := r.sess.View().Watermark
	st.Visible = true
	return watermark.RenderPNG(f, r.opts.width, r.opts.height, st)
}
