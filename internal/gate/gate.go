// Package gate runs the one-time-code challenge a viewer must pass before a
// protected lesson resolves its media URL.
//
// The server owns the code and its expiry. The countdowns kept here only
// mirror them for display and never block a verify attempt.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	CodeLength      = 6
	ResendCooldown  = 60 * time.Second
	DefaultCodeTTL  = 300 * time.Second
	countdownTick   = time.Second
	expiryTask      = "otp.expiry"
	resendTask      = "otp.resend"
	requestFallback = "Could not send the verification code. Please try again."
	verifyFallback  = "Invalid verification code."
)

var ErrCooldown = errors.New("please wait before requesting another code")

type State int

const (
	Idle State = iota
	Requesting
	AwaitingCode
	Verifying
	Success
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case AwaitingCode:
		return "awaiting_code"
	case Verifying:
		return "verifying"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "unknown"
}

// ValidationError is a malformed code entry. It is shown inline and nothing
// is sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type Client interface {
	RequestOTP(ctx context.Context, lessonID, lang string) (api.OTPRequestResponse, error)
	VerifyOTP(ctx context.Context, lessonID, code string) (api.OTPVerifyResponse, error)
}

// Status is everything a view needs to render the gate.
type Status struct {
	State     State
	Digits    [CodeLength]string
	Focus     int
	ExpiresIn time.Duration
	ResendIn  time.Duration
	Message   string
}

// Result is the outcome of a successful challenge. Token is empty for
// accounts the service lets through without a code.
type Result struct {
	Token     string
	ExpiresAt time.Time
	Bypass    bool
}

type Gate struct {
	loop     *schedule.Loop
	client   Client
	lessonID string
	lang     string

	state     State
	digits    [CodeLength]string
	focus     int
	message   string
	expiresAt time.Time
	resendAt  time.Time

	onChange  func(Status)
	onSuccess func(Result)
}

func New(loop *schedule.Loop, client Client, lessonID, lang string) *Gate {
	return &Gate{
		loop:     loop,
		client:   client,
		lessonID: lessonID,
		lang:     lang,
	}
}

func (g *Gate) OnChange(fn func(Status)) {
	g.onChange = fn
}

func (g *Gate) OnSuccess(fn func(Result)) {
	g.onSuccess = fn
}

func (g *Gate) State() State {
	return g.state
}

func (g *Gate) Status() Status {
	now := g.loop.Now()
	st := Status{
		State:   g.state,
		Digits:  g.digits,
		Focus:   g.focus,
		Message: g.message,
	}
	if g.state == AwaitingCode || g.state == Verifying || g.state == Error {
		st.ExpiresIn = remaining(g.expiresAt, now)
		st.ResendIn = remaining(g.resendAt, now)
	}
	return st
}

func remaining(until, now time.Time) time.Duration {
	if until.IsZero() || !until.After(now) {
		return 0
	}
	return until.Sub(now).Round(time.Second)
}

func (g *Gate) changed() {
	if g.onChange != nil {
		g.onChange(g.Status())
	}
}

// Request asks the service to send a code.
func (g *Gate) Request() {
	switch g.state {
	case Requesting, Verifying, Success:
		return
	}
	g.state = Requesting
	g.message = ""
	g.changed()

	lessonID, lang := g.lessonID, g.lang
	g.loop.Go(func(ctx context.Context) func() {
		resp, err := g.client.RequestOTP(ctx, lessonID, lang)
		return func() { g.requested(resp, err) }
	})
}

func (g *Gate) requested(resp api.OTPRequestResponse, err error) {
	switch {
	case err != nil:
		slog.Warn("gate: otp request failed", "lesson_id", g.lessonID, "error", err)
		g.state = Idle
		g.message = serverMessage(err, requestFallback)
	case resp.Bypass:
		g.succeed(Result{Bypass: true})
		return
	case resp.Error != "":
		g.state = Idle
		g.message = resp.Error
	case resp.Success:
		now := g.loop.Now()
		ttl := time.Duration(resp.ExpiresIn) * time.Second
		if ttl <= 0 {
			ttl = DefaultCodeTTL
		}
		g.state = AwaitingCode
		g.clearDigits()
		g.expiresAt = now.Add(ttl)
		g.resendAt = now.Add(ResendCooldown)
		g.loop.Every(expiryTask, countdownTick, g.tickExpiry)
		g.loop.Every(resendTask, countdownTick, g.tickResend)
	default:
		g.state = Idle
		g.message = requestFallback
	}
	g.changed()
}

// Resend requests a fresh code once the cooldown has passed.
func (g *Gate) Resend() error {
	if g.state == Requesting || g.state == Verifying || g.state == Success {
		return nil
	}
	if g.loop.Now().Before(g.resendAt) {
		return ErrCooldown
	}
	g.Request()
	return nil
}

func (g *Gate) tickExpiry() {
	if !g.loop.Now().Before(g.expiresAt) {
		g.loop.Cancel(expiryTask)
	}
	g.changed()
}

func (g *Gate) tickResend() {
	if !g.loop.Now().Before(g.resendAt) {
		g.loop.Cancel(resendTask)
	}
	g.changed()
}

func (g *Gate) accepting() bool {
	return g.state == AwaitingCode || g.state == Error
}

func (g *Gate) clearDigits() {
	g.digits = [CodeLength]string{}
	g.focus = 0
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Input sets the digit at index. A value longer than one character is
// handled as a paste.
func (g *Gate) Input(index int, value string) error {
	if !g.accepting() || index < 0 || index >= CodeLength {
		return nil
	}
	if len(value) > 1 {
		return g.Paste(value)
	}
	if value != "" && !isDigit(rune(value[0])) {
		return &ValidationError{Message: "Only digits are allowed."}
	}
	g.resetError()
	g.digits[index] = value
	if value != "" && index < CodeLength-1 {
		g.focus = index + 1
	} else {
		g.focus = index
	}
	g.changed()
	g.autoSubmit()
	return nil
}

// Paste fills the inputs from the start with a pasted code.
func (g *Gate) Paste(text string) error {
	if !g.accepting() {
		return nil
	}
	code := strings.Join(strings.Fields(text), "")
	if code == "" {
		return nil
	}
	for _, r := range code {
		if !isDigit(r) {
			return &ValidationError{Message: "The code must contain only digits."}
		}
	}
	if len(code) > CodeLength {
		code = code[:CodeLength]
	}
	g.resetError()
	g.clearDigits()
	for i, r := range code {
		g.digits[i] = string(r)
	}
	g.focus = min(len(code), CodeLength-1)
	g.changed()
	g.autoSubmit()
	return nil
}

func (g *Gate) Backspace(index int) {
	if !g.accepting() || index < 0 || index >= CodeLength {
		return
	}
	if g.digits[index] == "" && index > 0 {
		index--
	}
	g.digits[index] = ""
	g.focus = index
	g.changed()
}

func (g *Gate) resetError() {
	if g.state == Error {
		g.state = AwaitingCode
		g.message = ""
	}
}

func (g *Gate) code() (string, bool) {
	var b strings.Builder
	for _, d := range g.digits {
		if d == "" {
			return "", false
		}
		b.WriteString(d)
	}
	return b.String(), true
}

func (g *Gate) autoSubmit() {
	if g.state != AwaitingCode {
		return
	}
	if code, ok := g.code(); ok {
		g.verify(code)
	}
}

// Submit verifies the entered code explicitly.
func (g *Gate) Submit() error {
	if !g.accepting() {
		return nil
	}
	code, ok := g.code()
	if !ok {
		return &ValidationError{Message: fmt.Sprintf("Enter all %d digits.", CodeLength)}
	}
	g.verify(code)
	return nil
}

func (g *Gate) verify(code string) {
	g.state = Verifying
	g.message = ""
	g.changed()

	lessonID := g.lessonID
	g.loop.Go(func(ctx context.Context) func() {
		resp, err := g.client.VerifyOTP(ctx, lessonID, code)
		return func() { g.verified(resp, err) }
	})
}

func (g *Gate) verified(resp api.OTPVerifyResponse, err error) {
	if err == nil && resp.Verified {
		res := Result{Token: resp.VideoSessionToken}
		if resp.ExpiresAt > 0 {
			res.ExpiresAt = time.UnixMilli(resp.ExpiresAt)
		}
		g.succeed(res)
		return
	}

	switch {
	case err != nil:
		slog.Warn("gate: otp verify failed", "lesson_id", g.lessonID, "error", err)
		g.message = serverMessage(err, verifyFallback)
	case resp.Error != "":
		g.message = resp.Error
	default:
		g.message = verifyFallback
	}
	g.state = Error
	g.clearDigits()
	g.changed()
}

func (g *Gate) succeed(res Result) {
	g.state = Success
	g.message = ""
	g.clearDigits()
	g.stopCountdowns()
	g.changed()
	if g.onSuccess != nil {
		g.onSuccess(res)
	}
}

func (g *Gate) stopCountdowns() {
	g.loop.Cancel(expiryTask)
	g.loop.Cancel(resendTask)
}

func (g *Gate) Dispose() {
	g.stopCountdowns()
	g.onChange = nil
	g.onSuccess = nil
}

func serverMessage(err error, fallback string) string {
	var se *api.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fallback
}

// FormatCountdown renders d as m:ss.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
