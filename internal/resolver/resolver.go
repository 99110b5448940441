// Package resolver turns a lesson or asset into a short-lived playback URL.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/schedule"
)

const (
	MaxRetries = 3
	RetryDelay = 2 * time.Second
	retryTask  = "resolver.retry"
)

type Client interface {
	ResolveSignedURL(ctx context.Context, req api.SignedURLRequest) (api.SignedURLResponse, error)
}

// Error is a terminal resolution failure. Message is fit to show the viewer.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failure(err error) *Error {
	status := api.StatusOf(err)
	msg := "Failed to load video"
	if status != 0 {
		msg = fmt.Sprintf("Failed to load video (%d)", status)
	}
	if se, ok := err.(*api.StatusError); ok && se.Message != "" && !api.IsTransient(err) {
		msg = se.Message
	}
	return &Error{Status: status, Message: msg, Err: err}
}

type Resolver struct {
	loop   *schedule.Loop
	client Client
}

func New(loop *schedule.Loop, client Client) *Resolver {
	return &Resolver{loop: loop, client: client}
}

// Resolve fetches a signed URL and reports it to done on the loop. Statuses
// 401, 500 and 503 are retried MaxRetries times, RetryDelay apart.
func (r *Resolver) Resolve(req api.SignedURLRequest, done func(url string, err error)) {
	r.attempt(req, 0, done)
}

func (r *Resolver) attempt(req api.SignedURLRequest, retry int, done func(string, error)) {
	r.loop.Go(func(ctx context.Context) func() {
		resp, err := r.client.ResolveSignedURL(ctx, req)
		return func() {
			if err == nil && resp.SignedURL == "" {
				err = fmt.Errorf("empty signed url for lesson %s", req.LessonID)
			}
			if err == nil {
				done(resp.SignedURL, nil)
				return
			}
			if api.IsTransient(err) && retry < MaxRetries {
				slog.Warn("resolver: retrying signed url",
					"lesson_id", req.LessonID,
					"status", api.StatusOf(err),
					"attempt", retry+1,
				)
				r.loop.After(retryTask, RetryDelay, func() {
					r.attempt(req, retry+1, done)
				})
				return
			}
			slog.Error("resolver: signed url failed", "lesson_id", req.LessonID, "error", err)
			done("", failure(err))
		}
	})
}

// Cancel drops a pending retry.
func (r *Resolver) Cancel() {
	r.loop.Cancel(retryTask)
}
