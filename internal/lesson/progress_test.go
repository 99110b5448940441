package lesson

import (
	"math"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/sendrec/lessonstream/internal/api"
)

func TestGetProgress_Stored(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`SELECT p.watched_seconds, p.preferred_speed`).
		WithArgs("user-1", "lesson-1").
		WillReturnRows(pgxmock.NewRows([]string{"watched_seconds", "preferred_speed", "duration"}).AddRow(125.0, 1.25, 600.0))

	rec := serve(env.handler.GetProgress, newRequest(t, http.MethodGet, "/api/progress?lessonId=lesson-1", student, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[api.ProgressResponse](t, rec)
	if !resp.Success || resp.Progress == nil {
		t.Fatalf("expected progress, got %+v", resp)
	}
	if *resp.Progress != (api.Progress{Progress: 125, PreferredSpeed: 1.25, Duration: 600}) {
		t.Errorf("unexpected progress %+v", *resp.Progress)
	}
}

func TestGetProgress_NoneIsNull(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`SELECT p.watched_seconds`).
		WithArgs("user-1", "lesson-1").
		WillReturnError(pgx.ErrNoRows)

	rec := serve(env.handler.GetProgress, newRequest(t, http.MethodGet, "/api/progress?lessonId=lesson-1", student, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "{\"success\":true,\"progress\":null}\n" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestGetProgress_Errors(t *testing.T) {
	env := newTestEnv(t)
	if rec := serve(env.handler.GetProgress, newRequest(t, http.MethodGet, "/api/progress", student, nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without lessonId, got %d", rec.Code)
	}

	env.mock.ExpectQuery(`SELECT p.watched_seconds`).WithArgs("user-1", "lesson-1").WillReturnError(errDB)
	if rec := serve(env.handler.GetProgress, newRequest(t, http.MethodGet, "/api/progress?lessonId=lesson-1", student, nil)); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on database error, got %d", rec.Code)
	}
}

func TestPostProgress_Upserts(t *testing.T) {
	tests := []struct {
		name      string
		req       api.ProgressRequest
		watched   float64
		completed bool
		speed     float64
	}{
		{"midway", api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 130, TotalSeconds: 600, PreferredSpeed: 1.25}, 130, false, 1.25},
		{"past threshold", api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 550, TotalSeconds: 600, PreferredSpeed: 1}, 550, true, 1},
		{"watched clamped", api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 601, TotalSeconds: 600, PreferredSpeed: 1}, 600, true, 1},
		{"speed defaults", api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 10, TotalSeconds: 600}, 10, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mock.ExpectQuery(`(?s)WITH previous AS.*INSERT INTO lesson_progress`).
				WithArgs("user-1", "lesson-1", tt.watched, 600.0, tt.completed, tt.speed).
				WillReturnRows(pgxmock.NewRows([]string{"completed", "coalesce"}).AddRow(tt.completed, false))

			rec := serve(env.handler.PostProgress, newRequest(t, http.MethodPost, "/api/progress", student, tt.req))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if !decodeBody[api.Ack](t, rec).Success {
				t.Error("expected success ack")
			}
			if err := env.mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestPostProgress_NotifiesFirstCompletion(t *testing.T) {
	tests := []struct {
		name         string
		nowCompleted bool
		wasCompleted bool
		wantNotified bool
	}{
		{"first completion", true, false, true},
		{"already completed", true, true, false},
		{"still watching", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mock.ExpectQuery(`INSERT INTO lesson_progress`).
				WithArgs("user-1", "lesson-1", 580.0, 600.0, true, 1.0).
				WillReturnRows(pgxmock.NewRows([]string{"completed", "coalesce"}).AddRow(tt.nowCompleted, tt.wasCompleted))

			req := api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 580, TotalSeconds: 600, PreferredSpeed: 1}
			if rec := serve(env.handler.PostProgress, newRequest(t, http.MethodPost, "/api/progress", student, req)); rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}

			if got := len(env.completed.calls) == 1; got != tt.wantNotified {
				t.Fatalf("notified = %v, want %v (%v)", got, tt.wantNotified, env.completed.calls)
			}
			if tt.wantNotified && env.completed.calls[0] != "user-1/lesson-1/580" {
				t.Errorf("unexpected notification %q", env.completed.calls[0])
			}
		})
	}
}

func TestPostProgress_RejectsUnknownTotals(t *testing.T) {
	for _, total := range []float64{0, -5, math.MaxFloat64} {
		env := newTestEnv(t)
		req := api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 10, TotalSeconds: total, PreferredSpeed: 1}
		rec := serve(env.handler.PostProgress, newRequest(t, http.MethodPost, "/api/progress", student, req))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("total %v: expected 400, got %d", total, rec.Code)
		}
	}
}

func TestPostProgress_DatabaseError(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`INSERT INTO lesson_progress`).WillReturnError(errDB)

	req := api.ProgressRequest{LessonID: "lesson-1", WatchedSeconds: 10, TotalSeconds: 600, PreferredSpeed: 1}
	rec := serve(env.handler.PostProgress, newRequest(t, http.MethodPost, "/api/progress", student, req))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPostDuration_InsertIfAbsent(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`(?s)INSERT INTO lesson_durations.*ON CONFLICT \(lesson_id\) DO NOTHING`).
		WithArgs("lesson-1", 612.4).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	rec := serve(env.handler.PostDuration, newRequest(t, http.MethodPost, "/api/duration", student, api.DurationRequest{LessonID: "lesson-1", Duration: 612.4}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostDuration_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, req := range []api.DurationRequest{{Duration: 10}, {LessonID: "l", Duration: 0}, {LessonID: "l", Duration: -1}} {
		rec := serve(env.handler.PostDuration, newRequest(t, http.MethodPost, "/api/duration", student, req))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", req, rec.Code)
		}
	}
}
