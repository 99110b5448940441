package lesson

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/auth"
	"github.com/sendrec/lessonstream/internal/httputil"
	"github.com/sendrec/lessonstream/internal/validate"
)

// CompletionRatio is the watched share above which a lesson counts as done.
const CompletionRatio = 0.9

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	lessonID := r.URL.Query().Get("lessonId")
	if msg := validate.LessonID(lessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var p api.Progress
	err := h.db.QueryRow(r.Context(),
		`SELECT p.watched_seconds, p.preferred_speed, COALESCE(d.duration, p.total_seconds)
		 FROM lesson_progress p
		 LEFT JOIN lesson_durations d ON d.lesson_id = p.lesson_id
		 WHERE p.user_id = $1 AND p.lesson_id = $2`,
		userID, lessonID,
	).Scan(&p.Progress, &p.PreferredSpeed, &p.Duration)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteJSON(w, http.StatusOK, api.ProgressResponse{Success: true})
		return
	}
	if err != nil {
		slog.Error("lesson: progress lookup failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, api.ProgressResponse{Success: true, Progress: &p})
}

// PostProgress upserts a checkpoint. Repeating a checkpoint is harmless and
// a completed lesson stays completed.
func (h *Handler) PostProgress(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req api.ProgressRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PreferredSpeed == 0 {
		req.PreferredSpeed = 1
	}
	for _, msg := range []string{
		validate.LessonID(req.LessonID),
		validate.Duration(req.TotalSeconds, "totalSeconds"),
		validate.Seconds(req.WatchedSeconds, "watchedSeconds"),
		validate.PlaybackSpeed(req.PreferredSpeed),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	watched := min(req.WatchedSeconds, req.TotalSeconds)
	completed := req.Completed || watched/req.TotalSeconds > CompletionRatio

	var nowCompleted, wasCompleted bool
	err := h.db.QueryRow(r.Context(),
		`WITH previous AS (
		   SELECT completed FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2
		 )
		 INSERT INTO lesson_progress (user_id, lesson_id, watched_seconds, total_seconds, completed, preferred_speed, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
		   watched_seconds = EXCLUDED.watched_seconds,
		   total_seconds = EXCLUDED.total_seconds,
		   completed = lesson_progress.completed OR EXCLUDED.completed,
		   preferred_speed = EXCLUDED.preferred_speed,
		   updated_at = now()
		 RETURNING completed, COALESCE((SELECT completed FROM previous), false)`,
		userID, req.LessonID, watched, req.TotalSeconds, completed, req.PreferredSpeed,
	).Scan(&nowCompleted, &wasCompleted)
	if err != nil {
		slog.Error("lesson: progress write failed", "lesson_id", req.LessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save progress")
		return
	}
	h.metrics.ProgressWrites.WithLabelValues("checkpoint").Inc()
	if nowCompleted && !wasCompleted && h.notify != nil {
		h.notify.LessonCompleted(r.Context(), userID, req.LessonID, watched)
	}
	httputil.WriteJSON(w, http.StatusOK, api.Ack{Success: true})
}

// PostDuration records a lesson's media length. The first report wins.
func (h *Handler) PostDuration(w http.ResponseWriter, r *http.Request) {
	var req api.DurationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validate.LessonID(req.LessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.Duration(req.Duration, "duration"); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	_, err := h.db.Exec(r.Context(),
		`INSERT INTO lesson_durations (lesson_id, duration) VALUES ($1, $2)
		 ON CONFLICT (lesson_id) DO NOTHING`,
		req.LessonID, req.Duration,
	)
	if err != nil {
		slog.Error("lesson: duration write failed", "lesson_id", req.LessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save duration")
		return
	}
	h.metrics.ProgressWrites.WithLabelValues("duration").Inc()
	httputil.WriteJSON(w, http.StatusOK, api.Ack{Success: true})
}
