package lesson

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/auth"
	"github.com/sendrec/lessonstream/internal/geoip"
	"github.com/sendrec/lessonstream/internal/httputil"
	"github.com/sendrec/lessonstream/internal/validate"
)

const otherDeviceMessage = "This lesson is playing on another device."

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req api.HeartbeatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event != api.HeartbeatEventName {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported event")
		return
	}
	md := req.Metadata
	deviceID := r.Header.Get(api.DeviceIDHeader)
	if deviceID == "" {
		deviceID = md.DeviceID
	}
	for _, msg := range []string{
		validate.LessonID(md.LessonID),
		validate.OptionalID(md.CourseID, "courseId"),
		validate.DeviceID(deviceID),
		validate.Seconds(md.CurrentTime, "currentTime"),
		validate.Seconds(md.Duration, "duration"),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	if h.leases != nil {
		ok, err := h.leases.Acquire(r.Context(), userID, deviceID)
		if err != nil {
			slog.Warn("lesson: device lease unavailable, accepting heartbeat", "user_id", userID, "error", err)
		} else if !ok {
			h.metrics.DeviceConflicts.Inc()
			slog.Info("lesson: playback on second device stopped", "user_id", userID, "device_id", deviceID, "lesson_id", md.LessonID)
			httputil.WriteStop(w, http.StatusConflict, otherDeviceMessage)
			return
		}
	}

	var loc geoip.Location
	if h.geo != nil {
		loc = h.geo.Lookup(httputil.ClientIP(r))
	}

	_, err := h.db.Exec(r.Context(),
		`INSERT INTO heartbeats (user_id, lesson_id, course_id, device_id, position, duration, country, city, device_label)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		userID, md.LessonID, md.CourseID, deviceID, md.CurrentTime, md.Duration,
		loc.Country, loc.City, deviceLabel(r.UserAgent()),
	)
	if err != nil {
		slog.Error("lesson: heartbeat write failed", "lesson_id", md.LessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	h.metrics.Heartbeats.Inc()
	httputil.WriteJSON(w, http.StatusOK, api.HeartbeatResponse{Success: true})
}

// deviceLabel summarises a user agent as "Browser on OS".
func deviceLabel(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	browser, _ := parsed.Browser()
	label := browser
	if os := parsed.OSInfo().Name; os != "" {
		label = fmt.Sprintf("%s on %s", browser, os)
	}
	if parsed.Mobile() {
		label += " (mobile)"
	}
	return label
}
