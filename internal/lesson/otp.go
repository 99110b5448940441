package lesson

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/auth"
	"github.com/sendrec/lessonstream/internal/httputil"
	"github.com/sendrec/lessonstream/internal/languages"
	"github.com/sendrec/lessonstream/internal/otpstore"
	"github.com/sendrec/lessonstream/internal/validate"
)

// OTP handles both actions of the verification endpoint.
func (h *Handler) OTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req api.OTPRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validate.LessonID(req.LessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	switch req.Action {
	case api.OTPActionRequest:
		h.requestCode(w, r, claims, req)
	case api.OTPActionVerify:
		h.verifyCode(w, r, claims, req)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "action must be request or verify")
	}
}

func (h *Handler) requestCode(w http.ResponseWriter, r *http.Request, claims *auth.Claims, req api.OTPRequest) {
	if claims.IsStaff() {
		h.metrics.OTPRequests.WithLabelValues("bypass").Inc()
		httputil.WriteJSON(w, http.StatusOK, api.OTPRequestResponse{Bypass: true})
		return
	}
	if claims.Email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "No email address is registered for this account.")
		return
	}

	code, err := h.codes.Issue(r.Context(), claims.UserID, req.LessonID)
	if errors.Is(err, otpstore.ErrCooldown) {
		h.metrics.OTPRequests.WithLabelValues("cooldown").Inc()
		w.Header().Set("Retry-After", "60")
		httputil.WriteError(w, http.StatusTooManyRequests, "Please wait before requesting another code.")
		return
	}
	if err != nil {
		h.metrics.OTPRequests.WithLabelValues("error").Inc()
		slog.Error("lesson: issue code failed", "lesson_id", req.LessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Could not send the verification code. Please try again.")
		return
	}

	ttl := h.codes.TTL()
	if err := h.sender.SendOTP(r.Context(), claims.Email, code, languages.Normalize(req.Lang), ttl); err != nil {
		h.metrics.OTPRequests.WithLabelValues("error").Inc()
		slog.Error("lesson: deliver code failed", "lesson_id", req.LessonID, "error", err)
		if err := h.codes.Release(r.Context(), claims.UserID, req.LessonID); err != nil {
			slog.Warn("lesson: release undelivered code failed", "lesson_id", req.LessonID, "error", err)
		}
		httputil.WriteError(w, http.StatusBadGateway, "Could not send the verification code. Please try again.")
		return
	}

	h.metrics.OTPRequests.WithLabelValues("sent").Inc()
	slog.Info("lesson: verification code sent", "lesson_id", req.LessonID, "user_id", claims.UserID)
	httputil.WriteJSON(w, http.StatusOK, api.OTPRequestResponse{Success: true, ExpiresIn: int(ttl.Seconds())})
}

func (h *Handler) verifyCode(w http.ResponseWriter, r *http.Request, claims *auth.Claims, req api.OTPRequest) {
	if msg := validate.OTPCode(req.Code); msg != "" {
		writeVerifyFailure(w, http.StatusBadRequest, msg)
		return
	}

	err := h.codes.Verify(r.Context(), claims.UserID, req.LessonID, req.Code)
	switch {
	case errors.Is(err, otpstore.ErrInvalidCode):
		h.metrics.OTPVerifyFailures.WithLabelValues("invalid").Inc()
		writeVerifyFailure(w, http.StatusBadRequest, "Invalid verification code.")
		return
	case errors.Is(err, otpstore.ErrNoChallenge):
		h.metrics.OTPVerifyFailures.WithLabelValues("expired").Inc()
		writeVerifyFailure(w, http.StatusBadRequest, "The code has expired. Request a new one.")
		return
	case errors.Is(err, otpstore.ErrTooManyAttempts):
		h.metrics.OTPVerifyFailures.WithLabelValues("locked").Inc()
		writeVerifyFailure(w, http.StatusTooManyRequests, "Too many attempts. Request a new code.")
		return
	case err != nil:
		slog.Error("lesson: verify code failed", "lesson_id", req.LessonID, "error", err)
		writeVerifyFailure(w, http.StatusInternalServerError, "Could not verify the code. Please try again.")
		return
	}

	scope := req.LessonID
	if h.cfg.GlobalSessions {
		scope = auth.GlobalLesson
	}
	token, expiresAt, err := auth.GenerateVideoSession(h.cfg.VideoSessionSecret, claims.UserID, scope, h.cfg.VideoSessionTTL)
	if err != nil {
		slog.Error("lesson: issue video session failed", "lesson_id", req.LessonID, "error", err)
		writeVerifyFailure(w, http.StatusInternalServerError, "Could not verify the code. Please try again.")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, api.OTPVerifyResponse{
		Verified:          true,
		VideoSessionToken: token,
		ExpiresAt:         expiresAt.UnixMilli(),
	})
}

func writeVerifyFailure(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSON(w, status, api.OTPVerifyResponse{Verified: false, Error: msg})
}
