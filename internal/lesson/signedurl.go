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

func (h *Handler) SignedURL(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req api.SignedURLRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validate.LessonID(req.LessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.OptionalID(req.AssetID, "assetId"); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	kind := req.Type
	if kind == "" {
		kind = api.AssetTypeVideo
	}
	if kind != api.AssetTypeVideo && kind != api.AssetTypeThumbnail {
		httputil.WriteError(w, http.StatusBadRequest, "type must be video or thumbnail")
		return
	}

	// Posters are shown before the code challenge; media is not.
	if kind == api.AssetTypeVideo && !claims.IsStaff() {
		token := r.Header.Get(api.VideoSessionHeader)
		if token == "" {
			httputil.WriteError(w, http.StatusForbidden, "verification required")
			return
		}
		if err := auth.ValidateVideoSession(h.cfg.VideoSessionSecret, token, claims.UserID, req.LessonID); err != nil {
			httputil.WriteError(w, http.StatusForbidden, "verification expired")
			return
		}
	}

	var fileKey string
	var err error
	if req.AssetID != "" {
		err = h.db.QueryRow(r.Context(),
			`SELECT file_key FROM lesson_assets WHERE lesson_id = $1 AND asset_id = $2 AND kind = $3`,
			req.LessonID, req.AssetID, kind,
		).Scan(&fileKey)
	} else {
		err = h.db.QueryRow(r.Context(),
			`SELECT file_key FROM lesson_assets WHERE lesson_id = $1 AND kind = $2
			 ORDER BY is_default DESC, created_at ASC LIMIT 1`,
			req.LessonID, kind,
		).Scan(&fileKey)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "lesson not found")
		return
	}
	if err != nil {
		slog.Error("lesson: asset lookup failed", "lesson_id", req.LessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load lesson")
		return
	}

	signed, err := h.storage.GenerateDownloadURL(r.Context(), fileKey, h.cfg.SignedURLTTL)
	if err != nil {
		slog.Error("lesson: presign failed", "lesson_id", req.LessonID, "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "failed to sign url")
		return
	}
	h.metrics.SignedURLs.WithLabelValues(kind).Inc()

	resp := api.SignedURLResponse{SignedURL: signed}
	if kind == api.AssetTypeThumbnail {
		resp.PublicURL = h.storage.PublicURL(fileKey)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
