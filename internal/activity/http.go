package activity

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/group"
	"wellnest/internal/httpmw"
	"wellnest/internal/model"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// GET /api/groups/{id}/activity?limit=N
func (h *Handler) GroupFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}
	feed, err := h.service.GroupFeed(r.Context(), u, model.GroupID(r.PathValue("id")), limit)
	if err != nil {
		code := group.StatusFor(err)
		if code == http.StatusInternalServerError {
			httpmw.Logger(r.Context(), h.service.logger).Error("group feed", zap.Error(err))
			writeErr(w, code, "internal error")
			return
		}
		writeErr(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feed)
}
