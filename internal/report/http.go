package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

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

func StatusFor(err error) int {
	if errors.Is(err, ErrUserNotFound) {
		return http.StatusNotFound
	}
	return group.StatusFor(err)
}

// get wraps a read-only report endpoint.
func (h *Handler) get(op string, fn func(r *http.Request, u model.User) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		out, err := fn(r, u)
		if err != nil {
			code := StatusFor(err)
			if code == http.StatusInternalServerError {
				httpmw.Logger(r.Context(), h.service.logger).Error(op, zap.Error(err))
				writeErr(w, code, "internal error")
				return
			}
			writeErr(w, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /api/me/progress
func (h *Handler) MyProgress() http.HandlerFunc {
	return h.get("my progress", func(r *http.Request, u model.User) (any, error) {
		return h.service.MyProgress(r.Context(), u, time.Now())
	})
}

// GET /api/groups/{id}/dashboard
func (h *Handler) Dashboard() http.HandlerFunc {
	return h.get("teacher dashboard", func(r *http.Request, u model.User) (any, error) {
		return h.service.TeacherDashboard(r.Context(), u, model.GroupID(r.PathValue("id")), time.Now())
	})
}

// GET /api/groups/{id}/overview
func (h *Handler) Overview() http.HandlerFunc {
	return h.get("group overview", func(r *http.Request, u model.User) (any, error) {
		return h.service.GroupOverview(r.Context(), u, model.GroupID(r.PathValue("id")), time.Now())
	})
}

// GET /api/users/{id}/profile
func (h *Handler) Profile() http.HandlerFunc {
	return h.get("profile", func(r *http.Request, u model.User) (any, error) {
		return h.service.Profile(r.Context(), u, model.UserID(r.PathValue("id")), time.Now())
	})
}
