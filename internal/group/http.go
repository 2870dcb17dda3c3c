package group

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/httpmw"
	"wellnest/internal/model"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, logger: service.logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// StatusFor maps group errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrTeacherOnly), errors.Is(err, ErrStudentOnly):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotMember):
		return http.StatusNotFound
	case errors.Is(err, ErrArchived):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		httpmw.Logger(r.Context(), h.logger).Error(op, zap.Error(err))
		writeErr(w, code, "internal error")
		return
	}
	writeErr(w, code, err.Error())
}

func viewer(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
	}
	return u, ok
}

// GET, POST /api/groups
func (h *Handler) Collection(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		groups, err := h.service.List(r.Context(), u)
		if err != nil {
			h.fail(w, r, "list groups", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		var in struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		g, err := h.service.Create(r.Context(), u, in.Name, time.Now())
		if err != nil {
			h.fail(w, r, "create group", err)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// POST /api/groups/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	g, joined, err := h.service.Join(r.Context(), u, in.Code, time.Now())
	if err != nil {
		h.fail(w, r, "join group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": g, "joined": joined})
}

// POST /api/groups/{id}/leave
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	if err := h.service.Leave(r.Context(), u, model.GroupID(r.PathValue("id"))); err != nil {
		h.fail(w, r, "leave group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/groups/{id}/rotate-code
func (h *Handler) RotateCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	g, err := h.service.RotateCode(r.Context(), u, model.GroupID(r.PathValue("id")))
	if err != nil {
		h.fail(w, r, "rotate join code", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// POST /api/groups/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	g, err := h.service.Archive(r.Context(), u, model.GroupID(r.PathValue("id")), time.Now())
	if err != nil {
		h.fail(w, r, "archive group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GET /api/groups/{id}/members
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	members, err := h.service.Members(r.Context(), u, model.GroupID(r.PathValue("id")))
	if err != nil {
		h.fail(w, r, "list members", err)
		return
	}
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		row := map[string]any{
			"id":          m.User.ID,
			"displayName": m.User.Name(),
			"joinedAt":    m.JoinedAt,
		}
		// Classmates get names only; email stays with the teacher.
		if u.IsTeacher() {
			row["email"] = m.User.Email
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}
