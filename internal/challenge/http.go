package challenge

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
	switch {
	case errors.Is(err, ErrInvalidTitle), errors.Is(err, ErrInvalidTarget),
		errors.Is(err, ErrInvalidDates), errors.Is(err, ErrInvalidReward), errors.Is(err, ErrCategory):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return group.StatusFor(err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		httpmw.Logger(r.Context(), h.service.logger).Error(op, zap.Error(err))
		writeErr(w, code, "internal error")
		return
	}
	writeErr(w, code, err.Error())
}

// GET, POST /api/groups/{id}/challenges
func (h *Handler) Collection(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	groupID := model.GroupID(r.PathValue("id"))
	switch r.Method {
	case http.MethodGet:
		boards, err := h.service.Boards(r.Context(), u, groupID, time.Now())
		if err != nil {
			h.fail(w, r, "challenge boards", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"challenges": boards})
	case http.MethodPost:
		var in Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		c, err := h.service.Create(r.Context(), u, groupID, in, time.Now())
		if err != nil {
			h.fail(w, r, "create challenge", err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /api/challenges/{id}
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	b, err := h.service.Get(r.Context(), u, model.ChallengeID(r.PathValue("id")), time.Now())
	if err != nil {
		h.fail(w, r, "get challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
