package habit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/httpmw"
	"wellnest/internal/model"
	"wellnest/internal/progress"
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

// decodeJSON accepts an empty body as "no fields set".
func decodeJSON(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTitle), errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidDifficulty), errors.Is(err, ErrInvalidVisibility),
		errors.Is(err, ErrFutureDay), errors.Is(err, ErrBeyondBackfill):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCompletionNotFound):
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
		httpmw.Logger(r.Context(), h.service.logger).Error(op, zap.Error(err))
		writeErr(w, code, "internal error")
		return
	}
	writeErr(w, code, err.Error())
}

func owner(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
	}
	return u, ok
}

func parseDayParam(s string) (progress.Day, error) {
	if strings.TrimSpace(s) == "" {
		return progress.Day{}, nil
	}
	return progress.ParseDay(s)
}

// GET, POST /api/habits
func (h *Handler) Collection(w http.ResponseWriter, r *http.Request) {
	u, ok := owner(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		includeArchived := r.URL.Query().Get("archived") == "true"
		habits, err := h.service.List(r.Context(), u, includeArchived)
		if err != nil {
			h.fail(w, r, "list habits", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"habits": habits})
	case http.MethodPost:
		var in Input
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		hb, err := h.service.Create(r.Context(), u, in, time.Now())
		if err != nil {
			h.fail(w, r, "create habit", err)
			return
		}
		writeJSON(w, http.StatusCreated, hb)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// PATCH, DELETE /api/habits/{id}
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	u, ok := owner(w, r)
	if !ok {
		return
	}
	id := model.HabitID(r.PathValue("id"))
	switch r.Method {
	case http.MethodPatch:
		var p Patch
		if err := decodeJSON(r, &p); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		hb, err := h.service.Update(r.Context(), u, id, p)
		if err != nil {
			h.fail(w, r, "update habit", err)
			return
		}
		writeJSON(w, http.StatusOK, hb)
	case http.MethodDelete:
		hb, err := h.service.Archive(r.Context(), u, id, time.Now())
		if err != nil {
			h.fail(w, r, "archive habit", err)
			return
		}
		writeJSON(w, http.StatusOK, hb)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// POST, DELETE /api/habits/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	u, ok := owner(w, r)
	if !ok {
		return
	}
	id := model.HabitID(r.PathValue("id"))
	switch r.Method {
	case http.MethodPost:
		var in struct {
			Day string `json:"day"`
		}
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		day, err := parseDayParam(in.Day)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		res, err := h.service.LogCompletion(r.Context(), u, id, day, time.Now())
		if err != nil {
			h.fail(w, r, "log completion", err)
			return
		}
		code := http.StatusOK
		if res.Counted {
			code = http.StatusCreated
		}
		writeJSON(w, code, res)
	case http.MethodDelete:
		day, err := parseDayParam(r.URL.Query().Get("day"))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		if err := h.service.UndoCompletion(r.Context(), u, id, day, time.Now()); err != nil {
			h.fail(w, r, "undo completion", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /api/habits/{id}/history?days=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := owner(w, r)
	if !ok {
		return
	}
	days := h.service.Window()
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			writeErr(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = n
	}
	hist, err := h.service.History(r.Context(), u, model.HabitID(r.PathValue("id")), days, time.Now())
	if err != nil {
		h.fail(w, r, "habit history", err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
