package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

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

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func userJSON(u model.User) map[string]any {
	return map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"displayName": u.Name(),
		"role":        u.Role,
	}
}

// POST /api/auth/request-otp
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var in struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	exp, _, err := h.service.RequestOTP(r.Context(), in.Email, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail):
			writeErr(w, http.StatusBadRequest, err.Error())
		default:
			httpmw.Logger(r.Context(), h.service.logger).Error("request otp", zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "could not request otp")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"expiresAt": exp.Format(time.RFC3339),
	})
}

// POST /api/auth/verify-otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var in struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		Role        string `json:"role"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	login, err := h.service.VerifyOTP(r.Context(), VerifyInput{
		Email:       in.Email,
		Code:        in.Code,
		Role:        in.Role,
		DisplayName: in.DisplayName,
	}, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidOTPFormat),
			errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidName):
			writeErr(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInvalidOTP), errors.Is(err, ErrOTPExpired):
			writeErr(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrRoleNotAllowed):
			writeErr(w, http.StatusForbidden, err.Error())
		case errors.Is(err, ErrTooManyOTPAttempts):
			writeErr(w, http.StatusTooManyRequests, err.Error())
		default:
			httpmw.Logger(r.Context(), h.service.logger).Error("verify otp", zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "could not verify otp")
		}
		return
	}

	h.service.SetSessionCookie(w, r, login.Token, login.ExpiresAt)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"user":      userJSON(login.User),
		"created":   login.Created,
		"expiresAt": login.ExpiresAt.Format(time.RFC3339),
	})
}

// GET /api/auth/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, sess, ok := h.service.AuthenticateRequest(r, time.Now())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"user": userJSON(u),
		"session": map[string]any{
			"id":        sess.ID,
			"expiresAt": sess.ExpiresAt.Format(time.RFC3339),
			"lastSeen":  sess.LastSeen.Format(time.RFC3339),
		},
	})
}

// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.service.RevokeSessionForRequest(r)
	h.service.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PATCH /api/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var in struct {
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := h.service.UpdateDisplayName(r.Context(), u, in.DisplayName)
	if err != nil {
		if errors.Is(err, ErrInvalidName) {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		httpmw.Logger(r.Context(), h.service.logger).Error("update display name", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": userJSON(u)})
}
