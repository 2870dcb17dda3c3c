package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wellnest/internal/config"
	"wellnest/internal/model"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidOTPFormat   = errors.New("otp code must be 6 digits")
	ErrInvalidOTP         = errors.New("invalid otp code")
	ErrOTPExpired         = errors.New("otp code expired")
	ErrTooManyOTPAttempts = errors.New("too many invalid otp attempts")
	ErrInvalidRole        = errors.New("role must be teacher or student")
	ErrRoleNotAllowed     = errors.New("email is not allowed to register as teacher")
	ErrInvalidName        = errors.New("display name must be at most 60 characters")
)

// Repo is the persistence the auth service needs.
type Repo interface {
	PutOTP(ctx context.Context, ch model.OTPChallenge) error
	GetOTP(ctx context.Context, email string) (model.OTPChallenge, bool, error)
	DeleteOTP(ctx context.Context, email string) error

	GetOrCreateUser(ctx context.Context, email string, role model.Role, displayName string, now time.Time) (model.User, bool, error)
	GetUserByID(ctx context.Context, id model.UserID) (model.User, bool, error)
	UpdateDisplayName(ctx context.Context, id model.UserID, name string) (bool, error)

	CreateSession(ctx context.Context, sess model.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (model.Session, bool, error)
	DeleteSessionByID(ctx context.Context, sessionID string) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	repo   Repo
	logger *zap.Logger

	cookieName     string
	cookiePath     string
	cookieDomain   string
	cookieSameSite http.SameSite
	cookieSecure   string
	otpTTL         time.Duration
	sessionTTL     time.Duration
	touchEvery     time.Duration
	maxOTPAttempts int
	logCodes       bool

	teacherDomains map[string]bool
	teacherEmails  map[string]bool
}

func NewService(repo Repo, cfg config.AuthConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:           repo,
		logger:         logger.Named("auth"),
		cookieName:     cfg.CookieName,
		cookiePath:     cfg.CookiePath,
		cookieDomain:   cfg.CookieDomain,
		cookieSameSite: parseSameSite(cfg.CookieSameSite),
		cookieSecure:   strings.ToLower(strings.TrimSpace(cfg.CookieSecure)),
		otpTTL:         cfg.OTPTTL(),
		sessionTTL:     cfg.SessionTTL(),
		touchEvery:     time.Duration(cfg.SessionTouchMins) * time.Minute,
		maxOTPAttempts: cfg.OTPMaxAttempts,
		logCodes:       cfg.ShouldLogOTPCodes(),
		teacherDomains: map[string]bool{},
		teacherEmails:  map[string]bool{},
	}
	for _, d := range cfg.TeacherDomains {
		s.teacherDomains[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))] = true
	}
	for _, e := range cfg.TeacherEmails {
		s.teacherEmails[normalizeEmail(e)] = true
	}
	return s
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return ErrInvalidOTPFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidOTPFormat
		}
	}
	return nil
}

func hashOTP(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// MayTeach reports whether email is on the teacher allow-list, either by exact
// address or by domain.
func (s *Service) MayTeach(email string) bool {
	email = normalizeEmail(email)
	if s.teacherEmails[email] {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	return at >= 0 && s.teacherDomains[email[at+1:]]
}

func (s *Service) RequestOTP(ctx context.Context, email string, now time.Time) (expiresAt time.Time, code string, err error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return time.Time{}, "", err
	}
	code, err = generateOTPCode()
	if err != nil {
		return time.Time{}, "", err
	}
	ch := model.OTPChallenge{
		Email:       email,
		CodeHash:    hashOTP(email, code),
		ExpiresAt:   now.Add(s.otpTTL),
		RequestedAt: now,
		Attempts:    0,
	}
	if err := s.repo.PutOTP(ctx, ch); err != nil {
		return time.Time{}, "", err
	}
	// No mail provider is wired; operators read codes from the log.
	if s.logCodes {
		s.logger.Info("otp issued",
			zap.String("email", email),
			zap.String("code", code),
			zap.Time("expires_at", ch.ExpiresAt),
		)
	}
	return ch.ExpiresAt, code, nil
}

// VerifyInput carries a login attempt. Role and DisplayName only apply when
// the account is created by this login.
type VerifyInput struct {
	Email       string
	Code        string
	Role        string
	DisplayName string
}

type Login struct {
	User      model.User
	Created   bool
	Token     string
	ExpiresAt time.Time
}

func (s *Service) resolveRole(email, requested string) (model.Role, error) {
	role, ok := model.ParseRole(requested)
	if !ok {
		return "", ErrInvalidRole
	}
	mayTeach := s.MayTeach(email)
	if strings.TrimSpace(requested) == "" && mayTeach {
		return model.RoleTeacher, nil
	}
	if role == model.RoleTeacher && !mayTeach {
		return "", ErrRoleNotAllowed
	}
	return role, nil
}

func (s *Service) VerifyOTP(ctx context.Context, in VerifyInput, now time.Time) (Login, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return Login{}, err
	}
	if err := validateCode(in.Code); err != nil {
		return Login{}, err
	}
	name := strings.TrimSpace(in.DisplayName)
	if len([]rune(name)) > 60 {
		return Login{}, ErrInvalidName
	}
	role, err := s.resolveRole(email, in.Role)
	if err != nil {
		return Login{}, err
	}

	ch, ok, err := s.repo.GetOTP(ctx, email)
	if err != nil {
		return Login{}, err
	}
	if !ok {
		return Login{}, ErrInvalidOTP
	}

	if now.After(ch.ExpiresAt) {
		_ = s.repo.DeleteOTP(ctx, email)
		return Login{}, ErrOTPExpired
	}

	if ch.Attempts >= s.maxOTPAttempts {
		_ = s.repo.DeleteOTP(ctx, email)
		return Login{}, ErrTooManyOTPAttempts
	}

	if hashOTP(email, in.Code) != ch.CodeHash {
		ch.Attempts++
		if ch.Attempts >= s.maxOTPAttempts {
			_ = s.repo.DeleteOTP(ctx, email)
			return Login{}, ErrTooManyOTPAttempts
		}
		_ = s.repo.PutOTP(ctx, ch)
		return Login{}, ErrInvalidOTP
	}

	if err := s.repo.DeleteOTP(ctx, email); err != nil {
		return Login{}, err
	}

	u, created, err := s.repo.GetOrCreateUser(ctx, email, role, name, now)
	if err != nil {
		return Login{}, err
	}
	if created {
		s.logger.Info("user registered", zap.String("user_id", string(u.ID)), zap.String("role", string(u.Role)))
	}

	token, err := generateToken()
	if err != nil {
		return Login{}, err
	}

	exp := now.Add(s.sessionTTL)
	sess := model.Session{
		ID:        "ses_" + uuid.NewString(),
		UserID:    u.ID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return Login{}, err
	}
	return Login{User: u, Created: created, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) AuthenticateRequest(r *http.Request, now time.Time) (model.User, model.Session, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return model.User{}, model.Session{}, false
	}
	ctx := r.Context()

	sess, ok, err := s.repo.GetSessionByTokenHash(ctx, hashToken(cookie.Value))
	if err != nil {
		s.logger.Warn("session lookup failed", zap.Error(err))
		return model.User{}, model.Session{}, false
	}
	if !ok {
		return model.User{}, model.Session{}, false
	}

	if now.After(sess.ExpiresAt) {
		_ = s.repo.DeleteSessionByID(ctx, sess.ID)
		return model.User{}, model.Session{}, false
	}

	u, ok, err := s.repo.GetUserByID(ctx, sess.UserID)
	if err != nil {
		s.logger.Warn("session user lookup failed", zap.Error(err))
		return model.User{}, model.Session{}, false
	}
	if !ok {
		_ = s.repo.DeleteSessionByID(ctx, sess.ID)
		return model.User{}, model.Session{}, false
	}

	// Last-seen updates are throttled to reduce writes.
	if now.Sub(sess.LastSeen) >= s.touchEvery {
		_ = s.repo.TouchSession(ctx, sess.ID, now)
		sess.LastSeen = now
	}

	return u, sess, true
}

func (s *Service) RevokeSessionForRequest(r *http.Request) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return
	}
	_ = s.repo.DeleteSessionByTokenHash(r.Context(), hashToken(cookie.Value))
}

// UpdateDisplayName changes the name shown to classmates.
func (s *Service) UpdateDisplayName(ctx context.Context, u model.User, name string) (model.User, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) > 60 {
		return model.User{}, ErrInvalidName
	}
	if _, err := s.repo.UpdateDisplayName(ctx, u.ID, name); err != nil {
		return model.User{}, err
	}
	u.DisplayName = name
	return u, nil
}

// PurgeExpiredSessions deletes sessions that expired before now.
func (s *Service) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("expired sessions purged", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) shouldUseSecureCookie(r *http.Request) bool {
	switch s.cookieSecure {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func (s *Service) sameSite(secure bool) http.SameSite {
	// Browsers drop SameSite=None cookies that are not Secure.
	if s.cookieSameSite == http.SameSiteNoneMode && !secure {
		return http.SameSiteLaxMode
	}
	return s.cookieSameSite
}

func (s *Service) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure := s.shouldUseSecureCookie(r)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.sameSite(secure),
	})
}

func (s *Service) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	secure := s.shouldUseSecureCookie(r)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.sameSite(secure),
	})
}

func unauthorized(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

// RequireAPI rejects requests without a live session and stores the user and
// session in the request context.
func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, time.Now())
		if !ok {
			unauthorized(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := withSessionContext(withUserContext(r.Context(), u), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTeacher is RequireAPI restricted to teacher accounts.
func (s *Service) RequireTeacher(next http.Handler) http.Handler {
	return s.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFromContext(r.Context())
		if !u.IsTeacher() {
			unauthorized(w, http.StatusForbidden, "teacher account required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
