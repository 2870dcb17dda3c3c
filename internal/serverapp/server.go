package serverapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/activity"
	"wellnest/internal/auth"
	"wellnest/internal/challenge"
	"wellnest/internal/config"
	"wellnest/internal/group"
	"wellnest/internal/habit"
	"wellnest/internal/httpmw"
	"wellnest/internal/metrics"
	"wellnest/internal/report"
	"wellnest/internal/store"
)

type Options struct {
	Config *config.Config
	Store  *store.Store
	Logger *zap.Logger
}

// App is the assembled service graph behind the HTTP handler.
type App struct {
	Handler    http.Handler
	Auth       *auth.Service
	Groups     *group.Service
	Habits     *habit.Service
	Challenges *challenge.Service
	Activity   *activity.Service
	Reports    *report.Service
}

func NewHandler(opts Options) (http.Handler, error) {
	app, err := New(opts)
	if err != nil {
		return nil, err
	}
	return app.Handler, nil
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg, st, logger := opts.Config, opts.Store, opts.Logger

	recorder := activity.NewRecorder(st, logger)
	authService := auth.NewService(st, cfg.Auth, logger)
	groups := group.NewService(st, recorder, logger)
	habits, err := habit.NewService(st, cfg.Progress, recorder, logger)
	if err != nil {
		return nil, err
	}
	challenges := challenge.NewService(st, groups, habits, recorder, logger)
	habits.SetRewardSource(challenges)
	feed := activity.NewService(st, groups, cfg.Report.ActivityLimit, logger)
	reports := report.NewService(st, groups, habits, cfg.Report.Workers, logger)
	logSecurityHints(cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "wellnest",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		version, err := st.SchemaVersion(r.Context())
		if err == nil {
			err = st.Ping(r.Context())
		}
		if err != nil {
			httpmw.Logger(r.Context(), logger).Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":             true,
			"service":        "wellnest",
			"schema_version": version,
			"time":           time.Now().UTC().Format(time.RFC3339),
		})
	})
	if cfg.Server.Metrics() {
		mux.Handle("/metrics", metrics.Handler())
	}

	api := func(h http.HandlerFunc) http.Handler { return authService.RequireAPI(h) }

	authHandler := auth.NewHandler(authService)
	mux.HandleFunc("/api/auth/request-otp", authHandler.RequestOTP)
	mux.HandleFunc("/api/auth/verify-otp", authHandler.VerifyOTP)
	mux.HandleFunc("/api/auth/session", authHandler.Session)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)
	mux.Handle("/api/me", api(authHandler.UpdateMe))

	reportHandler := report.NewHandler(reports)
	mux.Handle("/api/me/progress", api(reportHandler.MyProgress()))
	mux.Handle("/api/users/{id}/profile", api(reportHandler.Profile()))

	groupHandler := group.NewHandler(groups)
	challengeHandler := challenge.NewHandler(challenges)
	feedHandler := activity.NewHandler(feed)
	mux.Handle("/api/groups", api(groupHandler.Collection))
	mux.Handle("/api/groups/join", api(groupHandler.Join))
	mux.Handle("/api/groups/{id}/leave", api(groupHandler.Leave))
	mux.Handle("/api/groups/{id}/rotate-code", authService.RequireTeacher(http.HandlerFunc(groupHandler.RotateCode)))
	mux.Handle("/api/groups/{id}/archive", authService.RequireTeacher(http.HandlerFunc(groupHandler.Archive)))
	mux.Handle("/api/groups/{id}/members", api(groupHandler.Members))
	mux.Handle("/api/groups/{id}/challenges", api(challengeHandler.Collection))
	mux.Handle("/api/groups/{id}/activity", api(feedHandler.GroupFeed))
	mux.Handle("/api/groups/{id}/overview", api(reportHandler.Overview()))
	mux.Handle("/api/groups/{id}/dashboard", authService.RequireTeacher(reportHandler.Dashboard()))
	mux.Handle("/api/challenges/{id}", api(challengeHandler.Item))

	habitHandler := habit.NewHandler(habits)
	mux.Handle("/api/habits", api(habitHandler.Collection))
	mux.Handle("/api/habits/{id}", api(habitHandler.Item))
	mux.Handle("/api/habits/{id}/complete", api(habitHandler.Complete))
	mux.Handle("/api/habits/{id}/history", api(habitHandler.History))

	mux.Handle("/api/config", authService.RequireTeacher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})))

	// WithMetrics sits closest to the mux so it sees the matched pattern.
	return &App{
		Handler: httpmw.Chain(
			mux,
			httpmw.WithAccessLog(logger),
			httpmw.WithRequestID,
			httpmw.WithRecover(logger),
			httpmw.WithMetrics,
		),
		Auth:       authService,
		Groups:     groups,
		Habits:     habits,
		Challenges: challenges,
		Activity:   feed,
		Reports:    reports,
	}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logSecurityHints(cfg *config.Config, logger *zap.Logger) {
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	if env != "production" && env != "prod" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Auth.CookieSecure)) {
	case "1", "true", "yes":
	default:
		logger.Warn("cookie_secure is not explicitly true in production", zap.String("env", env))
	}
	if cfg.Auth.ShouldLogOTPCodes() {
		logger.Warn("otp codes are written to the log in production", zap.String("env", env))
	}
	if cfg.Storage.Driver == store.DriverSQLite {
		logger.Info("running on sqlite; backups come from the ops backup command", zap.String("env", env))
	}
}
