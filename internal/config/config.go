package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"wellnest/internal/progress"
)

type Config struct {
	Version  string         `yaml:"version" json:"version"`
	Env      string         `yaml:"env" json:"env"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Storage  StorageConfig  `yaml:"storage" json:"-"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Progress ProgressConfig `yaml:"progress" json:"progress"`
	Report   ReportConfig   `yaml:"report" json:"report"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr" json:"addr"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	MetricsEnabled         *bool  `yaml:"metrics_enabled" json:"metrics_enabled,omitempty"`
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

func (s ServerConfig) Metrics() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format" json:"format"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

type AuthConfig struct {
	CookieName       string   `yaml:"cookie_name" json:"cookie_name"`
	CookiePath       string   `yaml:"cookie_path" json:"cookie_path"`
	CookieDomain     string   `yaml:"cookie_domain" json:"cookie_domain"`
	CookieSameSite   string   `yaml:"cookie_samesite" json:"cookie_samesite"`
	CookieSecure     string   `yaml:"cookie_secure" json:"cookie_secure"`
	SessionTTLHours  int      `yaml:"session_ttl_hours" json:"session_ttl_hours"`
	OTPTTLMinutes    int      `yaml:"otp_ttl_minutes" json:"otp_ttl_minutes"`
	OTPMaxAttempts   int      `yaml:"otp_max_attempts" json:"otp_max_attempts"`
	TeacherDomains   []string `yaml:"teacher_domains" json:"teacher_domains"`
	TeacherEmails    []string `yaml:"teacher_emails" json:"-"`
	LogOTPCodes      *bool    `yaml:"log_otp_codes" json:"log_otp_codes,omitempty"`
	SessionTouchMins int      `yaml:"session_touch_minutes" json:"session_touch_minutes"`
}

func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLHours) * time.Hour
}

func (a AuthConfig) OTPTTL() time.Duration {
	return time.Duration(a.OTPTTLMinutes) * time.Minute
}

func (a AuthConfig) ShouldLogOTPCodes() bool {
	return a.LogOTPCodes == nil || *a.LogOTPCodes
}

type ProgressConfig struct {
	TimeZone        string   `yaml:"time_zone" json:"time_zone"`
	StatsWindowDays int      `yaml:"stats_window_days" json:"stats_window_days"`
	BackfillDays    *int     `yaml:"backfill_days" json:"backfill_days,omitempty"`
	XP              XPConfig `yaml:"xp" json:"xp"`
}

type XPConfig struct {
	ByDifficulty    map[string]int `yaml:"by_difficulty" json:"by_difficulty"`
	DefaultXP       int            `yaml:"default_xp" json:"default_xp"`
	StreakBonus     int            `yaml:"streak_bonus" json:"streak_bonus"`
	StreakLength    int            `yaml:"streak_length" json:"streak_length"`
	LevelThresholds []int          `yaml:"level_thresholds" json:"level_thresholds"`
}

// Backfill is how many days back a completion may be logged. Unset means 2;
// an explicit 0 allows today only.
func (p ProgressConfig) Backfill() int {
	if p.BackfillDays == nil {
		return 2
	}
	return *p.BackfillDays
}

// Location loads the school time zone used for calendar days.
func (p ProgressConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(p.TimeZone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(p.TimeZone)
}

func (x XPConfig) Weights() progress.Weights {
	w := progress.Weights{
		ByDifficulty: map[string]int{},
		Default:      x.DefaultXP,
		StreakBonus:  x.StreakBonus,
		StreakLength: x.StreakLength,
	}
	for k, v := range x.ByDifficulty {
		w.ByDifficulty[k] = v
	}
	return w
}

func (x XPConfig) Levels() progress.Levels {
	return progress.Levels(append([]int(nil), x.LevelThresholds...))
}

type ReportConfig struct {
	// Workers bounds concurrent per-student computations on dashboards.
	Workers       int `yaml:"workers" json:"workers"`
	ActivityLimit int `yaml:"activity_limit" json:"activity_limit"`
}

func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "data/wellnest.db"
	}
	c.Auth.applyDefaults()
	c.Progress.applyDefaults()
	if c.Report.Workers <= 0 {
		c.Report.Workers = 4
	}
	if c.Report.ActivityLimit <= 0 {
		c.Report.ActivityLimit = 50
	}
}

func (a *AuthConfig) applyDefaults() {
	if a.CookieName == "" {
		a.CookieName = "wellnest_session"
	}
	if a.CookiePath == "" {
		a.CookiePath = "/"
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = "lax"
	}
	if a.SessionTTLHours == 0 {
		a.SessionTTLHours = 7 * 24
	}
	if a.OTPTTLMinutes == 0 {
		a.OTPTTLMinutes = 10
	}
	if a.OTPMaxAttempts == 0 {
		a.OTPMaxAttempts = 5
	}
	if a.SessionTouchMins == 0 {
		a.SessionTouchMins = 5
	}
}

func (p *ProgressConfig) applyDefaults() {
	if p.StatsWindowDays == 0 {
		p.StatsWindowDays = 30
	}
	def := progress.DefaultWeights()
	if len(p.XP.ByDifficulty) == 0 {
		p.XP.ByDifficulty = def.ByDifficulty
	}
	if p.XP.DefaultXP == 0 {
		p.XP.DefaultXP = def.Default
	}
	if p.XP.StreakBonus == 0 {
		p.XP.StreakBonus = def.StreakBonus
	}
	if p.XP.StreakLength == 0 {
		p.XP.StreakLength = def.StreakLength
	}
	if len(p.XP.LevelThresholds) == 0 {
		p.XP.LevelThresholds = progress.DefaultLevels()
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}
	if _, err := c.Progress.Location(); err != nil {
		errs = append(errs, fmt.Errorf("progress.time_zone: %w", err))
	}
	if c.Progress.StatsWindowDays < 1 {
		errs = append(errs, errors.New("progress.stats_window_days must be positive"))
	}
	if c.Progress.Backfill() < 0 {
		errs = append(errs, errors.New("progress.backfill_days must not be negative"))
	}
	if !c.Progress.XP.Levels().Valid() {
		errs = append(errs, errors.New("progress.xp.level_thresholds must be positive and ascending"))
	}
	if c.Auth.OTPMaxAttempts < 1 {
		errs = append(errs, errors.New("auth.otp_max_attempts must be positive"))
	}
	return errors.Join(errs...)
}

// Load reads a YAML config file, applies environment overrides and defaults,
// then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	var r Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyEnv(&r)
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
