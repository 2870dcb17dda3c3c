package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env style files into the process environment when they
// exist. Variables already set win over the files.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides file values with WELLNEST_* environment variables.
func ApplyEnv(c *Config) {
	if v := getEnv("WELLNEST_ENV"); v != "" {
		c.Env = v
	}
	if v := getEnv("WELLNEST_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getEnvInt("WELLNEST_SHUTDOWN_TIMEOUT_SECONDS"); v > 0 {
		c.Server.ShutdownTimeoutSeconds = v
	}
	if v := getEnv("WELLNEST_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getEnv("WELLNEST_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := getEnv("WELLNEST_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := getEnv("WELLNEST_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := getEnv("WELLNEST_COOKIE_NAME"); v != "" {
		c.Auth.CookieName = v
	}
	if v := getEnv("WELLNEST_COOKIE_PATH"); v != "" {
		c.Auth.CookiePath = v
	}
	if v := getEnv("WELLNEST_COOKIE_DOMAIN"); v != "" {
		c.Auth.CookieDomain = v
	}
	if v := getEnv("WELLNEST_COOKIE_SAMESITE"); v != "" {
		c.Auth.CookieSameSite = v
	}
	if v := getEnv("WELLNEST_COOKIE_SECURE"); v != "" {
		c.Auth.CookieSecure = v
	}
	if v := getEnvInt("WELLNEST_SESSION_TTL_HOURS"); v > 0 {
		c.Auth.SessionTTLHours = v
	}
	if v := getEnvInt("WELLNEST_OTP_TTL_MINUTES"); v > 0 {
		c.Auth.OTPTTLMinutes = v
	}
	if v := getEnvInt("WELLNEST_OTP_MAX_ATTEMPTS"); v > 0 {
		c.Auth.OTPMaxAttempts = v
	}
	if v := getEnv("WELLNEST_TEACHER_DOMAINS"); v != "" {
		c.Auth.TeacherDomains = splitList(v)
	}
	if v := getEnv("WELLNEST_TIME_ZONE"); v != "" {
		c.Progress.TimeZone = v
	}
	if v := getEnvInt("WELLNEST_STATS_WINDOW_DAYS"); v > 0 {
		c.Progress.StatsWindowDays = v
	}
	if v := getEnvInt("WELLNEST_REPORT_WORKERS"); v > 0 {
		c.Report.Workers = v
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getEnvInt(key string) int {
	val := getEnv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
