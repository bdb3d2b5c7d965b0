package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults in code and must come from config.json or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	InternalToken      string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Timezone resolves the local day for requests that do not send one.
	Timezone string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database: mysql (default), postgres or sqlite
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	SQLitePath  string
	// Redis backs the OTP throttle when OTPStore is "redis", and the config cache
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// OTP throttle
	OTPStore              string
	OTPRequestIntervalSec int
	OTPMaxAttempts        int
	OTPAttemptWindowMin   int
	OTPLockoutMin         int
	OTPCodeTTLSec         int
	OTPCodeLength         int
	OTPPurgeCron          string
	// Rewards
	StreakRewardEvery       int
	StreakRewardCredits     int
	ReflectionRewardCredits int
	ReferralRewardCredits   int
	MilestonesPath          string
	StoreTimeoutMs          int
	RetryMaxAttempts        int
	RetryInitialMs          int
	RetryMaxMs              int
	BatchConcurrency        int
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Fatalf("invalid config/config.json: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}
	if cfg.InternalToken == "" {
		log.Println("INTERNAL_TOKEN not set; internal endpoints are disabled")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// StoreTimeout bounds every store call made on behalf of one request.
func (c AppConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMs) * time.Millisecond
}

// OTPRequestInterval is the minimum spacing between two code requests.
func (c AppConfig) OTPRequestInterval() time.Duration {
	return time.Duration(c.OTPRequestIntervalSec) * time.Second
}

func (c AppConfig) OTPAttemptWindow() time.Duration {
	return time.Duration(c.OTPAttemptWindowMin) * time.Minute
}

func (c AppConfig) OTPLockout() time.Duration {
	return time.Duration(c.OTPLockoutMin) * time.Minute
}

func (c AppConfig) OTPCodeTTL() time.Duration {
	return time.Duration(c.OTPCodeTTLSec) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads the grouped JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.InternalToken = getString(app, "InternalToken")
		out.Timezone = getString(app, "Timezone")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
		out.SQLitePath = getString(dbs, "SQLitePath")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getString(lg, "GinMode"); v != "" {
			out.GinMode = v
		}
		if v := getString(lg, "GinPath"); v != "" {
			out.GinPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	if o, ok := raw["otp"].(map[string]any); ok {
		out.OTPStore = getString(o, "Store")
		out.OTPRequestIntervalSec = getInt(o, "RequestIntervalSec")
		out.OTPMaxAttempts = getInt(o, "MaxAttempts")
		out.OTPAttemptWindowMin = getInt(o, "AttemptWindowMin")
		out.OTPLockoutMin = getInt(o, "LockoutMin")
		out.OTPCodeTTLSec = getInt(o, "CodeTTLSec")
		out.OTPCodeLength = getInt(o, "CodeLength")
		out.OTPPurgeCron = getString(o, "PurgeCron")
	}

	if rw, ok := raw["rewards"].(map[string]any); ok {
		out.StreakRewardEvery = getInt(rw, "StreakRewardEvery")
		out.StreakRewardCredits = getInt(rw, "StreakRewardCredits")
		out.ReflectionRewardCredits = getInt(rw, "ReflectionRewardCredits")
		out.ReferralRewardCredits = getInt(rw, "ReferralRewardCredits")
		out.MilestonesPath = getString(rw, "MilestonesPath")
		out.StoreTimeoutMs = getInt(rw, "StoreTimeoutMs")
		out.RetryMaxAttempts = getInt(rw, "RetryMaxAttempts")
		out.RetryInitialMs = getInt(rw, "RetryInitialMs")
		out.RetryMaxMs = getInt(rw, "RetryMaxMs")
		out.BatchConcurrency = getInt(rw, "BatchConcurrency")
	}

	// flat keys kept for single-value deployments
	if v, ok := raw["JWTSecret"]; ok && out.JWTSecret == "" {
		out.JWTSecret, _ = v.(string)
	}
	if v, ok := raw["DatabaseURI"]; ok && out.DatabaseURI == "" {
		out.DatabaseURI, _ = v.(string)
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "habitledger"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "data/habitledger.db"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.OTPStore == "" {
		c.OTPStore = "db"
	}
	if c.OTPRequestIntervalSec == 0 {
		c.OTPRequestIntervalSec = 30
	}
	if c.OTPMaxAttempts == 0 {
		c.OTPMaxAttempts = 5
	}
	if c.OTPAttemptWindowMin == 0 {
		c.OTPAttemptWindowMin = 15
	}
	if c.OTPLockoutMin == 0 {
		c.OTPLockoutMin = 5
	}
	if c.OTPCodeTTLSec == 0 {
		c.OTPCodeTTLSec = 300
	}
	if c.OTPCodeLength == 0 {
		c.OTPCodeLength = 6
	}
	if c.OTPPurgeCron == "" {
		c.OTPPurgeCron = "@every 10m"
	}
	if c.StreakRewardEvery == 0 {
		c.StreakRewardEvery = 7
	}
	if c.StreakRewardCredits == 0 {
		c.StreakRewardCredits = 50
	}
	if c.ReflectionRewardCredits == 0 {
		c.ReflectionRewardCredits = 10
	}
	if c.ReferralRewardCredits == 0 {
		c.ReferralRewardCredits = 100
	}
	if c.StoreTimeoutMs == 0 {
		c.StoreTimeoutMs = 5000
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 4
	}
	if c.RetryInitialMs == 0 {
		c.RetryInitialMs = 50
	}
	if c.RetryMaxMs == 0 {
		c.RetryMaxMs = 1000
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 8
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("INTERNAL_TOKEN", ""); v != "" {
		c.InternalToken = v
	}
	if v := getEnv("APP_TIMEZONE", ""); v != "" {
		c.Timezone = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("SQLITE_PATH", ""); v != "" {
		c.SQLitePath = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("OTP_STORE", ""); v != "" {
		c.OTPStore = strings.ToLower(v)
	}
	if v := getEnv("OTP_REQUEST_INTERVAL_SEC", ""); v != "" {
		c.OTPRequestIntervalSec = mustParseInt(v)
	}
	if v := getEnv("OTP_MAX_ATTEMPTS", ""); v != "" {
		c.OTPMaxAttempts = mustParseInt(v)
	}
	if v := getEnv("OTP_ATTEMPT_WINDOW_MIN", ""); v != "" {
		c.OTPAttemptWindowMin = mustParseInt(v)
	}
	if v := getEnv("OTP_LOCKOUT_MIN", ""); v != "" {
		c.OTPLockoutMin = mustParseInt(v)
	}
	if v := getEnv("OTP_CODE_TTL_SEC", ""); v != "" {
		c.OTPCodeTTLSec = mustParseInt(v)
	}
	if v := getEnv("OTP_PURGE_CRON", ""); v != "" {
		c.OTPPurgeCron = v
	}
	if v := getEnv("STREAK_REWARD_EVERY", ""); v != "" {
		c.StreakRewardEvery = mustParseInt(v)
	}
	if v := getEnv("STREAK_REWARD_CREDITS", ""); v != "" {
		c.StreakRewardCredits = mustParseInt(v)
	}
	if v := getEnv("MILESTONES_PATH", ""); v != "" {
		c.MilestonesPath = v
	}
	if v := getEnv("STORE_TIMEOUT_MS", ""); v != "" {
		c.StoreTimeoutMs = mustParseInt(v)
	}
	if v := getEnv("RETRY_MAX_ATTEMPTS", ""); v != "" {
		c.RetryMaxAttempts = mustParseInt(v)
	}
	if v := getEnv("BATCH_CONCURRENCY", ""); v != "" {
		c.BatchConcurrency = mustParseInt(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
