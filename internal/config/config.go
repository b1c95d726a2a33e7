package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/adcapture/internal/browser"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/netutil"
)

// Config holds all configuration for the capture server and CLI.
type Config struct {
	// HTTP listener
	BindAddr       string
	BindCandidates []string
	AutoFallback   bool
	APIKeyHash     string

	// Browser engine
	Engine         string
	CDPURL         string
	CDPAddress     string
	CDPPort        int
	BrowserPath    string
	ProfileDir     string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	DeviceScale    float64
	UserAgent      string
	AcceptLanguage string
	EvalTimeoutMS  int

	// Storage
	DBPath           string
	SnapshotDir      string
	JournalDir       string
	JournalMaxSizeMB int
	JournalBuffer    int

	// Capture behavior
	PolicyFile        string
	CreativeTimeoutMS int
	PrefetchLimit     int
	QueueSize         int
	NotifyURL         string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("CAPTURE_BIND_ADDR", "127.0.0.1:8190"),
		BindCandidates:    netutil.ParseCandidates(getEnvOrDefault("CAPTURE_BIND_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192")),
		AutoFallback:      getEnvBoolOrDefault("CAPTURE_BIND_AUTO_FALLBACK", false),
		APIKeyHash:        getEnvOrDefault("API_KEY_HASH", ""),
		Engine:            strings.ToLower(getEnvOrDefault("CAPTURE_ENGINE", cdpcontrol.EngineChromedp)),
		CDPURL:            getEnvOrDefault("CDP_URL", ""),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9230),
		BrowserPath:       getEnvOrDefault("CHROMIUM_PATH", ""),
		ProfileDir:        getEnvOrDefault("CHROMIUM_PROFILE_DIR", ""),
		Headless:          getEnvBoolOrDefault("CHROMIUM_HEADLESS", true),
		ViewportWidth:     getEnvIntOrDefault("CAPTURE_VIEWPORT_WIDTH", 2560),
		ViewportHeight:    getEnvIntOrDefault("CAPTURE_VIEWPORT_HEIGHT", 1440),
		DeviceScale:       getEnvFloatOrDefault("CAPTURE_DEVICE_SCALE", 2),
		UserAgent:         getEnvOrDefault("CAPTURE_USER_AGENT", ""),
		AcceptLanguage:    getEnvOrDefault("CAPTURE_ACCEPT_LANGUAGE", ""),
		EvalTimeoutMS:     getEnvIntOrDefault("CAPTURE_EVAL_TIMEOUT_MS", 30000),
		DBPath:            getEnvOrDefault("CAPTURE_DB_PATH", "./data/captures.db"),
		SnapshotDir:       getEnvOrDefault("SNAPSHOT_DIR", "./data/snapshots"),
		JournalDir:        getEnvOrDefault("JOURNAL_DIR", "./data/journal"),
		JournalMaxSizeMB:  getEnvIntOrDefault("JOURNAL_MAX_FILE_SIZE_MB", 50),
		JournalBuffer:     getEnvIntOrDefault("JOURNAL_BUFFER_SIZE", 256),
		PolicyFile:        getEnvOrDefault("POLICY_FILE", ""),
		CreativeTimeoutMS: getEnvIntOrDefault("CREATIVE_TIMEOUT_MS", 15000),
		PrefetchLimit:     getEnvIntOrDefault("CREATIVE_PREFETCH_LIMIT", 4),
		QueueSize:         getEnvIntOrDefault("CAPTURE_QUEUE_SIZE", 64),
		NotifyURL:         getEnvOrDefault("NOTIFY_URL", ""),
		LogLevel:          strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("LOG_FILE", "logs/capture_server.log"),
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.EvalTimeoutMS < 1000 {
		c.EvalTimeoutMS = 1000
	}
	if c.CreativeTimeoutMS < 1000 {
		c.CreativeTimeoutMS = 1000
	}
	if c.ViewportWidth < 320 || c.ViewportHeight < 240 {
		c.ViewportWidth, c.ViewportHeight = 2560, 1440
	}
	if c.DeviceScale <= 0 || c.DeviceScale > 4 {
		c.DeviceScale = 2
	}
	c.PrefetchLimit = min(max(c.PrefetchLimit, 1), 16)
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	if c.JournalMaxSizeMB < 1 {
		c.JournalMaxSizeMB = 1
	}
}

// LogLevelValue maps LogLevel to a slog level, defaulting to info.
func (c *Config) LogLevelValue() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EngineOptions builds the browser engine options.
func (c *Config) EngineOptions() cdpcontrol.Options {
	opts := cdpcontrol.DefaultOptions()
	opts.CDPURL = c.CDPURL
	opts.ExecPath = c.BrowserPath
	opts.Headless = c.Headless
	opts.Viewport = cdpcontrol.Viewport{Width: c.ViewportWidth, Height: c.ViewportHeight, DeviceScaleFactor: c.DeviceScale}
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	if c.AcceptLanguage != "" {
		opts.AcceptLanguage = c.AcceptLanguage
	}
	opts.EvalTimeout = time.Duration(c.EvalTimeoutMS) * time.Millisecond
	return opts
}

// LauncherConfig is the process launcher setup used by the raw CDP engine.
func (c *Config) LauncherConfig() browser.Config {
	return browser.Config{
		CDPAddress:  c.CDPAddress,
		CDPPort:     c.CDPPort,
		ExecPath:    c.BrowserPath,
		ProfileDir:  c.ProfileDir,
		Headless:    c.Headless,
		WindowSize:  strconv.Itoa(c.ViewportWidth) + "," + strconv.Itoa(c.ViewportHeight),
		DeviceScale: c.DeviceScale,
		Lang:        launcherLang(c.AcceptLanguage),
	}
}

// launcherLang takes the primary tag of an Accept-Language value.
func launcherLang(acceptLanguage string) string {
	tag, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}

func (c *Config) CreativeTimeout() time.Duration {
	return time.Duration(c.CreativeTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
