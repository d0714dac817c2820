package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBindAddr = "127.0.0.1:8188"
	minEvalTimeout  = 1000
)

// Config holds all configuration for the titlesync daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Synchronizer behavior
	ScanIntervalMS    int
	EvalTimeoutMS     int
	MarkerTimeoutMS   int
	RestrictedSchemes []string
	Presets           []string

	// Demo serves an in-memory browser instead of connecting over CDP.
	Demo bool

	// Browser launch
	LaunchBrowser bool
	ChromiumPath  string
	ProfileDir    string
	StartURLs     []string

	// Observability
	LogLevel string
	LogFile  string
	Traces   bool
	// NotifyURL receives a plain text post per window label change.
	NotifyURL string

	// ConfigFile is the optional YAML file merged over the env values.
	ConfigFile string
}

// Load reads configuration from environment variables and an optional .env
// file, then merges the YAML file named by TITLESYNC_CONFIG_FILE when it
// exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		BindAddr:         getEnvOrDefault("TITLESYNC_BIND_ADDR", defaultBindAddr),
		PortCandidates:   getEnvListOrDefault("TITLESYNC_PORT_CANDIDATES", []string{"127.0.0.1:8189", "127.0.0.1:8190"}),
		PortAutoFallback: getEnvBoolOrDefault("TITLESYNC_PORT_AUTO_FALLBACK", true),
		ScanIntervalMS:   getEnvIntOrDefault("TITLESYNC_SCAN_INTERVAL_MS", 2000),
		EvalTimeoutMS:    getEnvIntOrDefault("TITLESYNC_EVAL_TIMEOUT_MS", 5000),
		MarkerTimeoutMS:  getEnvIntOrDefault("TITLESYNC_MARKER_TIMEOUT_MS", 5000),
		Demo:             getEnvBoolOrDefault("TITLESYNC_DEMO", false),
		LaunchBrowser:    getEnvBoolOrDefault("TITLESYNC_LAUNCH_BROWSER", false),
		ChromiumPath:     getEnvOrDefault("CHROMIUM_PATH", ""),
		ProfileDir:       getEnvOrDefault("CHROMIUM_PROFILE_DIR", "./chromium_profile"),
		LogLevel:         strings.ToLower(getEnvOrDefault("TITLESYNC_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TITLESYNC_LOG_FILE", "logs/titlesync.log"),
		Traces:           getEnvBoolOrDefault("TITLESYNC_TRACES", false),
		NotifyURL:        getEnvOrDefault("TITLESYNC_NOTIFY_URL", ""),
		ConfigFile:       getEnvOrDefault("TITLESYNC_CONFIG_FILE", "./titlesync.yaml"),
	}

	file, err := LoadFile(cfg.ConfigFile)
	switch {
	case err == nil:
		cfg.apply(file)
	case os.IsNotExist(err):
		slog.Debug("config file not found", "path", cfg.ConfigFile)
	default:
		return nil, err
	}

	if cfg.EvalTimeoutMS < minEvalTimeout {
		cfg.EvalTimeoutMS = minEvalTimeout
	}
	if cfg.MarkerTimeoutMS < minEvalTimeout {
		cfg.MarkerTimeoutMS = minEvalTimeout
	}
	if cfg.ScanIntervalMS < 100 {
		cfg.ScanIntervalMS = 100
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used for discovery and the chromedp
// remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMS) * time.Millisecond
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) MarkerTimeout() time.Duration {
	return time.Duration(c.MarkerTimeoutMS) * time.Millisecond
}

// ClientConfig holds configuration for the titlectl command line client.
type ClientConfig struct {
	ServerURL string
	TimeoutMS int
}

// LoadClient reads titlectl configuration from the environment.
func LoadClient() *ClientConfig {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	return &ClientConfig{
		ServerURL: strings.TrimRight(getEnvOrDefault("TITLESYNC_SERVER", "http://"+defaultBindAddr), "/"),
		TimeoutMS: getEnvIntOrDefault("TITLESYNC_CLIENT_TIMEOUT_MS", 15000),
	}
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

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
