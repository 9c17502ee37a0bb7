package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/diagnostic"
	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/retailer"
)

type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Extraction  ExtractionConfig
	Diagnostics DiagnosticsConfig
	Redis       RedisConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type BrowserConfig struct {
	Engine         string
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExecutablePath string
}

type ExtractionConfig struct {
	CatalogFile            string
	ErrorPolicy            string
	RateLimitMin           time.Duration
	RateLimitMax           time.Duration
	LocationControlTimeout time.Duration
	NetworkSettleTimeout   time.Duration
	ScreenshotPath         string
	ResultsFile            string
}

type DiagnosticsConfig struct {
	EntropyWarningThreshold float64
	ScoreTimeout            time.Duration
	StartTimeout            time.Duration
	StatusTimeout           time.Duration
}

// RedisConfig is optional: an empty URL means results are only logged.
type RedisConfig struct {
	URL    string
	Stream string
	MaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Browser: BrowserConfig{
			Engine:         getEnvOrDefault("BROWSER_ENGINE", browser.EngineFirefox),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Los_Angeles"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			ExecutablePath: getEnvOrDefault("BROWSER_EXECUTABLE_PATH", ""),
		},
		Extraction: ExtractionConfig{
			CatalogFile:            getEnvOrDefault("CATALOG_FILE", ""),
			ErrorPolicy:            getEnvOrDefault("EXTRACTION_ERROR_POLICY", extraction.FailFast.String()),
			RateLimitMin:           getDurationOrDefault("EXTRACTION_RATE_LIMIT_MIN", 5*time.Second),
			RateLimitMax:           getDurationOrDefault("EXTRACTION_RATE_LIMIT_MAX", 40*time.Second),
			LocationControlTimeout: getDurationOrDefault("LOCATION_CONTROL_TIMEOUT", retailer.DefaultTimeouts().LocationControl),
			NetworkSettleTimeout:   getDurationOrDefault("NETWORK_SETTLE_TIMEOUT", retailer.DefaultTimeouts().NetworkSettle),
			ScreenshotPath:         getEnvOrDefault("SCREENSHOT_PATH", ""),
			ResultsFile:            getEnvOrDefault("RESULTS_FILE", ""),
		},
		Diagnostics: DiagnosticsConfig{
			EntropyWarningThreshold: getFloatOrDefault("ENTROPY_WARNING_THRESHOLD", diagnostic.DefaultEntropyWarningThreshold),
			ScoreTimeout:            getDurationOrDefault("FINGERPRINT_SCORE_TIMEOUT", 30*time.Second),
			StartTimeout:            getDurationOrDefault("ENTROPY_START_TIMEOUT", 30*time.Second),
			StatusTimeout:           getDurationOrDefault("ENTROPY_STATUS_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:    getEnvOrDefault("REDIS_URL", ""),
			Stream: getEnvOrDefault("REDIS_STREAM", "stream:grocery_observations"),
			MaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case browser.EngineFirefox, browser.EngineChromium:
	default:
		return fmt.Errorf("BROWSER_ENGINE must be %q or %q, got %q", browser.EngineFirefox, browser.EngineChromium, c.Browser.Engine)
	}

	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("BROWSER_VIEWPORT_WIDTH and BROWSER_VIEWPORT_HEIGHT must be positive")
	}

	if c.Extraction.RateLimitMin < 0 {
		return fmt.Errorf("EXTRACTION_RATE_LIMIT_MIN cannot be negative")
	}

	if c.Extraction.RateLimitMin > c.Extraction.RateLimitMax {
		return fmt.Errorf("EXTRACTION_RATE_LIMIT_MIN cannot be greater than EXTRACTION_RATE_LIMIT_MAX")
	}

	if _, err := extraction.ParseErrorPolicy(c.Extraction.ErrorPolicy); err != nil {
		return fmt.Errorf("EXTRACTION_ERROR_POLICY: %w", err)
	}

	if c.Diagnostics.EntropyWarningThreshold <= 0 {
		return fmt.Errorf("ENTROPY_WARNING_THRESHOLD must be positive")
	}

	if c.Redis.MaxLen < 0 {
		return fmt.Errorf("REDIS_STREAM_MAXLEN cannot be negative")
	}

	return nil
}

func (c *Config) BrowserOptions() *browser.Options {
	return &browser.Options{
		Engine:         c.Browser.Engine,
		Headless:       c.Browser.Headless,
		Timeout:        c.Browser.Timeout,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		TimezoneID:     c.Browser.TimezoneID,
		Locale:         c.Browser.Locale,
		ProxyServer:    c.Browser.ProxyServer,
		ExecutablePath: c.Browser.ExecutablePath,
	}
}

func (c *Config) RetailerTimeouts() retailer.Timeouts {
	return retailer.Timeouts{
		LocationControl: c.Extraction.LocationControlTimeout,
		NetworkSettle:   c.Extraction.NetworkSettleTimeout,
	}
}

func (c *Config) DiagnosticOptions() diagnostic.Options {
	return diagnostic.Options{
		Fingerprint: diagnostic.FingerprintOptions{
			ScoreTimeout: c.Diagnostics.ScoreTimeout,
		},
		Entropy: diagnostic.EntropyOptions{
			WarningThreshold: c.Diagnostics.EntropyWarningThreshold,
			StartTimeout:     c.Diagnostics.StartTimeout,
			StatusTimeout:    c.Diagnostics.StatusTimeout,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
