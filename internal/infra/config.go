package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	StoragePath string

	// DatabaseURL is optional; when empty the usage recorder is disabled.
	DatabaseURL string
	GeoIPDBPath string

	// Marker pipeline engine.
	MarkerBaseURL string
	// Vision-LLM engine.
	VisionBaseURL string
	VisionAPIKey  string
	VisionModel   string
	// Enhancement pass LLM.
	EnhanceBaseURL string
	EnhanceAPIKey  string
	EnhanceModel   string

	DispatchTimeout  time.Duration
	MaxActiveJobs    int
	RetentionWindow  time.Duration
	RetentionEvery   time.Duration
	MaxUploadBytes   int64
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8100"),
		StoragePath: getEnv("STORAGE_PATH", "./outputs"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		MarkerBaseURL:  getEnv("MARKER_BASE_URL", "http://localhost:8200"),
		VisionBaseURL:  getEnv("VISION_BASE_URL", "http://localhost:8300"),
		VisionAPIKey:   os.Getenv("VISION_API_KEY"),
		VisionModel:    getEnv("VISION_MODEL", "deepseek-ocr"),
		EnhanceBaseURL: getEnv("ENHANCE_BASE_URL", "http://localhost:11434"),
		EnhanceAPIKey:  os.Getenv("ENHANCE_API_KEY"),
		EnhanceModel:   getEnv("ENHANCE_MODEL", "gemma3:12b"),

		DispatchTimeout:  time.Second * time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 300)),
		MaxActiveJobs:    getEnvInt("MAX_ACTIVE_JOBS", 4),
		RetentionWindow:  time.Minute * time.Duration(getEnvInt("RETENTION_WINDOW_MINUTES", 24*60)),
		RetentionEvery:   time.Minute * time.Duration(getEnvInt("RETENTION_SWEEP_MINUTES", 15)),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 64)) << 20,
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitCSV(origins)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
