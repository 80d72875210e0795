package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Harvest  HarvestConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
	Region   RegionConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type BrowserConfig struct {
	Headless          bool
	Timeout           time.Duration
	NavigationRetries int
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	ProxyServer       string
}

type HarvestConfig struct {
	Variant           string
	Query             string
	Location          string
	MaxResults        int
	MaxIterations     int
	ScrollDelay       time.Duration
	PaceMin           time.Duration
	PaceMax           time.Duration
	NavigationTimeout time.Duration
	ResultsTimeout    time.Duration
	DetailTimeout     time.Duration
	URLChangeTimeout  time.Duration
	OutputDir         string
	DiagnosticsDir    string
	RunIndexFile      string
	QueueSize         int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RegionConfig struct {
	City          string
	Regency       string
	CityMarker    string
	RegencyMarker string
	AreaMarker    string
	CityDistricts []string
}

// Load reads the environment after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	outputDir := getEnvOrDefault("HARVEST_OUTPUT_DIR", "output")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			NavigationRetries: getIntOrDefault("BROWSER_NAVIGATION_RETRIES", 3),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:         getEnvOrDefault("BROWSER_USER_AGENT", ""),
			AcceptLanguage:    getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "id-ID,id;q=0.9,en;q=0.8"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Jakarta"),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "id-ID"),
			ProxyServer:       getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Harvest: HarvestConfig{
			Variant:           getEnvOrDefault("HARVEST_VARIANT", "maps"),
			Query:             getEnvOrDefault("HARVEST_QUERY", "restoran"),
			Location:          getEnvOrDefault("HARVEST_LOCATION", "Kabupaten Cirebon, Jawa Barat"),
			MaxResults:        getIntOrDefault("HARVEST_MAX_RESULTS", 20),
			MaxIterations:     getIntOrDefault("HARVEST_MAX_ITERATIONS", 0),
			ScrollDelay:       getDurationOrDefault("HARVEST_SCROLL_DELAY", 2*time.Second),
			PaceMin:           getDurationOrDefault("HARVEST_PACE_MIN", 500*time.Millisecond),
			PaceMax:           getDurationOrDefault("HARVEST_PACE_MAX", 1500*time.Millisecond),
			NavigationTimeout: getDurationOrDefault("HARVEST_NAVIGATION_TIMEOUT", 30*time.Second),
			ResultsTimeout:    getDurationOrDefault("HARVEST_RESULTS_TIMEOUT", 15*time.Second),
			DetailTimeout:     getDurationOrDefault("HARVEST_DETAIL_TIMEOUT", 10*time.Second),
			URLChangeTimeout:  getDurationOrDefault("HARVEST_URL_CHANGE_TIMEOUT", 5*time.Second),
			OutputDir:         outputDir,
			DiagnosticsDir:    getEnvOrDefault("HARVEST_DIAGNOSTICS_DIR", filepath.Join(outputDir, "debug")),
			RunIndexFile:      getEnvOrDefault("HARVEST_RUN_INDEX", filepath.Join(outputDir, "runs.json")),
			QueueSize:         getIntOrDefault("HARVEST_QUEUE_SIZE", 100),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "listing_harvester"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Region: RegionConfig{
			City:          getEnvOrDefault("REGION_CITY", "Kota Cirebon"),
			Regency:       getEnvOrDefault("REGION_REGENCY", "Kabupaten Cirebon"),
			CityMarker:    getEnvOrDefault("REGION_CITY_MARKER", "kota cirebon"),
			RegencyMarker: getEnvOrDefault("REGION_REGENCY_MARKER", "kabupaten cirebon"),
			AreaMarker:    getEnvOrDefault("REGION_AREA_MARKER", "cirebon"),
			CityDistricts: getStringSliceOrDefault("REGION_CITY_DISTRICTS",
				[]string{"kesambi", "harjamukti", "kejaksan", "lemahwungkuk", "pekalipan"}),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Harvest.MaxResults < 1 {
		return fmt.Errorf("HARVEST_MAX_RESULTS must be at least 1")
	}

	if c.Harvest.MaxIterations < 0 {
		return fmt.Errorf("HARVEST_MAX_ITERATIONS cannot be negative")
	}

	if c.Harvest.PaceMin < 0 || c.Harvest.PaceMin > c.Harvest.PaceMax {
		return fmt.Errorf("HARVEST_PACE_MIN must be between 0 and HARVEST_PACE_MAX")
	}

	if c.Harvest.NavigationTimeout <= 0 || c.Harvest.ResultsTimeout <= 0 || c.Harvest.DetailTimeout <= 0 {
		return fmt.Errorf("harvest timeouts must be positive")
	}

	if c.Harvest.OutputDir == "" {
		return fmt.Errorf("HARVEST_OUTPUT_DIR is required")
	}

	if c.Harvest.QueueSize < 1 {
		return fmt.Errorf("HARVEST_QUEUE_SIZE must be at least 1")
	}

	if c.Browser.NavigationRetries < 1 {
		return fmt.Errorf("BROWSER_NAVIGATION_RETRIES must be at least 1")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required when DB_ENABLED is set")
		}
		if c.Relay.BatchSize < 1 {
			return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
		}
	}

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid SERVER_PORT %q", c.Server.Port)
	}

	return nil
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

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
