// Package config loads the portal's configuration with precedence:
// command-line flags, then environment variables, then a .env file, then
// defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the portal configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	API     APIConfig
	Storage StorageConfig
	Views   ViewConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL         string        // REST base (default: http://localhost:8080)
	GraphQLURL      string        // default: {BaseURL}/graphql
	WebSocketURL    string        // default: {BaseURL}/graphql with a ws scheme
	Timeout         time.Duration // per HTTP request (default: 30s)
	WSRetryAttempts int           // consecutive reconnect attempts (default: 5)
}

// StorageConfig locates the local token database.
type StorageConfig struct {
	DBPath string
}

// ViewConfig holds page sizes.
type ViewConfig struct {
	StudentPageSize int
	BooksPageSize   int
}

// Flags carries command-line overrides. Empty fields fall through to the
// environment.
type Flags struct {
	Env             string
	LogLevel        string
	APIURL          string
	GraphQLURL      string
	WSURL           string
	DBPath          string
	HTTPTimeout     string
	WSRetryAttempts string
	EnvFile         string
}

const envPrefix = "LIBRARY_"

// Load builds the configuration from flags, the environment and the .env file.
func Load(flags Flags) (*Config, error) {
	envFile := flags.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env file is fine. godotenv never overrides variables that are
	// already set, which keeps the environment above the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(flags.Env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(flags.LogLevel, "LOG_LEVEL", "info"),
		},
		API: APIConfig{
			BaseURL:         strings.TrimRight(getConfigValue(flags.APIURL, "API_URL", "http://localhost:8080"), "/"),
			GraphQLURL:      getConfigValue(flags.GraphQLURL, "GRAPHQL_URL", ""),
			WebSocketURL:    getConfigValue(flags.WSURL, "WS_URL", ""),
			WSRetryAttempts: getIntConfigValue(flags.WSRetryAttempts, "WS_RETRY_ATTEMPTS", 5),
		},
		Storage: StorageConfig{
			DBPath: getConfigValue(flags.DBPath, "DB_PATH", ""),
		},
		Views: ViewConfig{
			StudentPageSize: getIntConfigValue("", "STUDENT_PAGE_SIZE", 10),
			BooksPageSize:   getIntConfigValue("", "BOOKS_PAGE_SIZE", 5),
		},
	}

	timeoutStr := getConfigValue(flags.HTTPTimeout, "HTTP_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid http timeout %q: %w", timeoutStr, err)
	}
	cfg.API.Timeout = timeout

	if cfg.API.GraphQLURL == "" {
		cfg.API.GraphQLURL = cfg.API.BaseURL + "/graphql"
	}
	if cfg.API.WebSocketURL == "" {
		ws, err := websocketURL(cfg.API.GraphQLURL)
		if err != nil {
			return nil, fmt.Errorf("derive websocket url: %w", err)
		}
		cfg.API.WebSocketURL = ws
	}

	if err := cfg.expandDBPath(); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all values are present and usable.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{"development": true, "staging": true, "production": true}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	for name, raw := range map[string]string{
		"api url":       c.API.BaseURL,
		"graphql url":   c.API.GraphQLURL,
		"websocket url": c.API.WebSocketURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}

	if c.API.Timeout <= 0 {
		return errors.New("http timeout must be positive")
	}
	if c.API.WSRetryAttempts <= 0 {
		return errors.New("websocket retry attempts must be positive")
	}
	if c.Views.StudentPageSize <= 0 || c.Views.BooksPageSize <= 0 {
		return errors.New("page sizes must be positive")
	}
	if c.Storage.DBPath == "" {
		return errors.New("database path cannot be empty after expansion")
	}
	return nil
}

// IsProduction reports whether the production environment is selected.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func websocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// expandDBPath expands ~ and makes the path absolute. The default lives in the
// user's config directory.
func (c *Config) expandDBPath() error {
	path := c.Storage.DBPath
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		c.Storage.DBPath = filepath.Join(dir, "library-portal", "library-portal.db")
		return nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	c.Storage.DBPath = filepath.Clean(abs)
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envPrefix + envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return n
}
