// Package config holds the client's persisted settings: the remote store
// connection at ~/.config/huddle/config.json and the signed-in credentials
// at ~/.config/huddle/auth.json. Environment variables override the files.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Remote store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverAPI      = "api"
)

// RemoteConfig selects and parameterizes the remote store backend.
type RemoteConfig struct {
	Driver string `json:"driver,omitempty"` // memory | sqlite | postgres | api
	Path   string `json:"path,omitempty"`   // sqlite database file
	DSN    string `json:"dsn,omitempty"`    // postgres connection string
	URL    string `json:"url,omitempty"`    // relay base URL for the api driver
	Token  string `json:"token,omitempty"`  // relay shared token
}

// Config is the global client config stored at ~/.config/huddle/config.json.
type Config struct {
	Remote         RemoteConfig `json:"remote"`
	OperatorUserID string       `json:"operator_user_id,omitempty"`
	LogLevel       string       `json:"log_level,omitempty"`
	PushEnabled    *bool        `json:"push_enabled,omitempty"` // nil = default true
}

// AuthCredentials stores the signed-in identity at ~/.config/huddle/auth.json.
type AuthCredentials struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

const defaultRelayURL = "http://localhost:8484"

// ConfigDir returns ~/.config/huddle, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "huddle")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns ~/.local/share/huddle, creating it if necessary. The
// default sqlite database lives here.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".local", "share", "huddle")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config. A missing file yields zero-value
// defaults, not an error.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads stored credentials. Returns nil without error when signed
// out.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes credentials with owner-only permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes stored credentials. Already signed out is not an error.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetDriver returns the remote store driver.
// Priority: HUDDLE_REMOTE_DRIVER env > config.json > sqlite.
func GetDriver() string {
	if v := os.Getenv("HUDDLE_REMOTE_DRIVER"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Remote.Driver != "" {
		return cfg.Remote.Driver
	}
	return DriverSQLite
}

// GetSQLitePath returns the sqlite database path.
// Priority: HUDDLE_DB env > config.json > ~/.local/share/huddle/huddle.db.
func GetSQLitePath() (string, error) {
	if v := os.Getenv("HUDDLE_DB"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Remote.Path != "" {
		return cfg.Remote.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "huddle.db"), nil
}

// GetDSN returns the postgres connection string.
// Priority: HUDDLE_DSN env > config.json.
func GetDSN() string {
	if v := os.Getenv("HUDDLE_DSN"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Remote.DSN
	}
	return ""
}

// GetRelayURL returns the relay base URL for the api driver.
// Priority: HUDDLE_REMOTE_URL env > config.json > default.
func GetRelayURL() string {
	if v := os.Getenv("HUDDLE_REMOTE_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Remote.URL != "" {
		return cfg.Remote.URL
	}
	return defaultRelayURL
}

// GetRelayToken returns the relay shared token.
// Priority: HUDDLE_REMOTE_TOKEN env > config.json.
func GetRelayToken() string {
	if v := os.Getenv("HUDDLE_REMOTE_TOKEN"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Remote.Token
	}
	return ""
}

// GetOperatorUserID returns the pinned identity override, if any.
// Priority: HUDDLE_OPERATOR env > config.json.
func GetOperatorUserID() string {
	if v := os.Getenv("HUDDLE_OPERATOR"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.OperatorUserID
	}
	return ""
}

// GetLogLevel returns the log level name.
// Priority: HUDDLE_LOG_LEVEL env > config.json > info.
func GetLogLevel() string {
	if v := os.Getenv("HUDDLE_LOG_LEVEL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.LogLevel != "" {
		return cfg.LogLevel
	}
	return "info"
}

// GetPushEnabled returns whether outbound push delivery is on.
// Priority: HUDDLE_PUSH env > config.json > true.
func GetPushEnabled() bool {
	switch os.Getenv("HUDDLE_PUSH") {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.PushEnabled != nil {
		return *cfg.PushEnabled
	}
	return true
}

// IsAuthenticated reports whether stored credentials exist.
func IsAuthenticated() bool {
	creds, err := LoadAuth()
	return err == nil && creds != nil && creds.UserID != ""
}

// GetDeviceID returns the stored device ID, generating one if needed.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	return GenerateDeviceID()
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
