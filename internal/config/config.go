// Package config loads sessionsync settings from defaults, an optional YAML
// file, a .env file and SESSIONSYNC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/sessionsync"
	configFileName = "config.yaml"
	envPrefix      = "SESSIONSYNC_"
)

// Storage backends a profile can use.
const (
	BackendFile   = "file"
	BackendBbolt  = "bbolt"
	BackendMemory = "memory"
)

// Config is the full set of settings.
type Config struct {
	// IdentityURL is the base URL of the identity service.
	IdentityURL string `yaml:"identity_url"`
	// Origin is the application origin the flag cookie is scoped to.
	Origin          string        `yaml:"origin"`
	LoginPath       string        `yaml:"login_path"`
	PasswordTimeout time.Duration `yaml:"password_timeout"`
	LogLevel        string        `yaml:"log_level"`

	Profile ProfileConfig `yaml:"profile"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

// ProfileConfig selects where a profile keeps its durable state.
type ProfileConfig struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"`
	// Secret, when set, seals every stored value.
	Secret string `yaml:"secret"`
}

// BridgeConfig configures the OAuth redirect bridge server.
type BridgeConfig struct {
	Listen             string `yaml:"listen"`
	HomePath           string `yaml:"home_path"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		IdentityURL:     "http://localhost:8000",
		Origin:          "http://localhost:3000",
		LoginPath:       "/login",
		PasswordTimeout: 10 * time.Second,
		LogLevel:        "info",
		Profile: ProfileConfig{
			Dir:     filepath.Join(DefaultDir(), "profile"),
			Backend: BackendFile,
		},
		Bridge: BridgeConfig{
			Listen:   "127.0.0.1:3000",
			HomePath: "/",
		},
	}
}

// DefaultDir is ~/.config/sessionsync, or a relative directory when the
// home directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return userConfigDir
	}
	return filepath.Join(home, userConfigDir)
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), configFileName)
}

// Load builds a Config. A missing file at path is not an error; neither is a
// missing dotenv file. Empty arguments select DefaultPath and ".env".
func Load(path, dotenv string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", dotenv, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"IDENTITY_URL":         &cfg.IdentityURL,
		"ORIGIN":               &cfg.Origin,
		"LOGIN_PATH":           &cfg.LoginPath,
		"LOG_LEVEL":            &cfg.LogLevel,
		"PROFILE_DIR":          &cfg.Profile.Dir,
		"BACKEND":              &cfg.Profile.Backend,
		"STORAGE_SECRET":       &cfg.Profile.Secret,
		"BRIDGE_LISTEN":        &cfg.Bridge.Listen,
		"BRIDGE_HOME_PATH":     &cfg.Bridge.HomePath,
		"GOOGLE_CLIENT_ID":     &cfg.Bridge.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &cfg.Bridge.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":  &cfg.Bridge.GoogleRedirectURL,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envPrefix + "PASSWORD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPASSWORD_TIMEOUT: %w", envPrefix, err)
		}
		cfg.PasswordTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	for name, raw := range map[string]string{"identity_url": c.IdentityURL, "origin": c.Origin} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("login_path must start with /, got %q", c.LoginPath)
	}
	if c.PasswordTimeout <= 0 {
		return fmt.Errorf("password_timeout must be positive, got %s", c.PasswordTimeout)
	}
	switch c.Profile.Backend {
	case BackendFile, BackendBbolt, BackendMemory:
	default:
		return fmt.Errorf("unknown profile backend %q", c.Profile.Backend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// GoogleEnabled reports whether the bridge can start a provider redirect.
func (c Config) GoogleEnabled() bool {
	return c.Bridge.GoogleClientID != ""
}

// Level returns LogLevel as a slog.Level.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
