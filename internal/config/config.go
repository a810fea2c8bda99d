// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-research/internal/util"
)

// CurrentVersion is written into saved config files.
const CurrentVersion = "1"

// DefaultServerURL is the backend assumed when nothing is configured.
const DefaultServerURL = "http://localhost:8000"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete client configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" json:"server"`
	Endpoints EndpointsConfig `toml:"endpoints" json:"endpoints"`
	Auth      AuthConfig      `toml:"auth" json:"auth"`
	History   HistoryConfig   `toml:"history" json:"history"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" json:"metrics"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// URL is the backend base URL, e.g. "http://localhost:8000"
	URL string `toml:"url" json:"url"`
	// TimeoutSecs bounds each command's network work (0 = no limit).
	// Applied by the caller through a context deadline.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// EndpointsConfig overrides backend paths. Empty values keep the built-in route.
type EndpointsConfig struct {
	Sources          string `toml:"sources" json:"sources"`
	Answer           string `toml:"answer" json:"answer"`
	MultiStep        string `toml:"multi_step" json:"multi_step"`
	SimilarQuestions string `toml:"similar_questions" json:"similar_questions"`
	AuthStatus       string `toml:"auth_status" json:"auth_status"`
	AuthLogin        string `toml:"auth_login" json:"auth_login"`
	AuthMe           string `toml:"auth_me" json:"auth_me"`
	AuthLogout       string `toml:"auth_logout" json:"auth_logout"`
}

// AuthConfig covers token storage and the session guard.
type AuthConfig struct {
	// TokenFile holds the bearer token (empty = ~/.research/token).
	TokenFile string `toml:"token_file" json:"token_file"`
	// LoginPath is where the guard sends unauthenticated users.
	LoginPath string `toml:"login_path" json:"login_path"`
	// PublicPaths are reachable without a session (prefix match).
	PublicPaths []string `toml:"public_paths" json:"public_paths"`
}

// HistoryConfig controls the local answer history.
type HistoryConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database (empty = ~/.research/history.db).
	Path       string `toml:"path" json:"path"`
	MaxEntries int    `toml:"max_entries" json:"max_entries"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json"
	Format string `toml:"format" json:"format"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464" (empty = disabled)
	Addr string `toml:"addr" json:"addr"`
}

// UIConfig controls terminal output.
type UIConfig struct {
	// Render formats final answers as markdown on a terminal.
	Render bool `toml:"render" json:"render"`
	// Style is the glamour style: auto, dark, light, notty
	Style string `toml:"style" json:"style"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			URL:         DefaultServerURL,
			TimeoutSecs: 0,
		},
		Auth: AuthConfig{
			LoginPath:   "/login",
			PublicPaths: []string{"/login", "/logout", "/status", "/config"},
		},
		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: 500,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		UI: UIConfig{
			Render: true,
			Style:  "auto",
		},
	}
}

// SetDefaults fills zero values that have a meaningful default. Paths under
// the config directory are resolved here so callers always see absolute paths.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Server.URL == "" {
		c.Server.URL = d.Server.URL
	}
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = d.Auth.LoginPath
	}
	if c.Auth.PublicPaths == nil {
		c.Auth.PublicPaths = d.Auth.PublicPaths
	}
	if c.History.MaxEntries == 0 {
		c.History.MaxEntries = d.History.MaxEntries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.UI.Style == "" {
		c.UI.Style = d.UI.Style
	}

	if dir, err := ConfigDir(); err == nil {
		if c.Auth.TokenFile == "" {
			c.Auth.TokenFile = filepath.Join(dir, "token")
		}
		if c.History.Path == "" {
			c.History.Path = filepath.Join(dir, "history.db")
		}
	}
}

// Timeout returns Server.TimeoutSecs as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory. RESEARCH_HOME overrides
// the default of ~/.research.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RESEARCH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".research"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions narrows a config file to 0600.
// SECURITY: Config files name the token file and server; keep them private.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides apply in every case.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads the file at path, choosing the decoder by extension
// (.json, otherwise TOML).
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes the JSON file at path over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML to path.
// RELIABILITY: Atomic write with fsync prevents a torn config on crash.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# research client configuration\n")
	buf.WriteString("# Generated by research - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as JSON to path.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns ValidateErrors listing all problems.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Server.URL); err != nil {
		add("server.url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("server.url", "scheme must be http or https, got %q", u.Scheme)
	} else if u.Host == "" {
		add("server.url", "missing host")
	}
	if c.Server.TimeoutSecs < 0 {
		add("server.timeout_secs", "cannot be negative")
	}

	ev := reflect.ValueOf(c.Endpoints)
	et := ev.Type()
	for i := 0; i < et.NumField(); i++ {
		path := ev.Field(i).String()
		if path != "" && !strings.HasPrefix(path, "/") {
			add("endpoints."+et.Field(i).Tag.Get("toml"), "path %q must start with /", path)
		}
	}

	if !strings.HasPrefix(c.Auth.LoginPath, "/") {
		add("auth.login_path", "path %q must start with /", c.Auth.LoginPath)
	}
	for _, p := range c.Auth.PublicPaths {
		if p == "" {
			add("auth.public_paths", "empty prefix would make every path public")
		}
	}

	if c.History.MaxEntries < 0 {
		add("history.max_entries", "cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: console, json", c.Logging.Format)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr", "invalid listen address: %v", err)
		}
	}

	switch c.UI.Style {
	case "auto", "dark", "light", "notty":
	default:
		add("ui.style", "invalid style '%s', must be one of: auto, dark, light, notty", c.UI.Style)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RESEARCH_SERVER_URL: overrides server.url
//   - RESEARCH_TOKEN_FILE: overrides auth.token_file
//   - RESEARCH_LOG_LEVEL: overrides logging.level
//   - RESEARCH_TIMEOUT: overrides server.timeout_secs (seconds or a duration like "90s")
//   - RESEARCH_METRICS_ADDR: overrides metrics.addr
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("RESEARCH_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("RESEARCH_TOKEN_FILE"); v != "" {
		c.Auth.TokenFile = v
	}
	if v := os.Getenv("RESEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RESEARCH_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("RESEARCH_TIMEOUT"); v != "" {
		secs, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("RESEARCH_TIMEOUT: %w", err)
		}
		c.Server.TimeoutSecs = secs
	}
	return nil
}

// ParseTimeout accepts whole seconds ("30") or a Go duration ("2m").
func ParseTimeout(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errors.New("timeout cannot be negative")
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if d < 0 {
		return 0, errors.New("timeout cannot be negative")
	}
	return int(d.Round(time.Second) / time.Second), nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its dotted TOML key, e.g. "server.url".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its dotted TOML key. String input is converted to
// the field's type; lists are comma separated.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("key '%s' is a section", key)
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue converts value to the field's kind.
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("cannot set field of type %s", field.Type())
	}
	return nil
}

// AllKeys returns every settable key in dot notation.
func AllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + f.Tag.Get("toml")
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// String renders the config as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
