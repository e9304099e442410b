// ABOUTME: Configuration for fieldsync stored at XDG paths
// ABOUTME: Loads JSON config, .env files and FIELDSYNC_* environment overrides
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// AppName is the directory name used under the XDG data home.
const AppName = "fieldsync"

// Sink kinds.
const (
	SinkHTTP  = "http"
	SinkCharm = "charm"
)

// Location providers.
const (
	LocationGPSD   = "gpsd"
	LocationStatic = "static"
	LocationNone   = "none"
)

// Duration is a time.Duration that reads and writes Go duration strings in JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Location selects how actions are GPS-tagged.
type Location struct {
	Provider string   `json:"provider"`
	GPSDAddr string   `json:"gpsd_addr,omitempty"`
	Lat      float64  `json:"lat,omitempty"`
	Lng      float64  `json:"lng,omitempty"`
	Accuracy float64  `json:"accuracy,omitempty"`
	Timeout  Duration `json:"timeout"`
}

// Config holds every runtime setting.
type Config struct {
	// Sink is http or charm.
	Sink      string `json:"sink"`
	Server    string `json:"server,omitempty"`
	HealthURL string `json:"health_url,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	CharmHost     string `json:"charm_host,omitempty"`
	CharmAutoSync bool   `json:"charm_auto_sync"`

	DBPath       string `json:"db_path,omitempty"`
	CacheDir     string `json:"cache_dir,omitempty"`
	DeviceIDPath string `json:"device_id_path,omitempty"`
	TokenPath    string `json:"token_path,omitempty"`

	Location Location `json:"location"`

	ProbeInterval Duration `json:"probe_interval"`
	SyncInterval  Duration `json:"sync_interval"`
	SweepInterval Duration `json:"sweep_interval"`
	GraceDelay    Duration `json:"grace_delay"`
	SubmitTimeout Duration `json:"submit_timeout"`

	LogLevel string `json:"log_level"`
}

// Dir returns the XDG data directory for fieldsync.
func Dir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.json")
}

// Default returns a config with every field set.
func Default() *Config {
	dir := Dir()
	return &Config{
		Sink:         SinkHTTP,
		CharmHost:    "charm.2389.dev",
		DBPath:       filepath.Join(dir, "fieldsync.db"),
		CacheDir:     filepath.Join(dir, "cache"),
		DeviceIDPath: filepath.Join(dir, "device-id"),
		TokenPath:    filepath.Join(dir, "credentials.json"),
		Location: Location{
			Provider: LocationGPSD,
			GPSDAddr: "127.0.0.1:2947",
			Timeout:  Duration{10 * time.Second},
		},
		ProbeInterval: Duration{15 * time.Second},
		SyncInterval:  Duration{5 * time.Minute},
		SweepInterval: Duration{30 * time.Minute},
		GraceDelay:    Duration{3 * time.Second},
		SubmitTimeout: Duration{30 * time.Second},
		LogLevel:      "info",
	}
}

// LoadEnv loads .env files into the process environment. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FIELDSYNC_* environment variables:
// SINK, SERVER, HEALTH_URL, TENANT_ID, USER_ID, CHARM_HOST, DB_PATH, CACHE_DIR,
// GPSD_ADDR, LOCATION, SUBMIT_TIMEOUT, SYNC_INTERVAL, LOG_LEVEL.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"FIELDSYNC_SINK":       &cfg.Sink,
		"FIELDSYNC_SERVER":     &cfg.Server,
		"FIELDSYNC_HEALTH_URL": &cfg.HealthURL,
		"FIELDSYNC_TENANT_ID":  &cfg.TenantID,
		"FIELDSYNC_USER_ID":    &cfg.UserID,
		"FIELDSYNC_CHARM_HOST": &cfg.CharmHost,
		"FIELDSYNC_DB_PATH":    &cfg.DBPath,
		"FIELDSYNC_CACHE_DIR":  &cfg.CacheDir,
		"FIELDSYNC_GPSD_ADDR":  &cfg.Location.GPSDAddr,
		"FIELDSYNC_LOCATION":   &cfg.Location.Provider,
		"FIELDSYNC_LOG_LEVEL":  &cfg.LogLevel,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"FIELDSYNC_SUBMIT_TIMEOUT": &cfg.SubmitTimeout,
		"FIELDSYNC_SYNC_INTERVAL":  &cfg.SyncInterval,
	}
	for env, dst := range durations {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		dst.Duration = d
	}

	if v := os.Getenv("FIELDSYNC_CHARM_AUTO_SYNC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FIELDSYNC_CHARM_AUTO_SYNC: %w", err)
		}
		cfg.CharmAutoSync = b
	}
	return nil
}

// Validate checks enumerated fields and required combinations.
func (c *Config) Validate() error {
	switch c.Sink {
	case SinkHTTP, SinkCharm:
	default:
		return fmt.Errorf("unknown sink %q (want %s or %s)", c.Sink, SinkHTTP, SinkCharm)
	}
	switch c.Location.Provider {
	case LocationGPSD, LocationStatic, LocationNone:
	default:
		return fmt.Errorf("unknown location provider %q", c.Location.Provider)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SubmitTimeout.Duration <= 0 {
		return fmt.Errorf("submit_timeout must be positive")
	}
	return nil
}

// HealthCheckURL returns the URL probed for connectivity.
func (c *Config) HealthCheckURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	if c.Server == "" {
		return ""
	}
	return strings.TrimRight(c.Server, "/") + "/health"
}

// Save persists the config to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
