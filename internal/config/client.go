package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// ClientConfig holds the field client settings. Values come from an optional
// TOML file and are then overridden by RESQNET_* environment variables.
type ClientConfig struct {
	ServerURL string `toml:"server_url"`
	QueuePath string `toml:"queue_path"`

	// User is the signed-in identity recorded on reports; empty means anonymous.
	User string `toml:"user"`

	// Latitude and Longitude stand in for the device GPS fix.
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`

	ProbeInterval   Duration `toml:"probe_interval"`
	ProbeTimeout    Duration `toml:"probe_timeout"`
	DebounceSamples int      `toml:"debounce_samples"`

	RequestTimeout Duration `toml:"request_timeout"`
	RetryInitial   Duration `toml:"retry_initial"`
	RetryMax       Duration `toml:"retry_max"`

	Storage StorageConfig `toml:"storage"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// StorageConfig points at the object storage used for photo evidence.
// An empty URL disables uploads; reports are then sent text-only.
type StorageConfig struct {
	URL     string   `toml:"url"`
	Bucket  string   `toml:"bucket"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// Duration decodes TOML strings such as "5s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultClientConfig returns the settings used when nothing is configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:       "http://localhost:5001",
		QueuePath:       "data/outbox.db",
		ProbeInterval:   Duration{5 * time.Second},
		ProbeTimeout:    Duration{3 * time.Second},
		DebounceSamples: 2,
		RequestTimeout:  Duration{15 * time.Second},
		RetryInitial:    Duration{5 * time.Second},
		RetryMax:        Duration{5 * time.Minute},
		Storage: StorageConfig{
			Bucket:  "evidence",
			Timeout: Duration{30 * time.Second},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadClient builds the field client configuration. path may be empty, in
// which case only defaults and environment variables are used.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("read client config %s: %w", path, err)
		}
	}

	if err := applyClientEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyClientEnv(cfg *ClientConfig) error {
	cfg.ServerURL = sharedcfg.EnvOrDefault("RESQNET_SERVER_URL", cfg.ServerURL)
	cfg.QueuePath = sharedcfg.EnvOrDefault("RESQNET_QUEUE_PATH", cfg.QueuePath)
	cfg.User = sharedcfg.EnvOrDefault("RESQNET_USER", cfg.User)
	cfg.Storage.URL = sharedcfg.EnvOrDefault("RESQNET_STORAGE_URL", cfg.Storage.URL)
	cfg.Storage.Bucket = sharedcfg.EnvOrDefault("RESQNET_STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Token = sharedcfg.EnvOrDefault("RESQNET_STORAGE_TOKEN", cfg.Storage.Token)
	cfg.LogLevel = sharedcfg.EnvOrDefault("RESQNET_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = sharedcfg.EnvOrDefault("RESQNET_LOG_FORMAT", cfg.LogFormat)

	floats := map[string]*float64{
		"RESQNET_LAT": &cfg.Latitude,
		"RESQNET_LON": &cfg.Longitude,
	}
	for key, dst := range floats {
		if s := os.Getenv(key); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return errors.New("invalid " + key)
			}
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"RESQNET_PROBE_INTERVAL":  &cfg.ProbeInterval,
		"RESQNET_PROBE_TIMEOUT":   &cfg.ProbeTimeout,
		"RESQNET_REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"RESQNET_RETRY_INITIAL":   &cfg.RetryInitial,
		"RESQNET_RETRY_MAX":       &cfg.RetryMax,
		"RESQNET_STORAGE_TIMEOUT": &cfg.Storage.Timeout,
	}
	for key, dst := range durations {
		if s := os.Getenv(key); s != "" {
			if err := dst.UnmarshalText([]byte(s)); err != nil {
				return errors.New("invalid " + key)
			}
		}
	}

	if s := os.Getenv("RESQNET_DEBOUNCE_SAMPLES"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("invalid RESQNET_DEBOUNCE_SAMPLES")
		}
		cfg.DebounceSamples = n
	}
	return nil
}

// Validate checks the settings that would otherwise fail later at runtime.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("invalid RESQNET_SERVER_URL: must be an absolute URL")
	}
	if c.QueuePath == "" {
		return errors.New("RESQNET_QUEUE_PATH is required")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return errors.New("invalid RESQNET_LAT: must be between -90 and 90")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return errors.New("invalid RESQNET_LON: must be between -180 and 180")
	}
	if c.ProbeInterval.Duration <= 0 || c.ProbeTimeout.Duration <= 0 {
		return errors.New("invalid RESQNET_PROBE_INTERVAL/RESQNET_PROBE_TIMEOUT: must be positive")
	}
	if c.DebounceSamples < 1 {
		return errors.New("invalid RESQNET_DEBOUNCE_SAMPLES: must be at least 1")
	}
	if c.RequestTimeout.Duration <= 0 {
		return errors.New("invalid RESQNET_REQUEST_TIMEOUT: must be positive")
	}
	if c.RetryInitial.Duration <= 0 || c.RetryMax.Duration < c.RetryInitial.Duration {
		return errors.New("invalid RESQNET_RETRY_INITIAL/RESQNET_RETRY_MAX: need 0 < initial <= max")
	}
	if c.Storage.URL != "" && c.Storage.Bucket == "" {
		return errors.New("RESQNET_STORAGE_BUCKET is required when RESQNET_STORAGE_URL is set")
	}
	return nil
}
