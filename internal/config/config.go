// Package config loads dpv settings from defaults, an optional JSON file and
// DPV_* environment variables, and watches the file for edits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the client's settings. Later sources override earlier ones:
// defaults, config file, environment, then command-line flags (applied by
// the caller).
type Config struct {
	Server       string   `json:"server" env:"DPV_SERVER"`
	Endpoint     string   `json:"endpoint" env:"DPV_WS"` // overrides the server-derived socket URL
	RecordType   string   `json:"record_type" env:"DPV_RECORD_TYPE"`
	CloseDelay   Duration `json:"close_delay" env:"DPV_CLOSE_DELAY"`
	DialDelay    Duration `json:"dial_delay" env:"DPV_DIAL_DELAY"`
	PingInterval Duration `json:"ping_interval" env:"DPV_PING_INTERVAL"`
	LogFile      string   `json:"log_file" env:"DPV_LOG"`
	MetricsAddr  string   `json:"metrics_addr" env:"DPV_METRICS_ADDR"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:       "http://localhost:8080",
		RecordType:   "A",
		CloseDelay:   Duration(1200 * time.Millisecond),
		DialDelay:    Duration(1500 * time.Millisecond),
		PingInterval: Duration(30 * time.Second),
	}
}

// Load applies the file at path (if non-empty) and then the environment
// on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Duration is a time.Duration written as a string ("1.5s") in JSON and
// in the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
