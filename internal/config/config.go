package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/isonp/internal/server"
	"github.com/danmuck/isonp/internal/transport/jsonp"
	"github.com/pelletier/go-toml/v2"
)

// ServerFile is the on-disk form of a poll server config.
type ServerFile struct {
	Name            string   `toml:"name"`
	Addr            string   `toml:"addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	PollHold        string   `toml:"poll_hold"`
	SessionTTL      string   `toml:"session_ttl"`
	SweepInterval   string   `toml:"sweep_interval"`
	MaxQueue        int      `toml:"max_queue"`
	MaxMessageBytes int64    `toml:"max_message_bytes"`
	WriteTokens     []string `toml:"write_tokens"`
	TLSCertFile     string   `toml:"tls_cert_file"`
	TLSKeyFile      string   `toml:"tls_key_file"`
}

// ClientFile is the on-disk form of a polling session config.
type ClientFile struct {
	URL      string `toml:"url"`
	WriteURL string `toml:"write_url"`
	Global   string `toml:"global"`
	Mode     string `toml:"mode"`
	Timeout  string `toml:"timeout"`
	Interval string `toml:"interval"`
	Domain   string `toml:"domain"`
}

func LoadServerConfig(path string) (server.Config, error) {
	var file ServerFile
	if err := loadToml(path, &file); err != nil {
		return server.Config{}, err
	}
	cfg, err := file.Server()
	if err != nil {
		return server.Config{}, fmt.Errorf("server config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func LoadClientConfig(path string) (jsonp.Config, error) {
	var file ClientFile
	if err := loadToml(path, &file); err != nil {
		return jsonp.Config{}, err
	}
	cfg, err := file.Client()
	if err != nil {
		return jsonp.Config{}, fmt.Errorf("client config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Server overlays the file onto server.DefaultConfig. Empty fields keep defaults.
func (f ServerFile) Server() (server.Config, error) {
	cfg := server.DefaultConfig()
	if v := strings.TrimSpace(f.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(f.Addr); v != "" {
		cfg.Addr = v
	}
	if len(f.CorsOrigins) > 0 {
		cfg.CorsOrigins = f.CorsOrigins
	}
	var err error
	if cfg.PollHold, err = duration("poll_hold", f.PollHold, cfg.PollHold); err != nil {
		return server.Config{}, err
	}
	if cfg.SessionTTL, err = duration("session_ttl", f.SessionTTL, cfg.SessionTTL); err != nil {
		return server.Config{}, err
	}
	if cfg.SweepInterval, err = duration("sweep_interval", f.SweepInterval, cfg.SweepInterval); err != nil {
		return server.Config{}, err
	}
	if f.MaxQueue < 0 || f.MaxMessageBytes < 0 {
		return server.Config{}, errors.New("max_queue and max_message_bytes must not be negative")
	}
	if f.MaxQueue > 0 {
		cfg.MaxQueue = f.MaxQueue
	}
	if f.MaxMessageBytes > 0 {
		cfg.MaxMessageBytes = f.MaxMessageBytes
	}
	cfg.WriteTokens = f.WriteTokens
	cfg.TLSCertFile = strings.TrimSpace(f.TLSCertFile)
	cfg.TLSKeyFile = strings.TrimSpace(f.TLSKeyFile)
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// Client converts the file into a validated session config.
func (f ClientFile) Client() (jsonp.Config, error) {
	cfg := jsonp.Config{
		URL:      f.URL,
		WriteURL: f.WriteURL,
		Global:   f.Global,
		Domain:   f.Domain,
	}
	if strings.TrimSpace(f.Mode) != "" {
		mode, err := jsonp.ParseMode(f.Mode)
		if err != nil {
			return jsonp.Config{}, err
		}
		cfg.Mode = mode
	}
	var err error
	if cfg.Timeout, err = duration("timeout", f.Timeout, 0); err != nil {
		return jsonp.Config{}, err
	}
	if cfg.Interval, err = duration("interval", f.Interval, 0); err != nil {
		return jsonp.Config{}, err
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func duration(key, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// loadToml decodes strictly; unknown keys are reported as errors.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
