package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/isonp/internal/server"
)

type fileConfig struct {
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

// resolveConfig loads path when it exists and falls back to defaults otherwise.
func resolveConfig(path string) (server.Config, error) {
	cfg, err := loadServerConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return server.DefaultConfig(), nil
	}
	return cfg, err
}

func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load isonpd config: %w", err)
	}

	if meta.IsDefined("name") {
		if v := strings.TrimSpace(raw.Name); v != "" {
			cfg.Name = v
		}
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	// poll_hold = "0s" is allowed and makes every poll answer immediately
	if meta.IsDefined("poll_hold") {
		if cfg.PollHold, err = parseDuration("poll_hold", raw.PollHold); err != nil {
			return server.Config{}, err
		}
	}
	if meta.IsDefined("session_ttl") {
		if cfg.SessionTTL, err = parseDuration("session_ttl", raw.SessionTTL); err != nil {
			return server.Config{}, err
		}
	}
	if meta.IsDefined("sweep_interval") {
		if cfg.SweepInterval, err = parseDuration("sweep_interval", raw.SweepInterval); err != nil {
			return server.Config{}, err
		}
	}
	if meta.IsDefined("max_queue") {
		cfg.MaxQueue = raw.MaxQueue
	}
	if meta.IsDefined("max_message_bytes") {
		cfg.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("write_tokens") {
		cfg.WriteTokens = raw.WriteTokens
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.Config{}, fmt.Errorf("unknown isonpd config key %q", undecoded[0].String())
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
