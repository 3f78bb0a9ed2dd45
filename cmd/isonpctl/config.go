package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/isonp/internal/transport/jsonp"
)

type fileConfig struct {
	URL      string `toml:"url"`
	WriteURL string `toml:"write_url"`
	Global   string `toml:"global"`
	Mode     string `toml:"mode"`
	Timeout  string `toml:"timeout"`
	Interval string `toml:"interval"`
	Domain   string `toml:"domain"`
}

func resolveConfig(path string) (jsonp.Config, error) {
	cfg, err := loadClientConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return jsonp.DefaultConfig(), nil
	}
	return cfg, err
}

// loadClientConfig overlays the keys present in path onto jsonp.DefaultConfig.
// The poll url may still be empty; flags can supply it.
func loadClientConfig(path string) (jsonp.Config, error) {
	cfg := jsonp.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return jsonp.Config{}, fmt.Errorf("load isonpctl config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("write_url") {
		cfg.WriteURL = strings.TrimSpace(raw.WriteURL)
	}
	if meta.IsDefined("global") {
		cfg.Global = strings.TrimSpace(raw.Global)
	}
	if meta.IsDefined("domain") {
		cfg.Domain = strings.TrimSpace(raw.Domain)
	}
	if meta.IsDefined("mode") {
		mode, err := jsonp.ParseMode(raw.Mode)
		if err != nil {
			return jsonp.Config{}, err
		}
		cfg.Mode = mode
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return jsonp.Config{}, err
		}
	}
	if meta.IsDefined("interval") {
		if cfg.Interval, err = parseDuration("interval", raw.Interval); err != nil {
			return jsonp.Config{}, err
		}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return jsonp.Config{}, fmt.Errorf("unknown isonpctl config key %q", undecoded[0].String())
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
