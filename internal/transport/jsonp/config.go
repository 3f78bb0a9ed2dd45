package jsonp

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/isonp/internal/protocol/script"
)

type Mode string

const (
	// ModeLong issues the next poll one Interval after the previous one completes.
	ModeLong Mode = "long"
	// ModeShort issues a poll every Interval whether or not earlier polls completed.
	ModeShort Mode = "short"
)

const (
	DefaultGlobal   = "__isonp"
	DefaultMode     = ModeLong
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = time.Second
)

// Config holds per-session polling settings.
type Config struct {
	// URL is the poll endpoint. The callback path and session id are added to its query.
	URL string
	// WriteURL is the outbound endpoint. Empty disables Write.
	WriteURL string
	// Global names the namespace object on the hosting document.
	Global   string
	Mode     Mode
	Timeout  time.Duration
	Interval time.Duration
	// Domain is the domain an isolated document relaxes to. Empty means the
	// ambient document's domain.
	Domain string
}

func DefaultConfig() Config {
	return Config{
		Global:   DefaultGlobal,
		Mode:     DefaultMode,
		Timeout:  DefaultTimeout,
		Interval: DefaultInterval,
	}
}

// WithDefaults fills empty fields. Zero durations take the defaults; negative
// durations are left for Validate to reject.
func (c Config) WithDefaults() Config {
	c.URL = strings.TrimSpace(c.URL)
	c.WriteURL = strings.TrimSpace(c.WriteURL)
	c.Global = strings.TrimSpace(c.Global)
	c.Domain = strings.TrimSpace(c.Domain)
	if c.Global == "" {
		c.Global = DefaultGlobal
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	} else if m, err := ParseMode(string(c.Mode)); err == nil {
		c.Mode = m
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	return c
}

func (c Config) Validate() error {
	if err := validateEndpoint("url", c.URL); err != nil {
		return err
	}
	if c.WriteURL != "" {
		if err := validateEndpoint("write_url", c.WriteURL); err != nil {
			return err
		}
	}
	if !script.ValidCallback(c.Global) || strings.Contains(c.Global, ".") {
		return fmt.Errorf("%w: global %q is not an identifier", ErrInvalidConfig, c.Global)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, c.Timeout)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	}
	return nil
}

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLong:
		return ModeLong, nil
	case ModeShort:
		return ModeShort, nil
	default:
		return "", fmt.Errorf("%w: mode %q", ErrInvalidConfig, raw)
	}
}

func validateEndpoint(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s scheme %q", ErrInvalidConfig, field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s has no host", ErrInvalidConfig, field)
	}
	return nil
}
