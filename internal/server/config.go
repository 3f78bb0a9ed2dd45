package server

import (
	"fmt"
	"strings"
	"time"
)

// Config defines poll server behavior.
type Config struct {
	Name        string
	Addr        string
	CorsOrigins []string
	// PollHold is how long a long poll waits for messages before answering empty.
	PollHold time.Duration
	// SessionTTL is how long a mailbox survives without a poll or write.
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	MaxQueue        int
	MaxMessageBytes int64
	// WriteTokens gate POST /write when non-empty.
	WriteTokens []string
	TLSCertFile string
	TLSKeyFile  string
}

func DefaultConfig() Config {
	return Config{
		Name:            "isonpd",
		Addr:            ":9000",
		CorsOrigins:     []string{"http://localhost:3000"},
		PollHold:        25 * time.Second,
		SessionTTL:      2 * time.Minute,
		SweepInterval:   30 * time.Second,
		MaxQueue:        256,
		MaxMessageBytes: 64 << 10,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if len(c.CorsOrigins) == 0 {
		c.CorsOrigins = def.CorsOrigins
	}
	if c.PollHold < 0 {
		c.PollHold = 0
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = def.MaxQueue
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	return c
}

// Validate checks settings that WithDefaults cannot repair.
func (c Config) Validate() error {
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	if c.PollHold >= c.SessionTTL {
		return fmt.Errorf("poll_hold (%v) must be shorter than session_ttl (%v)", c.PollHold, c.SessionTTL)
	}
	return nil
}
