package jsonp

import (
	"testing"
	"time"

	"github.com/danmuck/isonp/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{URL: " http://poll.example.com/poll "}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://poll.example.com/poll", cfg.URL)
	assert.Equal(t, "__isonp", cfg.Global)
	assert.Equal(t, ModeLong, cfg.Mode)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, DefaultConfig().Global, cfg.Global)
}

func TestConfigNormalizesMode(t *testing.T) {
	testlog.Start(t)
	cfg := Config{URL: "http://h/poll", Mode: " SHORT "}.WithDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ModeShort, cfg.Mode)
}

func TestConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Config{
		"missing url":       {},
		"relative url":      {URL: "/poll"},
		"ftp url":           {URL: "ftp://h/poll"},
		"bad write url":     {URL: "http://h/poll", WriteURL: "nope"},
		"dotted global":     {URL: "http://h/poll", Global: "a.b"},
		"numeric global":    {URL: "http://h/poll", Global: "9a"},
		"unknown mode":      {URL: "http://h/poll", Mode: "medium"},
		"negative timeout":  {URL: "http://h/poll", Timeout: -time.Second},
		"negative interval": {URL: "http://h/poll", Interval: -time.Millisecond},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, cfg.WithDefaults().Validate(), ErrInvalidConfig)
			_, err := New(cfg, Options{})
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
