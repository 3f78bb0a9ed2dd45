package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/isonp/internal/protocol/script"
	"github.com/danmuck/isonp/internal/testutil/testlog"
	"github.com/danmuck/isonp/internal/testutil/tlstest"
	"github.com/danmuck/isonp/internal/transport/jsonp"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Name = "isonpd-test"
	cfg.PollHold = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

// replyCall parses a poll reply and returns the single call it makes.
func replyCall(t *testing.T, rr *httptest.ResponseRecorder) script.Call {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/javascript")
	calls, err := script.Parse(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, calls, 1)
	return calls[0]
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)
	rr := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "isonpd-test", body["service"])

	rr = do(s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ready":true`)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)
	rr := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPollRejectsInvalidCallback(t *testing.T) {
	s := newTestServer(t, nil)
	for _, cb := range []string{"", "alert(1)", "a..b", "x;y"} {
		rr := do(s, http.MethodGet, "/poll?callback="+cb+"&sid="+uuid.NewString(), "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, "callback %q", cb)
	}
}

func TestPollInvalidSessionAnswersRemoteError(t *testing.T) {
	s := newTestServer(t, nil)
	call := replyCall(t, do(s, http.MethodGet, "/poll?callback=__isonp.3&sid=nope", ""))

	assert.Equal(t, "__isonp.3", call.Path)
	assert.JSONEq(t, `{"message":"invalid session id"}`, string(call.Arg(0)))
	assert.Equal(t, "null", string(call.Arg(1)))
}

func TestShortPollAnswersImmediately(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.PollHold = time.Minute })
	sid := uuid.NewString()

	start := time.Now()
	call := replyCall(t, do(s, http.MethodGet, "/poll?callback=__isonp.0&mode=short&sid="+sid, ""))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "null", string(call.Arg(0)))
	assert.Equal(t, "[]", string(call.Arg(1)))
}

func TestWriteThenPollDelivers(t *testing.T) {
	s := newTestServer(t, nil)
	sid := uuid.NewString()

	rr := do(s, http.MethodPost, "/write?sid="+sid, "hello")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(s, http.MethodPost, "/write?sid="+sid, ` {"n":1} `)
	require.Equal(t, http.StatusNoContent, rr.Code)

	call := replyCall(t, do(s, http.MethodGet, "/poll?callback=cb&mode=short&sid="+sid, ""))
	assert.JSONEq(t, `["hello",{"n":1}]`, string(call.Arg(1)))
}

func TestWriteRejectsBadInput(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxMessageBytes = 4 })

	rr := do(s, http.MethodPost, "/write?sid=nope", "x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(s, http.MethodPost, "/write?sid="+uuid.NewString(), "too large")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestLongPollWakesOnWrite(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.PollHold = 5 * time.Second })
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()
	sid := uuid.NewString()

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := srv.Client().Get(srv.URL + "/poll?callback=cb&sid=" + sid)
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var b strings.Builder
		_, err = b.ReadFrom(resp.Body)
		got <- result{body: b.String(), err: err}
	}()

	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	resp, err := srv.Client().Post(srv.URL+"/write?sid="+uuid.NewString(), "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, `cb(null,["ping"]);`, r.body)
	case <-time.After(3 * time.Second):
		t.Fatalf("long poll did not wake on write")
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.PollHold = time.Minute })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	// a held poll must not keep shutdown waiting
	held := make(chan struct{})
	go func() {
		defer close(held)
		resp, err := http.Get(base + "/poll?callback=cb&sid=" + uuid.NewString())
		if err == nil {
			resp.Body.Close()
		}
	}()
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownGrace + time.Second):
		t.Fatalf("server did not stop")
	}
	<-held
}

func TestSessionRoundTripOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	hub := jsonp.NewEventHub(zerolog.Nop())
	events, unsubscribe, err := hub.Subscribe(64)
	require.NoError(t, err)
	defer unsubscribe()

	cfg := jsonp.DefaultConfig()
	cfg.URL = srv.URL + "/poll"
	cfg.WriteURL = srv.URL + "/write"
	cfg.Timeout = 5 * time.Second
	cfg.Interval = 10 * time.Millisecond
	session, err := jsonp.New(cfg, jsonp.Options{HTTPClient: srv.Client(), Sink: hub})
	require.NoError(t, err)
	require.NoError(t, session.Initialize())
	defer session.End()
	assert.True(t, session.Isolated())

	wrote := make(chan error, 1)
	require.NoError(t, session.Write([]byte("hello"), func(err error) { wrote <- err }))
	require.NoError(t, <-wrote)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			require.Equal(t, jsonp.EventData, event.Type, "unexpected error event: %v", event.Err)
			var msgs []string
			require.NoError(t, json.Unmarshal(event.Data, &msgs))
			if len(msgs) == 0 {
				continue
			}
			assert.Equal(t, []string{"hello"}, msgs)
			assert.True(t, session.End())
			assert.Equal(t, jsonp.StateEnded, session.State())
			return
		case <-deadline:
			t.Fatalf("no data event carried the written message")
		}
	}
}

func TestWriteTokensGateWrites(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.WriteTokens = []string{"s3cret"} })
	sid := uuid.NewString()

	rr := do(s, http.MethodPost, "/write?sid="+sid, "x")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(s, http.MethodPost, "/write?token=s3cret&sid="+sid, "x")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestConfigValidateTLSPair(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLSCertFile = "server.crt"
	assert.Error(t, cfg.Validate())
	cfg.TLSKeyFile = "server.key"
	assert.NoError(t, cfg.Validate())
}

func TestSessionRoundTripOverTLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, "isonp-test-ca")
	certFile, keyFile := ca.IssueLocalhost(t, t.TempDir())
	s := newTestServer(t, func(c *Config) {
		c.TLSCertFile = certFile
		c.TLSKeyFile = keyFile
		c.WriteTokens = []string{"s3cret"}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.ServeListener(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	base := "https://" + ln.Addr().String()
	hub := jsonp.NewEventHub(zerolog.Nop())
	events, unsubscribe, err := hub.Subscribe(64)
	require.NoError(t, err)
	defer unsubscribe()

	cfg := jsonp.DefaultConfig()
	cfg.URL = base + "/poll"
	cfg.WriteURL = base + "/write?token=s3cret"
	cfg.Mode = jsonp.ModeShort
	cfg.Interval = 20 * time.Millisecond
	session, err := jsonp.New(cfg, jsonp.Options{HTTPClient: ca.Client(), Sink: hub})
	require.NoError(t, err)
	require.NoError(t, session.Initialize())
	defer session.End()

	wrote := make(chan error, 1)
	require.NoError(t, session.Write([]byte(`{"secure":true}`), func(err error) { wrote <- err }))
	require.NoError(t, <-wrote)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			require.Equal(t, jsonp.EventData, event.Type, "unexpected error event: %v", event.Err)
			if string(event.Data) == "[]" {
				continue
			}
			assert.JSONEq(t, `[{"secure":true}]`, string(event.Data))
			return
		case <-deadline:
			t.Fatalf("no data event over tls")
		}
	}
}
