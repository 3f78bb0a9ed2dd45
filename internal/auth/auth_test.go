package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/isonp/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestTokensCheck(t *testing.T) {
	tests := []struct {
		name    string
		stored  []string
		input   string
		wantErr error
	}{
		{name: "no tokens denied", stored: nil, input: "abc", wantErr: ErrUnauthorized},
		{name: "blank entries ignored", stored: []string{" ", ""}, input: "", wantErr: ErrUnauthorized},
		{name: "mismatch denied", stored: []string{"abc"}, input: "xyz", wantErr: ErrUnauthorized},
		{name: "match accepted", stored: []string{"abc"}, input: "abc", wantErr: nil},
		{name: "second token accepted", stored: []string{"old", "new"}, input: "new", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			err := NewTokens(tc.stored...).Check(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTokenFromPrefersHeader(t *testing.T) {
	testlog.Start(t)
	req := httptest.NewRequest(http.MethodPost, "/write?token=query", nil)
	if got := TokenFrom(req); got != "query" {
		t.Fatalf("expected query token, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer header")
	if got := TokenFrom(req); got != "header" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestRequire(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	serve := func(tokens Tokens, target string) int {
		r := gin.New()
		r.POST("/write", Require(tokens), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		return rr.Code
	}

	if code := serve(Tokens{}, "/write"); code != http.StatusNoContent {
		t.Fatalf("disabled gate should pass, got %d", code)
	}
	if code := serve(NewTokens("s3cret"), "/write"); code != http.StatusUnauthorized {
		t.Fatalf("missing token should be rejected, got %d", code)
	}
	if code := serve(NewTokens("s3cret"), "/write?token=s3cret"); code != http.StatusNoContent {
		t.Fatalf("valid token should pass, got %d", code)
	}
}
