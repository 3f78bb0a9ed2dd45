// Package auth gates server routes behind shared tokens.
//
// Tokens are compared in constant time. Issuance and storage live elsewhere.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// QueryParam carries the token for clients that cannot set headers.
const QueryParam = "token"

const bearerPrefix = "Bearer "

// Tokens is a set of accepted shared tokens. The zero value accepts nothing
// and is reported as disabled.
type Tokens struct {
	accepted [][]byte
}

func NewTokens(tokens ...string) Tokens {
	var out Tokens
	for _, token := range tokens {
		if v := strings.TrimSpace(token); v != "" {
			out.accepted = append(out.accepted, []byte(v))
		}
	}
	return out
}

func (t Tokens) Enabled() bool {
	return len(t.accepted) > 0
}

// Check compares token against every accepted token so timing does not
// reveal which one matched.
func (t Tokens) Check(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	ok := 0
	for _, accepted := range t.accepted {
		ok |= subtle.ConstantTimeCompare(accepted, []byte(token))
	}
	if ok != 1 {
		return ErrUnauthorized
	}
	return nil
}

// TokenFrom reads a bearer Authorization header, then the token query parameter.
func TokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return r.URL.Query().Get(QueryParam)
}

// Require rejects requests without an accepted token. Disabled token sets
// let every request through.
func Require(tokens Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.Next()
			return
		}
		if err := tokens.Check(TokenFrom(c.Request)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
