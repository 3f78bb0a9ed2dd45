package jsonp

import (
	"fmt"
	"net/url"

	"github.com/danmuck/isonp/internal/protocol/script"
)

// CallbackParam is the query parameter carrying the callback path.
const CallbackParam = "callback"

// URLComposer turns a callback path into a fetchable request URL.
type URLComposer interface {
	Compose(callback string) (string, error)
}

// QueryComposer adds the callback path and a fixed set of parameters to a base URL.
type QueryComposer struct {
	base   *url.URL
	params url.Values
}

func NewQueryComposer(rawURL string, params url.Values) (*QueryComposer, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse poll url: %w", err)
	}
	fixed := url.Values{}
	for k, vs := range params {
		fixed[k] = append([]string(nil), vs...)
	}
	return &QueryComposer{base: base, params: fixed}, nil
}

func (c *QueryComposer) Compose(callback string) (string, error) {
	if !script.ValidCallback(callback) {
		return "", fmt.Errorf("%w: %q", script.ErrInvalidCallback, callback)
	}
	u := *c.base
	q := u.Query()
	for k, vs := range c.params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set(CallbackParam, callback)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func withQuery(rawURL string, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
