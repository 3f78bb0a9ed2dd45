package jsonp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer is the client-to-server half of the link: one stateless send per message.
type Writer interface {
	Write(ctx context.Context, message []byte) error
}

type WriterFunc func(ctx context.Context, message []byte) error

func (f WriterFunc) Write(ctx context.Context, message []byte) error {
	return f(ctx, message)
}

// HTTPWriter POSTs each message as the request body.
type HTTPWriter struct {
	client *http.Client
	url    string
}

func NewHTTPWriter(client *http.Client, rawURL string) *HTTPWriter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPWriter{client: client, url: rawURL}
}

func (w *HTTPWriter) Write(ctx context.Context, message []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			return fmt.Errorf("write status %d", resp.StatusCode)
		}
		return fmt.Errorf("write status %d: %s", resp.StatusCode, detail)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
