package jsonp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotActive indicates an operation on a session that is not active.
	ErrNotActive = errors.New("jsonp session not active")
	// ErrAlreadyInitialized indicates Initialize was called more than once.
	ErrAlreadyInitialized = errors.New("jsonp session already initialized")
	// ErrTimeout indicates no completion arrived within the configured timeout.
	ErrTimeout = errors.New("jsonp poll timeout")
	// ErrAborted indicates the session ended while the request was outstanding.
	ErrAborted = errors.New("jsonp poll aborted")
	// ErrUnsupported indicates the environment cannot load scripts.
	ErrUnsupported = errors.New("jsonp script loading unsupported")
	// ErrInvalidConfig indicates a configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid jsonp config")
	// ErrDuplicateRequest indicates a request id that is already registered.
	ErrDuplicateRequest = errors.New("jsonp request id already registered")
	// ErrPollInFlight indicates a long-mode poll while another slot is active.
	ErrPollInFlight = errors.New("jsonp poll already in flight")
	// ErrNoWriter indicates Write on a session without an outbound path.
	ErrNoWriter = errors.New("jsonp session has no writer")
)

// RemoteError is a failure payload delivered by the server as the first
// argument of the callback.
type RemoteError struct {
	RequestID string
	Payload   json.RawMessage
	Message   string
}

func (err *RemoteError) Error() string {
	if err == nil {
		return ""
	}
	message := strings.TrimSpace(err.Message)
	if message == "" {
		message = "remote error"
	}
	if err.RequestID == "" {
		return fmt.Sprintf("jsonp remote: %s", message)
	}
	return fmt.Sprintf("jsonp remote (%s): %s", err.RequestID, message)
}

// OutboundSendError wraps a failed Write.
type OutboundSendError struct {
	Err error
}

func (err *OutboundSendError) Error() string {
	if err == nil || err.Err == nil {
		return "jsonp write failed"
	}
	return "jsonp write failed: " + err.Err.Error()
}

func (err *OutboundSendError) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Err
}

func timeoutError(id string) error {
	return fmt.Errorf("request %s: %w", id, ErrTimeout)
}

func abortedError(id string) error {
	return fmt.Errorf("request %s: %w", id, ErrAborted)
}

// decodeRemoteError turns the first callback argument into an error.
// Absent and null mean success.
func decodeRemoteError(id string, raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	remote := &RemoteError{RequestID: id, Payload: append(json.RawMessage(nil), raw...)}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		remote.Message = text
		return remote
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		remote.Message = obj.Message
		return remote
	}
	remote.Message = trimmed
	return remote
}
