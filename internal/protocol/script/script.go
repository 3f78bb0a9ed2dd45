package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCallback indicates a callee path that is not a dotted identifier.
	ErrInvalidCallback = errors.New("invalid callback path")
	// ErrMalformed indicates a snippet that does not follow the call grammar.
	ErrMalformed = errors.New("malformed script")
)

// Call is one parsed statement `path(arg, ...)`.
type Call struct {
	Path string
	Args []json.RawMessage
}

// Target splits Path into the global name and the member it addresses.
// A path without a dot has an empty member.
func (c Call) Target() (global, member string) {
	global, member, _ = strings.Cut(c.Path, ".")
	return global, member
}

// Arg returns argument i, or nil when the call carried fewer arguments.
func (c Call) Arg(i int) json.RawMessage {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// ValidCallback reports whether path is a dotted identifier path such as
// `__isonp.12`. Members after the first segment may start with a digit.
func ValidCallback(path string) bool {
	if path == "" || len(path) > 256 {
		return false
	}
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
		for j, r := range seg {
			switch {
			case r == '_' || r == '$':
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
				if i == 0 && j == 0 {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

// Render builds a single-call snippet invoking callback with errPayload and data.
// A nil errPayload renders as null.
func Render(callback string, errPayload any, data any) ([]byte, error) {
	if !ValidCallback(callback) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCallback, callback)
	}
	errJSON, err := json.Marshal(errPayload)
	if err != nil {
		return nil, fmt.Errorf("encode error payload: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data payload: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(callback) + len(errJSON) + len(dataJSON) + 4)
	buf.WriteString(callback)
	buf.WriteByte('(')
	buf.Write(errJSON)
	buf.WriteByte(',')
	buf.Write(dataJSON)
	buf.WriteString(");")
	return buf.Bytes(), nil
}

// Parse reads every call statement in body. Statements are separated by
// optional semicolons and whitespace. An empty body yields no calls.
func Parse(body []byte) ([]Call, error) {
	var calls []Call
	rest := body
	for {
		rest = skipSpace(rest)
		for len(rest) > 0 && rest[0] == ';' {
			rest = skipSpace(rest[1:])
		}
		if len(rest) == 0 {
			return calls, nil
		}
		call, n, err := parseCall(rest)
		if err != nil {
			return nil, fmt.Errorf("%w at offset %d: %v", ErrMalformed, len(body)-len(rest), err)
		}
		calls = append(calls, call)
		rest = rest[n:]
	}
}

func parseCall(src []byte) (Call, int, error) {
	open := bytes.IndexByte(src, '(')
	if open < 0 {
		return Call{}, 0, errors.New("missing '('")
	}
	path := string(bytes.TrimSpace(src[:open]))
	if !ValidCallback(path) {
		return Call{}, 0, fmt.Errorf("%w: %q", ErrInvalidCallback, path)
	}
	call := Call{Path: path}
	pos := open + 1
	pos += len(src[pos:]) - len(skipSpace(src[pos:]))
	if pos < len(src) && src[pos] == ')' {
		return call, pos + 1, nil
	}
	for {
		dec := json.NewDecoder(bytes.NewReader(src[pos:]))
		var arg json.RawMessage
		if err := dec.Decode(&arg); err != nil {
			return Call{}, 0, fmt.Errorf("argument %d: %v", len(call.Args), err)
		}
		call.Args = append(call.Args, arg)
		pos += int(dec.InputOffset())
		pos += len(src[pos:]) - len(skipSpace(src[pos:]))
		if pos >= len(src) {
			return Call{}, 0, errors.New("missing ')'")
		}
		switch src[pos] {
		case ',':
			pos++
		case ')':
			return call, pos + 1, nil
		default:
			return Call{}, 0, fmt.Errorf("unexpected %q after argument", src[pos])
		}
	}
}

func skipSpace(b []byte) []byte {
	return bytes.TrimLeft(b, " \t\r\n")
}
