package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrNotFound matches a RemoteError for a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable matches a NetworkError caused by the open circuit breaker.
	ErrUnavailable = errors.New("service unavailable")
)

// NetworkError is a transport or connectivity failure. Callers should suggest
// a retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is malformed or rejected input. Fields holds field-scoped
// messages when the API supplied them; Message is the banner text otherwise.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], " "))
	}
	msg := strings.Join(parts, "; ")
	if e.Message != "" {
		msg = e.Message + " (" + msg + ")"
	}
	return msg
}

// Field returns the joined messages for one field, or "".
func (e *ValidationError) Field(name string) string {
	return strings.Join(e.Fields[name], " ")
}

// AuthenticationError is a credential rejection or an invalid token. Expired
// is set when the API rejected the bearer token itself; callers treat that as
// logged out.
type AuthenticationError struct {
	Message string
	Expired bool
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// RemoteError is any other non-success response.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsExpiredToken reports whether err means the bearer token is no longer accepted.
func IsExpiredToken(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr) && authErr.Expired
}

// errorBody covers the error shapes the API returns: {"detail": ...},
// {"error": ...}, {"code": ...} and field maps.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// decodeError maps a non-2xx response body to the error taxonomy.
func decodeError(status int, body []byte, fallback string) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Detail
	if msg == "" {
		msg = eb.Error
	}

	switch {
	case status == http.StatusBadRequest:
		fields := decodeFieldErrors(body)
		if msg == "" {
			if nf, ok := fields["non_field_errors"]; ok {
				msg = strings.Join(nf, " ")
				delete(fields, "non_field_errors")
			}
		}
		if msg == "" && len(fields) == 0 {
			msg = fallback
		}
		return &ValidationError{Message: msg, Fields: fields}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if msg == "" {
			msg = fallback
		}
		return &AuthenticationError{Message: msg, Expired: eb.Code == "token_not_valid"}
	default:
		if msg == "" {
			msg = fallback
		}
		return &RemoteError{Status: status, Message: msg}
	}
}

// decodeFieldErrors extracts {"field": ["msg", ...]} and {"field": "msg"}
// entries. A top-level JSON list is treated as non-field errors.
func decodeFieldErrors(body []byte) map[string][]string {
	var list []string
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return map[string][]string{"non_field_errors": list}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	fields := make(map[string][]string)
	for name, value := range raw {
		switch name {
		case "detail", "error", "code":
			continue
		}
		var msgs []string
		if err := json.Unmarshal(value, &msgs); err == nil {
			fields[name] = msgs
			continue
		}
		var msg string
		if err := json.Unmarshal(value, &msg); err == nil {
			fields[name] = []string{msg}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// violations collects field-scoped edge validation failures.
type violations map[string][]string

func (v violations) add(field, format string, args ...any) {
	v[field] = append(v[field], fmt.Sprintf(format, args...))
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}
