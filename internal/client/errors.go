package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAuthExpired is matched by API errors for rejected credentials (401).
	ErrAuthExpired = errors.New("authentication expired")

	// ErrAccessDenied is matched by API errors for insufficient privilege (403).
	ErrAccessDenied = errors.New("access denied")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Unwrap lets errors.Is match ErrAuthExpired and ErrAccessDenied.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrAccessDenied
	default:
		return nil
	}
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseDetail extracts the server message from an error body. Both the plain
// string form and the validation list form are understood.
func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var detail string
	if err := json.Unmarshal(eb.Detail, &detail); err == nil {
		return detail
	}

	var issues []validationIssue
	if err := json.Unmarshal(eb.Detail, &issues); err == nil {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			msgs = append(msgs, issue.Msg)
		}
		return strings.Join(msgs, "; ")
	}

	return string(eb.Detail)
}
