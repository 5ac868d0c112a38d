package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a business rejection reported by the remote ticketing API.
// Transport problems (connection refused, timeout, garbled body) are never
// wrapped in APIError, so callers can tell "the server said no" apart from
// "the server was unreachable" with errors.As.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// IsRejection reports whether err carries a server-side rejection, as
// opposed to a transport failure.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// RejectionMessage extracts the server's reason from err, or "" when err is
// not a rejection.
func RejectionMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// decodeError turns a non-2xx response into an *APIError, picking whichever
// of the backend's message fields is populated. A reply with no usable
// message still gets a displayable reason, never an empty string.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var reply struct {
		Message string `json:"message"`
		Err     string `json:"error"`
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &reply); err == nil {
		for _, msg := range []string{reply.Message, reply.Err, reply.Reason, reply.Details} {
			if msg != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: msg}
			}
		}
	}

	// Plain-text error bodies pass through; empty bodies and JSON without a
	// recognized message field fall back to the status line.
	msg := strings.TrimSpace(string(body))
	if msg == "" || json.Valid(body) {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = "request failed"
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
