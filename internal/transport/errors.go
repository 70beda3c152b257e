package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	CodeNetwork         = "network"
	CodeDecode          = "decode"
	CodeInvalidResponse = "invalid_response"
	CodeUnavailable     = "unavailable"
)

// Error is a failed request. Status is 0 when no response arrived.
type Error struct {
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transport %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// errorBody covers both {"code","message"} and {"error"} answers.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     string `json:"error"`
}

func errorFromResponse(resp *http.Response) *Error {
	e := &Error{Code: fmt.Sprintf("http_%d", resp.StatusCode), Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		if c := strings.TrimSpace(body.Code); c != "" {
			e.Code = c
		}
		e.Message = strings.TrimSpace(body.Message)
		if e.Message == "" {
			e.Message = strings.TrimSpace(body.Err)
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// MessageOf returns the server-provided message carried by err, if any.
func MessageOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return ""
}

// UserMessage is MessageOf restricted to 4xx answers, the ones written for
// shoppers. Server failures and network errors give "".
func UserMessage(err error) string {
	var te *Error
	if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 {
		return te.Message
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }
