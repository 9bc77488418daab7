package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// StatusError is a non-2xx response from a downstream API with its body
// already consumed.
type StatusError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, string(e.Body))
}

// ClientError reports whether the downstream rejected the request itself.
func (e *StatusError) ClientError() bool {
	return IsClientError(e.StatusCode)
}

// errorBody covers the two error shapes seen in practice: our own
// {"error":{"code","message"}} envelope and the flat
// {"message","error","status"} shape used by payment APIs.
type errorBody struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseResponseError reads and closes the body of a non-2xx response and
// returns it as a *StatusError.
func ParseResponseError(resp *http.Response, service string) *StatusError {
	defer func() { _ = resp.Body.Close() }()

	se := &StatusError{Service: service, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		se.Message = fmt.Sprintf("read body: %v", err)
		return se
	}
	se.Body = body

	var eb errorBody
	if json.Unmarshal(body, &eb) != nil {
		return se
	}

	se.Message = eb.Message
	var nested nestedError
	var code string
	if json.Unmarshal(eb.Error, &nested) == nil && (nested.Code != "" || nested.Message != "") {
		se.Code, se.Message = nested.Code, nested.Message
	} else if json.Unmarshal(eb.Error, &code) == nil {
		se.Code = code
	}
	return se
}

// AsStatusError unwraps err to a *StatusError when it carries one.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
