package authclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

// errorEnvelope mirrors the error body written by httputil.WriteError.
type errorEnvelope struct {
	Error *struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		RequestID string            `json:"request_id"`
	} `json:"error"`
}

// ResponseError is a non-2xx answer from the auth service. It unwraps to the
// apperrors sentinel matching its status, so callers can use errors.Is with
// apperrors.ErrUnauthorized, apperrors.ErrRateLimited and friends.
type ResponseError struct {
	Status    int
	Code      string
	Message   string
	Fields    map[string]string
	RequestID string
}

func (e *ResponseError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("auth service: %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("auth service: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *ResponseError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return apperrors.ErrInvalidInput
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return apperrors.ErrConflict
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	default:
		return nil
	}
}

// ParseResponseError reads the body of a non-2xx response into a
// *ResponseError. The body is consumed and closed.
func ParseResponseError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("auth service returned status %d (failed to read body: %w)", resp.StatusCode, err)
	}

	rerr := &ResponseError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}

	var env errorEnvelope
	if json.Unmarshal(bodyBytes, &env) == nil && env.Error != nil {
		rerr.Code = env.Error.Code
		rerr.Message = env.Error.Message
		rerr.Fields = env.Error.Fields
		rerr.RequestID = env.Error.RequestID
		return rerr
	}

	rerr.Message = string(bodyBytes)
	return rerr
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
