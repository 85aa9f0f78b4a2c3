// Package b2 provides an HTTP client for the Backblaze B2 object-storage API
// with session management, single-shot and chunked ("large file") uploads,
// bounded retries, and error classification.
package b2

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors for classification.
// Use errors.Is(err, b2.ErrBucketNotFound) to check.
var (
	// ErrAuthentication means the account authorization call itself failed.
	ErrAuthentication = errors.New("b2: authentication failed")

	// ErrBucketNotFound means the configured bucket name is absent from the
	// account's bucket list.
	ErrBucketNotFound = errors.New("b2: bucket not found")

	// ErrRetryBudgetExhausted means every configured upload attempt was
	// consumed without a success response.
	ErrRetryBudgetExhausted = errors.New("b2: retry budget exhausted")

	// ErrIntegrity means the server-reported content length of a finished
	// large file disagrees with the bytes this client sent.
	ErrIntegrity = errors.New("b2: content length mismatch")

	ErrBadRequest   = errors.New("b2: bad request")
	ErrUnauthorized = errors.New("b2: unauthorized")
	ErrForbidden    = errors.New("b2: forbidden")
	ErrNotFound     = errors.New("b2: not found")
	ErrServerError  = errors.New("b2: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the B2 error
// body (machine-readable code plus human-readable message) for debugging.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("b2: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("b2: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// apiErrorBody mirrors the B2 JSON error response.
type apiErrorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// parseAPIError reads an error response's body and builds an *APIError
// classified to a sentinel. The body is consumed; the caller closes it.
func parseAPIError(resp *http.Response) *APIError {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	var eb apiErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Code != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Message
	}

	return apiErr
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
