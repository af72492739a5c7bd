package qustodio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/micro-ha/qustodio-bridge/internal/model"
)

// AuthError indicates rejected credentials or an expired, unrefreshable token.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "authentication failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectionError wraps transport failures, including per-request timeouts.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "connection failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitError means the API answered 429. RetryAfter carries the
// server-provided hint when one was present, zero otherwise.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "rate limited"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// APIError is any unexpected HTTP status outside auth and rate-limit handling.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// DataError means a response decoded but did not have the expected shape.
type DataError struct {
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e == nil {
		return "malformed response"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DataError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify maps an error to the category the coordinator counts it under.
// Unrecognized errors fall into the unexpected bucket.
func Classify(err error) model.ErrorCategory {
	if err == nil {
		return ""
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return model.CategoryAuthentication
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return model.CategoryRateLimit
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return model.CategoryConnection
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return model.CategoryAPI
	}
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return model.CategoryData
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.CategoryConnection
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return model.CategoryConnection
	}
	return model.CategoryUnexpected
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return false
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	if errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "broken pipe") {
		return true
	}
	if strings.Contains(message, "connection reset") {
		return true
	}
	if strings.Contains(message, "use of closed network connection") {
		return true
	}
	if strings.Contains(message, "connection refused") {
		return true
	}
	if strings.Contains(message, "i/o timeout") {
		return true
	}
	if strings.Contains(message, "timeout") {
		return true
	}
	return false
}
