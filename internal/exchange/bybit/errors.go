package bybit

import (
	"errors"
	"fmt"
	"net/http"
)

// BybitError is a non-zero retCode returned by the API
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("bybit retCode %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey         = 10003
	ErrCodeInvalidSignature      = 10004
	ErrCodeInvalidTimestamp      = 10002
	ErrCodeRateLimitExceeded     = 10006
	ErrCodeIPRateLimit           = 10018
	ErrCodeOrderNotFound         = 110001
	ErrCodeInsufficientBalance   = 110007
	ErrCodeSpotInsufficient      = 170131
	ErrCodeSpotOrderNotExists    = 170213
	ErrCodeSpotQtyTooSmall       = 170136
	ErrCodeSpotOrderValueTooLow  = 170140
	ErrCodeSpotSymbolNotTradable = 170121
)

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

func code(err error) (int, bool) {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return bybitErr.Code, true
	}
	return 0, false
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	c, ok := code(err)
	if !ok {
		return false
	}
	switch c {
	case ErrCodeRateLimitExceeded, ErrCodeIPRateLimit,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	c, _ := code(err)
	return c == ErrCodeInvalidAPIKey || c == ErrCodeInvalidSignature || c == ErrCodeInvalidTimestamp
}

// IsInsufficientBalanceError checks if the error is due to insufficient balance
func IsInsufficientBalanceError(err error) bool {
	c, _ := code(err)
	return c == ErrCodeInsufficientBalance || c == ErrCodeSpotInsufficient
}

// IsOrderNotFoundError checks if the error is due to order not found
func IsOrderNotFoundError(err error) bool {
	c, _ := code(err)
	return c == ErrCodeOrderNotFound || c == ErrCodeSpotOrderNotExists
}

// IsRateLimitError checks if the error is due to rate limiting
func IsRateLimitError(err error) bool {
	c, _ := code(err)
	return c == ErrCodeRateLimitExceeded || c == ErrCodeIPRateLimit
}
