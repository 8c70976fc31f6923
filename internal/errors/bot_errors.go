package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
)

// ErrorCategory represents the pipeline stage or failure class of an error
type ErrorCategory string

const (
	// Startup errors that should stop the bot
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryCredentials   ErrorCategory = "credentials"

	// Pipeline stages
	ErrorCategoryDataUnavailable ErrorCategory = "data_unavailable"
	ErrorCategoryGateway         ErrorCategory = "gateway"
	ErrorCategoryOrderPlacement  ErrorCategory = "order_placement"
	ErrorCategoryStopPlacement   ErrorCategory = "stop_placement"
	ErrorCategoryAmend           ErrorCategory = "amend"
	ErrorCategoryUnknownState    ErrorCategory = "unknown_state"
	ErrorCategoryStore           ErrorCategory = "store"

	// Transport level
	ErrorCategoryExchange   ErrorCategory = "exchange"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategoryValidation ErrorCategory = "validation"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the process should not keep running.
// Only startup categories qualify; nothing raised inside a cycle is fatal.
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryCredentials || e.Category == ErrorCategoryConfiguration
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryRateLimit, ErrorCategoryExchange,
		ErrorCategoryDataUnavailable, ErrorCategoryStore, ErrorCategoryStopPlacement, ErrorCategoryAmend:
		return true
	default:
		return false
	}
}

// CategorizeError maps a raw error to a category. fallback is used when the
// message carries no recognizable hint, usually the pipeline stage that failed.
func CategorizeError(err error, fallback ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "context deadline exceeded"):
		return WrapError(err, ErrorCategoryTimeout, component, operation)

	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial"):
		return WrapError(err, ErrorCategoryNetwork, component, operation)

	case strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "retcode 10003") || strings.Contains(errMsg, "retcode 10004"):
		return WrapError(err, ErrorCategoryCredentials, component, operation)

	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") ||
		strings.Contains(errMsg, "retcode 10006") || strings.Contains(errMsg, "retcode 10018"):
		return WrapError(err, ErrorCategoryRateLimit, component, operation)

	case strings.Contains(errMsg, "circuit breaker"):
		return WrapError(err, ErrorCategoryExchange, component, operation)

	case strings.Contains(errMsg, "insufficient data"):
		return WrapError(err, ErrorCategoryDataUnavailable, component, operation)

	case strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "balance"):
		return WrapError(err, fallback, component, operation).WithRetryable(false)

	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "constraint") ||
		strings.Contains(errMsg, "minimum") || strings.Contains(errMsg, "maximum"):
		return WrapError(err, ErrorCategoryValidation, component, operation)
	}

	return WrapError(err, fallback, component, operation)
}

// Error recovery strategies
type RecoveryAction string

const (
	RecoveryActionRetry        RecoveryAction = "RETRY"
	RecoveryActionSkip         RecoveryAction = "SKIP"
	RecoveryActionStop         RecoveryAction = "STOP"
	RecoveryActionWait         RecoveryAction = "WAIT"
	RecoveryActionManualReview RecoveryAction = "MANUAL_REVIEW"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryConfiguration, ErrorCategoryCredentials:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryUnknownState:
		return RecoveryActionManualReview
	case ErrorCategoryGateway, ErrorCategoryOrderPlacement, ErrorCategoryValidation:
		// the signal is consumed; there is nothing to retry
		return RecoveryActionSkip
	default:
		if e.Retryable {
			// picked up again on the next cycle from persisted state
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	}
}

// ErrorStats tracks error statistics. Safe for concurrent use.
type ErrorStats struct {
	mu               sync.Mutex
	totalErrors      int
	errorsByCategory map[ErrorCategory]int
	recentErrors     []*BotError
	maxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	if maxRecentErrors <= 0 {
		maxRecentErrors = 50
	}
	return &ErrorStats{
		errorsByCategory: make(map[ErrorCategory]int),
		recentErrors:     make([]*BotError, 0, maxRecentErrors),
		maxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *BotError) {
	if err == nil {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.totalErrors++
	es.errorsByCategory[err.Category]++

	es.recentErrors = append(es.recentErrors, err)
	if len(es.recentErrors) > es.maxRecentErrors {
		es.recentErrors = es.recentErrors[1:]
	}
}

func (es *ErrorStats) Total() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.totalErrors
}

func (es *ErrorStats) Count(category ErrorCategory) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.errorsByCategory[category]
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.totalErrors == 0 {
		return 0.0
	}
	return float64(es.errorsByCategory[category]) / float64(es.totalErrors)
}

// HasRecentErrors checks if there have been errors in the recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	recentCount := 0
	for _, err := range es.recentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}
