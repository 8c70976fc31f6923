package safety

import (
	"fmt"
	"math"
	"regexp"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Err converts an invalid result into an error
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Code, r.Message)
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)

// Validator provides defensive checks for values about to reach the exchange
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	switch {
	case math.IsNaN(price):
		return invalid("INVALID_PRICE_NAN", "invalid price for %s: price is NaN", symbol)
	case math.IsInf(price, 0):
		return invalid("INVALID_PRICE_INF", "invalid price for %s: price is infinite", symbol)
	case price <= 0:
		return invalid("INVALID_PRICE_NEGATIVE", "invalid price %.8f for %s: price must be positive", price, symbol)
	case price > 1e10:
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidateQuantity validates a quantity value for trading
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	switch {
	case math.IsNaN(quantity):
		return invalid("INVALID_QUANTITY_NAN", "invalid quantity for %s: quantity is NaN", symbol)
	case math.IsInf(quantity, 0):
		return invalid("INVALID_QUANTITY_INF", "invalid quantity for %s: quantity is infinite", symbol)
	case quantity <= 0:
		return invalid("INVALID_QUANTITY_NEGATIVE", "invalid quantity %.8f for %s: quantity must be positive", quantity, symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidateSymbol checks the exchange symbol format, e.g. BTCUSDT
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	if !symbolPattern.MatchString(symbol) {
		return invalid("INVALID_SYMBOL", "invalid symbol %q: expected upper-case pair such as BTCUSDT", symbol)
	}
	return ValidationResult{Valid: true}
}

// ValidateAllocation checks a max-allocation cap given in percent of equity
func (v *Validator) ValidateAllocation(pct float64, symbol string) ValidationResult {
	if math.IsNaN(pct) || pct <= 0 || pct > 100 {
		return invalid("INVALID_ALLOCATION", "max allocation %.2f%% for %s must be in (0, 100]", pct, symbol)
	}
	return ValidationResult{Valid: true}
}

// SafeDivision performs division with zero-check
func (v *Validator) SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("division by zero: %.8f / %.8f", dividend, divisor)
	}
	if math.IsNaN(dividend) || math.IsNaN(divisor) {
		return 0, fmt.Errorf("division with NaN: %.8f / %.8f", dividend, divisor)
	}

	result := dividend / divisor
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("division resulted in invalid value: %.8f / %.8f = %.8f",
			dividend, divisor, result)
	}
	return result, nil
}
