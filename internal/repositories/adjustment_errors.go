package repositories

import "fmt"

// AdjustmentErrorCode enumerates repository error causes for adjustment operations.
type AdjustmentErrorCode string

const (
	// AdjustmentErrorUnknown represents an unspecified failure.
	AdjustmentErrorUnknown AdjustmentErrorCode = "adjustment_unknown"
	// AdjustmentErrorNotFound indicates the request document is missing.
	AdjustmentErrorNotFound AdjustmentErrorCode = "adjustment_not_found"
	// AdjustmentErrorOrderNotFound indicates the source order disappeared mid-transaction.
	AdjustmentErrorOrderNotFound AdjustmentErrorCode = "adjustment_order_not_found"
	// AdjustmentErrorProductNotFound indicates a restock target has no catalog record.
	AdjustmentErrorProductNotFound AdjustmentErrorCode = "adjustment_product_not_found"
	// AdjustmentErrorOverClaimed indicates an item would exceed its source line's remaining quantity.
	AdjustmentErrorOverClaimed AdjustmentErrorCode = "adjustment_over_claimed"
	// AdjustmentErrorInvalidState indicates the request status forbids the operation.
	AdjustmentErrorInvalidState AdjustmentErrorCode = "adjustment_invalid_state"
)

// AdjustmentError wraps adjustment-specific failures with machine readable codes.
type AdjustmentError struct {
	Op      string
	Code    AdjustmentErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AdjustmentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *AdjustmentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAdjustmentError constructs a typed adjustment error.
func NewAdjustmentError(code AdjustmentErrorCode, message string, err error) *AdjustmentError {
	if message == "" {
		message = string(code)
	}
	return &AdjustmentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
