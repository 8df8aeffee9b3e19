package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorStatusConflict indicates the stored status did not match the
	// expected status of a conditional transition.
	OrderErrorStatusConflict OrderErrorCode = "order_status_conflict"
	// OrderErrorInsufficientStock indicates a stock re-decrement would drive
	// a book below zero.
	OrderErrorInsufficientStock OrderErrorCode = "order_insufficient_stock"
	// OrderErrorDuplicatePayment indicates the provider transaction ID has
	// already been recorded.
	OrderErrorDuplicatePayment OrderErrorCode = "order_duplicate_payment"
	// OrderErrorEmptyCart indicates checkout completion found no cart lines.
	OrderErrorEmptyCart OrderErrorCode = "order_empty_cart"
	// OrderErrorBookNotFound indicates a cart or order line references a
	// book that no longer exists.
	OrderErrorBookNotFound OrderErrorCode = "order_book_not_found"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError formats the user-visible deficit detail for a
// rejected re-decrement.
func NewInsufficientStockError(title string, available, required int) *OrderError {
	return &OrderError{
		Code:    OrderErrorInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for %s. Current stock: %d, required: %d", title, available, required),
	}
}
