package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrTenantMismatch      = errors.New("tenant mismatch")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrTransactionFailed   = errors.New("transaction failed")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError reports the first product that cannot cover the request.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrTenantMismatch) ||
		errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrProductNotFound)
}

// IsRetryable reports errors the caller may retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}

// txFailed wraps storage failures unless they already carry a domain error.
func txFailed(err error) error {
	if err == nil || IsClientError(err) || errors.Is(err, ErrTransactionFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}
