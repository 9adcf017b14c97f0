package model

import "fmt"

// InputError reports a missing or malformed mandatory snapshot field.
// It is raised before any bytes are produced.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input on %s: %s", e.Field, e.Message)
}

// NewInputError creates a new input error
func NewInputError(field, message string) *InputError {
	return &InputError{
		Field:   field,
		Message: message,
	}
}

// GenerationError represents a document construction failure
type GenerationError struct {
	Format        Format
	InvoiceNumber string
	Message       string
	Cause         error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Format, e.InvoiceNumber, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Format, e.InvoiceNumber, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a new generation error
func NewGenerationError(format Format, invoiceNumber, message string, cause error) *GenerationError {
	return &GenerationError{
		Format:        format,
		InvoiceNumber: invoiceNumber,
		Message:       message,
		Cause:         cause,
	}
}
