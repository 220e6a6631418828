package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidInterval   = "INVALID_INTERVAL"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeOutOfOrderStep    = "OUT_OF_ORDER_STEP"
	ErrCodeHandlerFailed     = "HANDLER_FAILED"
	ErrCodeStore             = "STORE_ERROR"
)

// FlowError is the structured error type for all lexflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	RuleID  string         `json:"rule_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("[%s] rule %s: %s", e.Code, e.RuleID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRule attaches a rule ID to the error.
func (e *FlowError) WithRule(ruleID string) *FlowError {
	e.RuleID = ruleID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}
