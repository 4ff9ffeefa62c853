package analytics

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a failed request or sub-query.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "invalid_request"
	CodeInvalidDimension  ErrorCode = "invalid_dimension"
	CodeInvalidSource     ErrorCode = "invalid_source"
	CodeInvalidFilter     ErrorCode = "invalid_filter"
	CodeInvalidFormat     ErrorCode = "invalid_format"
	CodePreconditionUnmet ErrorCode = "precondition_unmet"
	CodeStoreUnavailable  ErrorCode = "store_unavailable"
	CodeCancelled         ErrorCode = "cancelled"
)

// QueryError is the error descriptor reported per sub-query, or for the
// whole batch when the payload itself is invalid.
type QueryError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *QueryError {
	return &QueryError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify maps any error out of a sub-query to its descriptor.
func classify(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{Code: CodeCancelled, Message: "query cancelled before completion", Err: err}
	}
	return &QueryError{Code: CodeStoreUnavailable, Message: "error reading analytics data", Err: err}
}
