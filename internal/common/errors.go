package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docextract/constants"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Stage   constants.Stage
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	prefix := e.Code
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Pipeline errors. Every failure surfaced by the extraction pipeline wraps one of these.
var (
	ErrSchemaInvalid          = errors.New("schema invalid")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrEmptyDocument          = errors.New("empty document")
	ErrExtractionFailure      = errors.New("document text extraction failed")
	ErrModelUnavailable       = errors.New("model unavailable")
	ErrModelTimeout           = errors.New("model timeout")
	ErrParseFailure           = errors.New("parse failure")
	ErrSchemaViolation        = errors.New("schema violation")
	ErrUnrecoverableOutput    = errors.New("unrecoverable output")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrSchemaInvalid, "SCHEMA_INVALID"},
	{ErrUnsupportedContentType, "UNSUPPORTED_CONTENT_TYPE"},
	{ErrEmptyDocument, "EMPTY_DOCUMENT"},
	{ErrExtractionFailure, "EXTRACTION_FAILURE"},
	{ErrModelTimeout, "MODEL_TIMEOUT"},
	{ErrModelUnavailable, "MODEL_UNAVAILABLE"},
	{ErrUnrecoverableOutput, "UNRECOVERABLE_OUTPUT"},
	{ErrParseFailure, "PARSE_FAILURE"},
	{ErrSchemaViolation, "SCHEMA_VIOLATION"},
	{ErrDatabase, "DATABASE_ERROR"},
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewStageError builds an AppError for a pipeline stage; the code is derived from cause.
func NewStageError(stage constants.Stage, message string, cause error) *AppError {
	return &AppError{
		Code:    CodeOf(cause),
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the stable code for the first known sentinel err wraps.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	}
	return "INTERNAL"
}

// StageOf returns the pipeline stage recorded on err, if any.
func StageOf(err error) constants.Stage {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return ""
}

func grpcCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSchemaInvalid),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, ErrEmptyDocument):
		return codes.InvalidArgument
	case errors.Is(err, ErrExtractionFailure):
		return codes.FailedPrecondition
	case errors.Is(err, ErrModelTimeout), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, ErrModelUnavailable):
		return codes.Unavailable
	case errors.Is(err, ErrUnrecoverableOutput):
		return codes.Aborted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

// ToGRPCStatus converts err into a gRPC status error carrying its code and message.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(err), err.Error())
}

// HTTPStatus maps err to the HTTP status code returned by the REST API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrSchemaInvalid),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, ErrExtractionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrModelTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnrecoverableOutput):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
