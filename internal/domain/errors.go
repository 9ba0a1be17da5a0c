package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrIdentityAttached   = errors.New("identity already attached to request")
)

// Kind classifies an error for the transport boundary.
type Kind string

const (
	KindValidation   Kind = "VALIDATION_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindConflict     Kind = "CONFLICT"
	KindUnsupported  Kind = "UNSUPPORTED_MEDIA_TYPE"
	KindProcessing   Kind = "PROCESSING_ERROR"
	KindStorage      Kind = "STORAGE_ERROR"
	KindInternal     Kind = "INTERNAL_ERROR"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return e.Reason
}

type UnknownOperationError struct {
	Type string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation type: %q", e.Type)
}

type ProcessingError struct {
	Op  OperationType
	Err error
}

func (e *ProcessingError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("processing failed: %v", e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type LoggingError struct {
	Sink string
	Err  error
}

func (e *LoggingError) Error() string {
	return fmt.Sprintf("log sink %s: %v", e.Sink, e.Err)
}

func (e *LoggingError) Unwrap() error { return e.Err }

type UnsupportedMediaError struct {
	MediaType string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported image format: %s", e.MediaType)
}

// StepError annotates a pipeline failure with the 1-based step index and its type.
type StepError struct {
	Index int
	Type  OperationType
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf maps err onto the error taxonomy. Unrecognised errors are KindInternal.
func KindOf(err error) Kind {
	var (
		validationErr  *ValidationError
		unknownErr     *UnknownOperationError
		unauthorized   *UnauthorizedError
		processingErr  *ProcessingError
		storageErr     *StorageError
		unsupportedErr *UnsupportedMediaError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr), errors.As(err, &unknownErr):
		return KindValidation
	case errors.As(err, &unauthorized), errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	case errors.Is(err, ErrUserExists):
		return KindConflict
	case errors.As(err, &unsupportedErr):
		return KindUnsupported
	case errors.As(err, &processingErr):
		return KindProcessing
	case errors.As(err, &storageErr):
		return KindStorage
	default:
		return KindInternal
	}
}
