package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures. The string value is what callers
// see in the error_type field of a failure record.
type ErrorKind string

const (
	KindDecode               ErrorKind = "DecodeError"
	KindUnsupportedFormat    ErrorKind = "UnsupportedFormat"
	KindExtraction           ErrorKind = "ExtractionError"
	KindClassification       ErrorKind = "ClassificationError"
	KindStructuredExtraction ErrorKind = "StructuredExtractionError"
	KindReportCompilation    ErrorKind = "ReportCompilationError"
	KindCacheUnavailable     ErrorKind = "CacheUnavailable"
	KindInternal             ErrorKind = "InternalError"
)

// Fatal reports whether an error of this kind aborts a run.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindClassification, KindReportCompilation, KindCacheUnavailable:
		return false
	default:
		return true
	}
}

// DomainError represents a pipeline error with its kind and context
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Detail())
}

// Detail returns the message and cause without the kind prefix.
func (e *DomainError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func DecodeError(message string, err error) *DomainError {
	return NewError(KindDecode, message, err)
}

func UnsupportedFormatError(message string, err error) *DomainError {
	return NewError(KindUnsupportedFormat, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(KindExtraction, message, err)
}

func ClassificationError(message string, err error) *DomainError {
	return NewError(KindClassification, message, err)
}

// StructuredExtractionError records which extractor failed and the type of
// the error it raised, so the failure record carries both.
func StructuredExtractionError(docType DocumentType, err error) *DomainError {
	return NewError(KindStructuredExtraction,
		fmt.Sprintf("%s extractor failed (%s)", docType, CauseType(err)), err)
}

func ReportCompilationError(message string, err error) *DomainError {
	return NewError(KindReportCompilation, message, err)
}

func CacheUnavailableError(message string, err error) *DomainError {
	return NewError(KindCacheUnavailable, message, err)
}

func InternalError(message string, err error) *DomainError {
	return NewError(KindInternal, message, err)
}

// KindOf returns the kind of the outermost DomainError in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Detail()
	}
	return err.Error()
}

// CauseType names the type of err: the kind for domain errors, otherwise the
// Go type without the pointer marker.
func CauseType(err error) string {
	if err == nil {
		return "nil"
	}
	var de *DomainError
	if errors.As(err, &de) {
		return string(de.Kind)
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
