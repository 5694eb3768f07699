package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindBackendFailure   ErrorKind = "backend_failure"
	KindUnsupported      ErrorKind = "unsupported_operation"
	KindCancelled        ErrorKind = "cancelled"
	KindTimeout          ErrorKind = "timeout"
	KindNotFound         ErrorKind = "not_found"
)

// Error is a classified failure. Field is set for validation errors.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

var (
	ErrFlipUnsupported = &Error{
		Kind:    KindUnsupported,
		Message: "flip is not supported by the configured image backend",
	}
	ErrWatermarkUnsupported = &Error{
		Kind:    KindUnsupported,
		Message: "watermark is not supported by the configured image backend",
	}
	ErrNothingPicked = &Error{
		Kind:    KindCancelled,
		Message: "no image was selected",
	}
	ErrSuperseded = &Error{
		Kind:    KindCancelled,
		Message: "superseded by a newer request for the same image",
	}
)

// KindOf classifies any error, defaulting to KindBackendFailure.
func KindOf(err error) ErrorKind {
	var de *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return de.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	default:
		return KindBackendFailure
	}
}

// Attempt records one backend compression call.
type Attempt struct {
	Quality int   `json:"quality"`
	Size    int64 `json:"size_bytes"`
}

type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
	Field  string    `json:"field,omitempty"`
}

// Result is the envelope returned for every transform: exactly one of Asset
// and Failure is set.
type Result struct {
	Asset    *ImageAsset `json:"asset,omitempty"`
	Failure  *Failure    `json:"failure,omitempty"`
	Attempts []Attempt   `json:"attempts,omitempty"`
}

func Succeeded(asset ImageAsset) Result {
	return Result{Asset: &asset}
}

func Failed(kind ErrorKind, reason string) Result {
	if reason == "" {
		reason = "image processing failed"
	}
	return Result{Failure: &Failure{Kind: kind, Reason: reason}}
}

func FailureFrom(err error) Result {
	if err == nil {
		return Failed(KindBackendFailure, "")
	}
	res := Failed(KindOf(err), err.Error())
	var de *Error
	if errors.As(err, &de) {
		res.Failure.Field = de.Field
	}
	return res
}

func (r Result) OK() bool {
	return r.Asset != nil && r.Failure == nil
}

// Err returns the failure as an *Error, or nil on success.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Failure == nil {
		return &Error{Kind: KindBackendFailure, Message: "result carries neither asset nor failure"}
	}
	return &Error{Kind: r.Failure.Kind, Field: r.Failure.Field, Message: r.Failure.Reason}
}
