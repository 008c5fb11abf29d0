package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures of the package lifecycle. A Kind is itself an
// error so callers can write errors.Is(err, apperr.PackageNotFound).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	InvalidPackageFormat  Kind = "invalid_package_format"
	PathTraversalRejected Kind = "path_traversal_rejected"
	SlugCollision         Kind = "slug_collision"
	PackageNotFound       Kind = "package_not_found"
	AssetNotFound         Kind = "asset_not_found"
	PackageTooLarge       Kind = "package_too_large"
	TooManyEntries        Kind = "too_many_entries"
	StorageWriteFailed    Kind = "storage_write_failed"
	PersistFailed         Kind = "persist_failed"
	InvalidInput          Kind = "invalid_input"
	Unauthorized          Kind = "unauthorized"
	Forbidden             Kind = "forbidden"
	Internal              Kind = "internal"
)

var statusByKind = map[Kind]int{
	InvalidPackageFormat:  http.StatusBadRequest,
	PathTraversalRejected: http.StatusBadRequest,
	SlugCollision:         http.StatusConflict,
	PackageNotFound:       http.StatusNotFound,
	AssetNotFound:         http.StatusNotFound,
	PackageTooLarge:       http.StatusRequestEntityTooLarge,
	TooManyEntries:        http.StatusRequestEntityTooLarge,
	StorageWriteFailed:    http.StatusInternalServerError,
	PersistFailed:         http.StatusInternalServerError,
	InvalidInput:          http.StatusBadRequest,
	Unauthorized:          http.StatusUnauthorized,
	Forbidden:             http.StatusForbidden,
	Internal:              http.StatusInternalServerError,
}

// Status is the HTTP status a Kind is reported with.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first Kind found in err's chain, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// Message is the user-facing text for err. Internal failures are not echoed.
func Message(err error) string {
	kind := KindOf(err)
	switch kind {
	case Internal, PersistFailed, StorageWriteFailed:
		return messages[kind]
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	if m, ok := messages[kind]; ok {
		return m
	}
	return err.Error()
}

var messages = map[Kind]string{
	InvalidPackageFormat:  "archive is not a readable package",
	PathTraversalRejected: "path escapes the package directory",
	SlugCollision:         "could not allocate a unique slug",
	PackageNotFound:       "package does not exist",
	AssetNotFound:         "file is missing from the package",
	PackageTooLarge:       "package exceeds the size limit",
	TooManyEntries:        "package has too many entries",
	StorageWriteFailed:    "could not write package files",
	PersistFailed:         "could not save package",
	InvalidInput:          "invalid input",
	Unauthorized:          "unauthorized",
	Forbidden:             "admin access required",
	Internal:              "internal error",
}
