// Package pmerr defines the error taxonomy shared by every component of the
// dependency engine. A single Kind enumeration replaces the ecosystem's usual
// habit of growing a new error type per package.
package pmerr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies an Error so callers can decide whether a failure is
// per-package (recorded and skipped) or fatal to the whole operation.
type Kind int

const (
	// BadRange means a version range string could not be parsed.
	BadRange Kind = iota
	// NoMatch means no published version satisfies a range.
	NoMatch
	// ConstraintConflict means a package was reached twice with ranges
	// that cannot both be satisfied by one chosen version.
	ConstraintConflict
	// NotFound means a registry returned 404 for a package or version.
	NotFound
	// RegistryUnavailable means a registry request failed transiently
	// (5xx or network) and the retry budget was exhausted.
	RegistryUnavailable
	// IntegrityMismatch means downloaded bytes did not match the expected digest.
	IntegrityMismatch
	// StoreIo means the content-addressed store could not complete a
	// filesystem operation. Fatal to the install in progress.
	StoreIo
	// Cancelled means the caller's context was cancelled mid-operation.
	Cancelled
	// BadMetadata means a registry response could not be decoded or was
	// missing fields the caller required.
	BadMetadata
)

func (k Kind) String() string {
	switch k {
	case BadRange:
		return "BadRange"
	case NoMatch:
		return "NoMatch"
	case ConstraintConflict:
		return "ConstraintConflict"
	case NotFound:
		return "NotFound"
	case RegistryUnavailable:
		return "RegistryUnavailable"
	case IntegrityMismatch:
		return "IntegrityMismatch"
	case StoreIo:
		return "StoreIo"
	case Cancelled:
		return "Cancelled"
	case BadMetadata:
		return "BadMetadata"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a Kind aborts the whole operation rather than being
// recorded per-package. Only StoreIo and Cancelled are fatal; spec.md §7.
func (k Kind) Fatal() bool {
	return k == StoreIo || k == Cancelled
}

// Error is the concrete error type carried through the engine. Name and
// Registry are populated whenever known so messages can always identify the
// offending package and the registry URL that was consulted.
type Error struct {
	Kind      Kind
	Ecosystem string // "javascript" or "python", empty if not applicable
	Name      string // package name
	Registry  string // registry URL consulted, if any
	frame     xerrors.Frame
	err       error // wrapped cause, may be nil
}

// New creates an Error of the given kind for the named package.
func New(kind Kind, ecosystem, name string, err error) *Error {
	return &Error{
		Kind:      kind,
		Ecosystem: ecosystem,
		Name:      name,
		frame:     xerrors.Caller(1),
		err:       err,
	}
}

// WithRegistry attaches the registry URL that was consulted when the error
// occurred. Error messages must name it per spec.md §7.
func (e *Error) WithRegistry(url string) *Error {
	e.Registry = url
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: package %q", e.Kind, e.Name)
	if e.Ecosystem != "" {
		msg = fmt.Sprintf("%s: package %q (%s)", e.Kind, e.Name, e.Ecosystem)
	}

	if e.Registry != "" {
		msg += fmt.Sprintf(" via %s", e.Registry)
	}

	if e.err != nil {
		msg += ": " + e.err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.err }

// FormatError implements xerrors.Formatter so %+v prints a stack frame.
func (e *Error) FormatError(p xerrors.Printer) (next error) {
	p.Print(e.Error())
	e.frame.Format(p)

	return e.err
}

// Format implements fmt.Formatter via xerrors.FormatError.
func (e *Error) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

// As reports whether err is (or wraps) a *Error of the given kind.
func As(err error, kind Kind) bool {
	var pe *Error
	if !xerrors.As(err, &pe) {
		return false
	}

	return pe.Kind == kind
}
