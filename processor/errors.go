package processor

import (
	"bytes"
	"fmt"
	"go/token"
	"sort"
)

// Kind identifies a class of diagnostic. Kinds are errors themselves, so they
// can be used as targets with errors.Is:
//
//    if errors.Is(err, processor.ErrMissingReturnType) {
//        ...
//    }
type Kind string

func (k Kind) Error() string {
	return string(k)
}

const (
	// ErrReservedName indicates an entry point or resource parameter whose
	// name collides with a name that generated code needs.
	ErrReservedName = Kind("reserved name")
	// ErrMissingReturnType indicates an entry point that declares no results.
	ErrMissingReturnType = Kind("missing return type")
	// ErrUnsupportedReturnType indicates an entry point whose results are not
	// a named type, optionally followed by an error.
	ErrUnsupportedReturnType = Kind("unsupported return type")
	// ErrMissingResourceAnnotation indicates a parameter that has no resource
	// annotation.
	ErrMissingResourceAnnotation = Kind("missing resource annotation")
	// ErrSyntax indicates a malformed annotation.
	ErrSyntax = Kind("syntax error")
	// ErrInvalidLogLevel indicates a log level that is not one of TRACE,
	// DEBUG, INFO, WARN or ERROR.
	ErrInvalidLogLevel = Kind("invalid log level")
	// ErrInvalidArgument indicates an unknown or ill-typed option in the
	// entry point's marker annotation.
	ErrInvalidArgument = Kind("invalid argument")
	// ErrUnsupportedParameter indicates a parameter that cannot be bound to a
	// resource, such as an unnamed or variadic one.
	ErrUnsupportedParameter = Kind("unsupported parameter")
	// ErrUnsupportedEntryPoint indicates a marker annotation on something that
	// cannot be an entry point, such as a method.
	ErrUnsupportedEntryPoint = Kind("unsupported entry point")
	// ErrBuildConstraint indicates a source file that is not constrained to
	// the annoboot build tag.
	ErrBuildConstraint = Kind("missing build constraint")
	// ErrDuplicateEntryPoint indicates more than one entry point in a
	// package.
	ErrDuplicateEntryPoint = Kind("duplicate entry point")
	// ErrUnknownPackage indicates a package qualifier in a builder path that
	// does not match any import of the source file.
	ErrUnknownPackage = Kind("unknown package")
)

// ErrorWithPosition is an error that has source position information associated
// with it. The position indicates the location in a source file where the error
// was encountered.
type ErrorWithPosition struct {
	kind Kind
	err  error
	pos  token.Position

	// Hint, if not empty, suggests how to fix the problem.
	Hint string
	// Doc, if not empty, is a link to relevant documentation.
	Doc string
}

// Error implements the error interface. It includes position information in the
// returned message.
func (e *ErrorWithPosition) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.pos.Filename, e.pos.Line, e.pos.Column, e.err.Error())
}

// Underlying returns the underlying error.
func (e *ErrorWithPosition) Underlying() error {
	return e.err
}

// Unwrap returns the underlying error.
func (e *ErrorWithPosition) Unwrap() error {
	return e.err
}

// Is returns true if target is the kind of this error.
func (e *ErrorWithPosition) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

// Kind returns the kind of diagnostic.
func (e *ErrorWithPosition) Kind() Kind {
	return e.kind
}

// Pos returns the location in source where the underlying error was
// encountered.
func (e *ErrorWithPosition) Pos() token.Position {
	return e.pos
}

// WithHint sets the hint and returns e.
func (e *ErrorWithPosition) WithHint(hint string) *ErrorWithPosition {
	e.Hint = hint
	return e
}

// WithDoc sets the documentation link and returns e.
func (e *ErrorWithPosition) WithDoc(doc string) *ErrorWithPosition {
	e.Doc = doc
	return e
}

// NewErrorWithPosition returns the given error, but associates it with the
// given source code location and kind.
func NewErrorWithPosition(kind Kind, pos token.Position, err error) *ErrorWithPosition {
	return &ErrorWithPosition{kind: kind, err: err, pos: pos}
}

func errorf(kind Kind, pos token.Position, format string, args ...interface{}) *ErrorWithPosition {
	return NewErrorWithPosition(kind, pos, fmt.Errorf(format, args...))
}

// Diagnostics accumulates errors found while processing, so that a single run
// can report every problem instead of stopping at the first one.
type Diagnostics []*ErrorWithPosition

func (d Diagnostics) Error() string {
	switch len(d) {
	case 0:
		return "<nil>"

	case 1:
		return d[0].Error()

	default:
		buf := new(bytes.Buffer)
		fmt.Fprintf(buf, "%d errors occurred:", len(d))
		for _, err := range d {
			fmt.Fprintf(buf, `
	* %v`, err)
		}
		return buf.String()
	}
}

// Append will mutate d and append the error. Will no-op if err is nil.
func (d *Diagnostics) Append(err *ErrorWithPosition) {
	if err == nil {
		return
	}
	*d = append(*d, err)
}

// AppendAll appends all of the given diagnostics to d.
func (d *Diagnostics) AppendAll(other Diagnostics) {
	*d = append(*d, other...)
}

// Has returns true if any diagnostic is of the given kind.
func (d Diagnostics) Has(kind Kind) bool {
	for _, err := range d {
		if err.kind == kind {
			return true
		}
	}
	return false
}

// Sorted returns a copy of d ordered by file name and position.
func (d Diagnostics) Sorted() Diagnostics {
	sorted := make(Diagnostics, len(d))
	copy(sorted, d)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].pos, sorted[j].pos
		if pi.Filename != pj.Filename {
			return pi.Filename < pj.Filename
		}
		if pi.Line != pj.Line {
			return pi.Line < pj.Line
		}
		return pi.Column < pj.Column
	})
	return sorted
}

// ErrOrNil converts d into an error. This is necessary because an empty
// Diagnostics is still a non-nil error value when stored in an error. If
// there's only a single diagnostic, it is returned unwrapped.
func (d Diagnostics) ErrOrNil() error {
	switch len(d) {
	case 0:
		return nil

	case 1:
		return d[0]

	default:
		return d
	}
}

// Unwrap returns the individual diagnostics, so errors.Is and errors.As can
// match any of them.
func (d Diagnostics) Unwrap() []error {
	errs := make([]error, len(d))
	for i := range d {
		errs[i] = d[i]
	}
	return errs
}
