// Package engine defines the contract between the task runner and the
// external media-processing tool that produces merged outputs.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/avmerge/internal/domain"
)

// ProgressFunc receives human-readable progress messages while an engine runs.
type ProgressFunc func(message string)

// Request describes one merge job.
type Request struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	Mode       domain.Mode
	Progress   ProgressFunc
}

// Report calls Progress when one is set.
func (r Request) Report(message string) {
	if r.Progress != nil {
		r.Progress(message)
	}
}

// Engine produces the output file at req.OutputPath from the two inputs.
type Engine interface {
	Merge(ctx context.Context, req Request) error
}

// Kind classifies engine failures.
type Kind string

// Engine failure kinds.
const (
	KindProbe            Kind = "probe"
	KindUnsupportedCodec Kind = "unsupported_codec"
	KindCorruptInput     Kind = "corrupt_input"
	KindExec             Kind = "exec"
	KindTimeout          Kind = "timeout"
)

// ErrEngine is wrapped by every *Error.
var ErrEngine = errors.New("engine error")

// Error is returned by Engine implementations. Detail is safe to show to
// clients; Err carries the underlying cause for logs.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// NewError creates an engine error of the given kind.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("engine %s error", e.Kind)
	}
	return fmt.Sprintf("engine %s error: %s", e.Kind, e.Detail)
}

// Unwrap exposes both ErrEngine and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEngine}
	}
	return []error{ErrEngine, e.Err}
}

// IsTimeout reports whether err is an engine timeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}
