// Package transform holds the compute backends behind a single uniform
// contract. The orchestration core selects an implementation by variant
// kind and otherwise never branches on which backend is active; every
// backend-side problem, including model fetches and remote API calls,
// surfaces as a *Failure so there is exactly one error channel to drive
// the job state machine.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Result is the output of a successful transformation.
type Result struct {
	Bytes       []byte
	ContentType string
}

// Transformer is the uniform compute contract.
type Transformer interface {
	Run(ctx context.Context, params variant.Params, src []byte) (*Result, error)
}

// Failure is the typed failure every backend reports through. Its
// message becomes the error-text artifact and, from there, the one-line
// message the client sees.
type Failure struct {
	Msg string
	Err error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Msg, f.Err)
	}
	return f.Msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Failf builds a Failure from a format string.
func Failf(format string, args ...any) *Failure {
	return &Failure{Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a Failure carrying an underlying cause.
func Wrap(msg string, err error) *Failure {
	return &Failure{Msg: msg, Err: err}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Registry maps variant kinds to their backend implementations.
// An unrecognized kind fails fast, before any external call.
type Registry struct {
	backends map[variant.Kind]Transformer
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[variant.Kind]Transformer)}
}

func (r *Registry) Register(kind variant.Kind, t Transformer) {
	r.backends[kind] = t
}

// Run dispatches to the backend registered for params.Kind.
func (r *Registry) Run(ctx context.Context, params variant.Params, src []byte) (*Result, error) {
	t, ok := r.backends[params.Kind]
	if !ok {
		return nil, Failf("no compute backend for action %q", params.Kind)
	}
	return t.Run(ctx, params, src)
}
