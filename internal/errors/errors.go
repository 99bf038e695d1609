// Package errors defines the host-facing diagnostic surface shared by the
// tokenizer, parser, compiler, and interpreter (spec §7).
//
// Grounded on sentra's internal/errors.SentraError (typed error kinds,
// source location); wrapping of internal causes uses github.com/pkg/errors
// the way larger services in the retrieved pack attach stack context to a
// low-level failure instead of reformatting a bare string.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the three diagnostic categories the core ever reports.
type Kind string

const (
	Parse   Kind = "parse"
	Compile Kind = "compile"
	Runtime Kind = "runtime"
)

// Sink is the host error callback: on_error(kind, module_name, message, line, col).
// It fires exactly once per fatal error (§7, §9).
type Sink interface {
	OnError(kind Kind, module string, message string, line, col int)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(kind Kind, module, message string, line, col int)

func (f SinkFunc) OnError(kind Kind, module, message string, line, col int) {
	f(kind, module, message, line, col)
}

// Diagnostic is a single reported error, also used as the return value of
// fatal runtime unwinds delivered back up to host.Execute.
type Diagnostic struct {
	Kind    Kind
	Module  string
	Message string
	Line    int
	Col     int
	cause   error
}

func (d *Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s error in %s:%d:%d: %s", d.Kind, d.Module, d.Line, d.Col, d.Message)
	}
	return fmt.Sprintf("%s error in %s: %s", d.Kind, d.Module, d.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (d *Diagnostic) Unwrap() error { return d.cause }

// New builds a Diagnostic with no underlying cause.
func New(kind Kind, module, message string, line, col int) *Diagnostic {
	return &Diagnostic{Kind: kind, Module: module, Message: message, Line: line, Col: col}
}

// Wrap attaches a stack-carrying cause (via pkg/errors) to a Diagnostic, for
// internal failures (e.g. a native function returning a Go error) that must
// surface through the §7 runtime-error channel without losing their origin.
func Wrap(cause error, kind Kind, module, message string, line, col int) *Diagnostic {
	return &Diagnostic{Kind: kind, Module: module, Message: message, Line: line, Col: col, cause: pkgerrors.WithStack(cause)}
}

// Report delivers a Diagnostic to a Sink, tolerating a nil sink so embedding
// code need not guard every call site.
func Report(sink Sink, d *Diagnostic) {
	if sink == nil {
		return
	}
	sink.OnError(d.Kind, d.Module, d.Message, d.Line, d.Col)
}

// CollectingSink buffers diagnostics, used by tests and by entry points that
// want to gather every parse error before deciding to abort (§4.E: "parsing
// continues best-effort where feasible but sets a has-errored flag").
type CollectingSink struct {
	Diagnostics []*Diagnostic
}

func (c *CollectingSink) OnError(kind Kind, module, message string, line, col int) {
	c.Diagnostics = append(c.Diagnostics, New(kind, module, message, line, col))
}

func (c *CollectingSink) HasErrors() bool { return len(c.Diagnostics) > 0 }
