package cli

import (
	"context"
	"time"

	"github.com/imdario/mergo"
)

// unique type to prevent assignment from outside this package.
type traceContextKey struct{}

// Trace defines optional hooks a caller can install to observe Session
// lifecycle events. Every field is optional; an unset field is filled with a
// no-op before use.
type Trace struct {
	// ConnectStart is called when a Session begins dialling a device.
	ConnectStart func(host string)
	// ConnectDone is called when the dial and prompt-resolution sequence
	// completes, with err indicating success.
	ConnectDone func(host string, err error, d time.Duration)
	// CommandStart is called before a command is written to the transport.
	CommandStart func(host, cmd string)
	// CommandDone is called after a command's response has been read, before
	// it is post-processed.
	CommandDone func(host, cmd string, err error, d time.Duration)
	// ModeEnter is called after a mode transition's enter sequence completes.
	ModeEnter func(host, mode string, err error)
	// ModeExit is called after a mode transition's exit sequence completes.
	ModeExit func(host, mode string, err error)
	// Disconnect is called when the Session's transport is closed.
	Disconnect func(host string, err error)
}

// NoOpTrace provides a set of hooks that do nothing. ContextTrace returns it
// when no trace has been installed, and fills unset fields of an installed
// trace from it so hooks can be invoked without nil checks.
var NoOpTrace = &Trace{
	ConnectStart: func(host string) {},
	ConnectDone:  func(host string, err error, d time.Duration) {},
	CommandStart: func(host, cmd string) {},
	CommandDone:  func(host, cmd string, err error, d time.Duration) {},
	ModeEnter:    func(host, mode string, err error) {},
	ModeExit:     func(host, mode string, err error) {},
	Disconnect:   func(host string, err error) {},
}

// WithTrace returns a new context based on ctx that carries the supplied
// Trace. A Session created with a context derived from it invokes its hooks
// for the Session's whole lifetime; the contexts passed to later operations
// do not change which hooks are called.
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// ContextTrace returns the Trace associated with ctx, or NoOpTrace if none is
// installed. Unset fields on an installed Trace are merged from NoOpTrace so
// callers never need a nil check.
func ContextTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(traceContextKey{}).(*Trace)
	if trace == nil {
		return NoOpTrace
	}
	merged := *trace
	_ = mergo.Merge(&merged, NoOpTrace)
	return &merged
}
