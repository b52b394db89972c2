package cli

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"
)

// promptReader reads from a Transport into an accumulating buffer and yields
// the buffer once any of a supplied set of patterns matches. A single
// background goroutine feeds a channel; every method is otherwise
// synchronous.
type promptReader struct {
	transport Transport
	inputs    chan []byte
}

func newPromptReader(t Transport) *promptReader {
	r := &promptReader{transport: t, inputs: make(chan []byte)}
	r.launch()
	return r
}

func (r *promptReader) launch() {
	go func() {
		defer close(r.inputs)
		buf := make([]byte, 10000)
		for {
			n, err := r.transport.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				r.inputs <- cp
			}
			if err != nil {
				return
			}
		}
	}()
}

// readUntilPattern appends bytes from the transport into a local buffer,
// testing it against each pattern (in order, first match wins) after every
// append, and returns the full buffer on the first match. The supplied
// timeout bounds the entire operation, not any single read; on timeout the
// partial buffer is discarded and a *Error of KindTimeout is returned.
func (r *promptReader) readUntilPattern(ctx context.Context, host string, patterns []*regexp.Regexp, timeout time.Duration) (string, error) {
	if len(patterns) == 0 {
		return "", newError(host, KindUsage, "pattern list cannot be empty", nil)
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sb strings.Builder
	for {
		select {
		case b, ok := <-r.inputs:
			if !ok {
				return "", wrapError(host, KindConnection, io.EOF, "connection closed while reading")
			}
			sb.Write(b)
			current := strings.ToValidUTF8(sb.String(), "�")
			for _, p := range patterns {
				if p.MatchString(current) {
					return current, nil
				}
			}
		case <-deadline.Done():
			return "", newError(host, KindTimeout, "timed out waiting for pattern", deadline.Err())
		}
	}
}

// readUntilPrompt is sugar for readUntilPattern([basePattern]).
func (r *promptReader) readUntilPrompt(ctx context.Context, host string, base *regexp.Regexp, timeout time.Duration) (string, error) {
	return r.readUntilPattern(ctx, host, []*regexp.Regexp{base}, timeout)
}

// readUntilPromptOrPattern prepends base to extra so callers can exploit
// first-match-wins to detect an interactive sub-prompt ahead of the base
// prompt.
func (r *promptReader) readUntilPromptOrPattern(ctx context.Context, host string, base *regexp.Regexp, extra []*regexp.Regexp, timeout time.Duration) (string, error) {
	patterns := append([]*regexp.Regexp{base}, extra...)
	return r.readUntilPattern(ctx, host, patterns, timeout)
}
