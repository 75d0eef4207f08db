package executor

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records commands instead of running them. Results are
// scripted by command-line prefix; anything unscripted succeeds silently.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []Cmd
	env      map[string]string
	handlers []fakeHandler
}

type fakeHandler struct {
	prefix string
	fn     func(Cmd) Result
}

// NewFakeRunner creates an empty fake
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{env: make(map[string]string)}
}

// Handle scripts every command whose line starts with prefix. Later
// registrations take precedence over earlier ones.
func (f *FakeRunner) Handle(prefix string, fn func(Cmd) Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{prefix: prefix, fn: fn})
	return f
}

// Fail makes matching commands exit with code
func (f *FakeRunner) Fail(prefix string, code int) *FakeRunner {
	return f.Handle(prefix, func(Cmd) Result {
		return Result{ExitCode: code, Output: []byte("scripted failure\n")}
	})
}

// Respond makes matching commands succeed and print output
func (f *FakeRunner) Respond(prefix, output string) *FakeRunner {
	return f.Handle(prefix, func(Cmd) Result {
		return Result{Output: []byte(output)}
	})
}

// RespondStreams makes matching commands succeed and print stdout and
// stderr. Stderr lands in the output unless the command discards it.
func (f *FakeRunner) RespondStreams(prefix, stdout, stderr string) *FakeRunner {
	return f.Handle(prefix, func(c Cmd) Result {
		if c.DiscardStderr {
			return Result{Output: []byte(stdout)}
		}
		return Result{Output: []byte(stdout + stderr)}
	})
}

// Setenv records a runner-wide variable
func (f *FakeRunner) Setenv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Run records c and returns its scripted result
func (f *FakeRunner) Run(ctx context.Context, c Cmd) *Result {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var fn func(Cmd) Result
	line := c.String()
	for i := len(f.handlers) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.handlers[i].prefix) {
			fn = f.handlers[i].fn
			break
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &Result{Command: line, ExitCode: -1, Err: err}
	}

	res := Result{}
	if fn != nil {
		res = fn(c)
	}
	res.Command = line
	return &res
}

// Calls returns the recorded commands in order
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// Commands returns the recorded command lines in order
func (f *FakeRunner) Commands() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Ran reports whether any recorded command line starts with prefix
func (f *FakeRunner) Ran(prefix string) bool {
	for _, line := range f.Commands() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Env returns a copy of the variables set through Setenv
func (f *FakeRunner) Env() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.env))
	for k, v := range f.env {
		out[k] = v
	}
	return out
}
