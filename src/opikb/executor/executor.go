// Package executor runs the external tools the build pipeline drives and
// reports their outcome as data.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cmd describes one external command
type Cmd struct {
	// Name is the program to run, looked up in PATH
	Name string
	// Args are passed verbatim, no shell is involved
	Args []string
	// Dir is the working directory; empty means the current one
	Dir string
	// Env holds per-command overrides on top of the runner environment
	Env map[string]string
	// Quiet keeps output out of the console even in verbose mode
	Quiet bool
	// DiscardStderr keeps stderr out of Result.Output. It still reaches
	// the log file.
	DiscardStderr bool
}

// Command is a convenience constructor
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// In returns a copy of c that runs in dir
func (c Cmd) In(dir string) Cmd {
	c.Dir = dir
	return c
}

// String renders the command line without its environment
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// EnvString renders the per-command environment as KEY=VALUE pairs
func (c Cmd) EnvString() string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+c.Env[k])
	}
	return strings.Join(pairs, " ")
}

// Result is the outcome of one command
type Result struct {
	// Command is the rendered command line
	Command string
	// ExitCode is the process exit status, -1 if it never exited normally
	ExitCode int
	// Output holds the tail of stdout, plus stderr unless the command
	// discarded it
	Output []byte
	// Err is set when the process could not start or was interrupted
	Err error
	// Duration is the wall time the command took
	Duration time.Duration
}

// OK reports whether the command ran and exited with status 0
func (r *Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Failure returns nil for a successful command, otherwise an error naming
// the command, its status and the last lines it printed.
func (r *Result) Failure() error {
	if r.OK() {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%s: %w", r.Command, r.Err)
	}
	return fmt.Errorf("%s: exit status %d%s", r.Command, r.ExitCode, tail(r.Output, 3))
}

func tail(out []byte, lines int) string {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return ""
	}
	parts := strings.Split(string(out), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return "\n" + strings.Join(parts, "\n")
}

// Runner executes external commands. Implementations must honor ctx
// cancellation by stopping the running command.
type Runner interface {
	// Run executes c and reports its outcome; it never panics on failure
	Run(ctx context.Context, c Cmd) *Result

	// Setenv adds a variable to the environment of every later command
	Setenv(key, value string)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}
