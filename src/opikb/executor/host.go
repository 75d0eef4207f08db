package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bitswalk/opikb/src/common/logs"
)

// captureLimit bounds how much output a Result keeps in memory. A kernel
// build prints far more than that, and only the tail matters.
const captureLimit = 1 << 20

// HostRunner executes commands directly on the host
type HostRunner struct {
	log  *logs.Logger
	echo bool

	mu  sync.Mutex
	env map[string]string
}

// NewHostRunner creates a runner that writes command output to the log file
// and, when echo is set, to the console as well.
func NewHostRunner(logger *logs.Logger, echo bool) *HostRunner {
	return &HostRunner{
		log:  logger,
		echo: echo,
		env:  make(map[string]string),
	}
}

// Setenv adds a variable to the environment of every later command
func (r *HostRunner) Setenv(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env[key] = value
}

// environ inherits the host environment, then applies runner and command
// overrides. exec keeps the last value of a duplicated key.
func (r *HostRunner) environ(overrides map[string]string) []string {
	env := os.Environ()

	r.mu.Lock()
	for k, v := range r.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	r.mu.Unlock()

	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Run executes c and waits for it
func (r *HostRunner) Run(ctx context.Context, c Cmd) *Result {
	res := &Result{Command: c.String(), ExitCode: -1}
	if c.Name == "" {
		res.Err = fmt.Errorf("no command specified")
		return res
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = r.environ(c.Env)

	capture := &tailBuffer{limit: captureLimit}
	logged := r.log.OutputWriter(r.echo && !c.Quiet)
	cmd.Stdout = io.MultiWriter(capture, logged)
	cmd.Stderr = cmd.Stdout
	if c.DiscardStderr {
		cmd.Stderr = logged
	}

	if env := c.EnvString(); env != "" {
		r.log.Debug("Running command", "cmd", res.Command, "dir", c.Dir, "env", env)
	} else {
		r.log.Debug("Running command", "cmd", res.Command, "dir", c.Dir)
	}

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = capture.Bytes()

	if err == nil {
		res.ExitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.Err = err
		}
	default:
		res.Err = err
	}

	r.log.Debug("Command failed", "cmd", res.Command, "exit", res.ExitCode, "elapsed", res.Duration.Round(time.Millisecond))
	return res
}
