package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// Command is one CLI invocation.
type Command struct {
	Dir   string
	Args  []string
	Env   map[string]string
	Stdin string
}

// Result is what an invocation printed and how it exited.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// String formats the result for failure messages.
func (r Result) String() string {
	return fmt.Sprintf("exit %d\nstdout:\n%s\nstderr:\n%s", r.Code, r.Stdout, r.Stderr)
}

// Run executes the binary. A non-zero exit is reported in Result, not as a
// test failure.
func Run(t *testing.T, bin string, c Command) Result {
	t.Helper()
	cmd := exec.Command(bin, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(c.Stdin)
	if len(c.Env) > 0 {
		// Later entries win, so overrides are appended.
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("run %s: %v", bin, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// Process is a CLI invocation running in the background.
type Process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}
	err    error
}

// Start launches the binary without waiting for it.
func Start(t *testing.T, bin string, c Command) *Process {
	t.Helper()
	p := &Process{done: make(chan struct{})}
	p.cmd = exec.Command(bin, c.Args...)
	p.cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		p.cmd.Env = os.Environ()
		for k, v := range c.Env {
			p.cmd.Env = append(p.cmd.Env, k+"="+v)
		}
	}
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", bin, err)
	}
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	t.Cleanup(func() {
		select {
		case <-p.done:
		default:
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return p
}

// Interrupt sends SIGINT and waits up to timeout for the process to exit.
func (p *Process) Interrupt(t *testing.T, timeout time.Duration) Result {
	t.Helper()
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case <-p.done:
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		<-p.done
		t.Fatalf("process did not exit within %s\nstderr:\n%s", timeout, p.stderr.String())
	}
	res := Result{Stdout: p.stdout.String(), Stderr: p.stderr.String()}
	var ee *exec.ExitError
	if errors.As(p.err, &ee) {
		res.Code = ee.ExitCode()
	} else if p.err != nil {
		res.Code = -1
	}
	return res
}
