package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNoCommand = errors.New("please specify a startup command")

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Output is one line of output from the child, including its line terminator if it had one.
type Output struct {
	Stream Stream
	Text   string
}

// Result describes how the child exited.
type Result struct {
	// ExitCode is -1 if the child was killed by a signal.
	ExitCode int
	Signal   syscall.Signal
	// Err is set when waiting failed for a reason other than a non-zero exit.
	Err error
}

// Code is the exit code the wrapper should exit with.
func (r Result) Code() int {
	if r.Signal != 0 {
		return 128 + int(r.Signal)
	}
	if r.ExitCode < 0 {
		return 1
	}
	return r.ExitCode
}

// StatusLine is the line recorded in the raw log when the child exits.
func (r Result) StatusLine() string {
	switch {
	case r.Signal != 0:
		return fmt.Sprintf("Rust process exited with signal %s.\n", signalName(r.Signal))
	case r.ExitCode != 0:
		return fmt.Sprintf("Rust process exited with code %d.\n", r.ExitCode)
	default:
		return "Rust process exited.\n"
	}
}

// Process is a running game server started through the shell.
type Process struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	// stdin is held open and never written: the child should not see EOF on its console.
	stdin io.WriteCloser

	output chan Output
	done   chan Result

	exited        atomic.Bool
	terminateOnce sync.Once
	// signals counts signals actually delivered, for tests.
	signals atomic.Int32
}

// Start launches commandLine with /bin/sh -c. Output lines are delivered on Output() until
// both streams are drained, after which the exit result is delivered on Done().
// Canceling ctx stops delivery but the streams keep being drained so the child never blocks.
func Start(ctx context.Context, commandLine string, log *zap.SugaredLogger) (*Process, error) {
	if commandLine == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.Command("/bin/sh", "-c", commandLine)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	p := &Process{
		log:    log.Named("supervisor"),
		cmd:    cmd,
		stdin:  stdin,
		output: make(chan Output),
		done:   make(chan Result, 1),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", commandLine, err)
	}
	p.log.Debugw("process started", "PID", cmd.Process.Pid, "Command", commandLine)

	var group errgroup.Group
	group.Go(func() error { return p.pump(ctx, Stdout, stdout) })
	group.Go(func() error { return p.pump(ctx, Stderr, stderr) })

	go func() {
		if err := group.Wait(); err != nil {
			p.log.Debugf("output pump error: %s", err)
		}
		p.done <- p.wait()
	}()

	return p, nil
}

// pump reads lines from r until EOF. Reading the pipes to completion before Wait is
// required by os/exec.
func (p *Process) pump(ctx context.Context, stream Stream, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case p.output <- Output{Stream: stream, Text: line}:
			case <-ctx.Done():
				_, _ = io.Copy(io.Discard, br)
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", stream, err)
		}
	}
}

func (p *Process) wait() Result {
	err := p.cmd.Wait()
	p.exited.Store(true)
	_ = p.stdin.Close()

	res := Result{ExitCode: p.cmd.ProcessState.ExitCode()}
	if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signal = ws.Signal()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.log.Debugf("unexpected wait error: %s", err)
			res.Err = err
		}
	}
	p.log.Debugw("process exited", "PID", p.cmd.Process.Pid, "ExitCode", res.ExitCode, "Signal", res.Signal)
	return res
}

// Output delivers lines from stdout and stderr. Ordering is preserved per stream only.
func (p *Process) Output() <-chan Output {
	return p.output
}

// Done delivers the exit result once, after all output has been delivered.
func (p *Process) Done() <-chan Result {
	return p.done
}

func (p *Process) Exited() bool {
	return p.exited.Load()
}

func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Terminate asks the child to shut down gracefully. Only the first call has any effect,
// and nothing is sent if the child has already exited. It does not wait.
func (p *Process) Terminate() {
	p.terminateOnce.Do(func() {
		p.send(syscall.SIGTERM)
	})
}

// Kill forcibly stops the child if it is still running.
func (p *Process) Kill() {
	p.send(syscall.SIGKILL)
}

func (p *Process) send(sig syscall.Signal) {
	if p.Exited() {
		p.log.Debugf("process already exited, not sending %s", signalName(sig))
		return
	}
	p.log.Debugf("sending %s to process %d", signalName(sig), p.PID())
	if err := signalGroup(p.cmd.Process, sig); err != nil {
		p.log.Debugf("error sending %s: %s", signalName(sig), err)
		return
	}
	p.signals.Add(1)
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	}
	return sig.String()
}
