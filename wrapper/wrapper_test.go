package wrapper

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/guseggert/rconwrap/internal/netutil"
	"github.com/guseggert/rconwrap/rcon"
	"github.com/guseggert/rconwrap/rcon/rcontest"
	"github.com/guseggert/rconwrap/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

const (
	errorDelay = 50 * time.Millisecond
	closeDelay = 500 * time.Millisecond
	waitFor    = 5 * time.Second
	tick       = 10 * time.Millisecond
)

// fakeProcess exits when it is killed.
type fakeProcess struct {
	output chan supervisor.Output
	done   chan supervisor.Result

	terms atomic.Int32
	kills atomic.Int32
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		output: make(chan supervisor.Output),
		done:   make(chan supervisor.Result, 1),
	}
}

func (p *fakeProcess) Output() <-chan supervisor.Output { return p.output }
func (p *fakeProcess) Done() <-chan supervisor.Result   { return p.done }

func (p *fakeProcess) Terminate() {
	p.terms.Add(1)
}

func (p *fakeProcess) Kill() {
	if p.kills.Add(1) == 1 {
		p.done <- supervisor.Result{ExitCode: -1, Signal: syscall.SIGKILL}
	}
}

func (p *fakeProcess) print(stream supervisor.Stream, text string) {
	p.output <- supervisor.Output{Stream: stream, Text: text}
}

func (p *fakeProcess) exit(code int) {
	p.done <- supervisor.Result{ExitCode: code}
}

type fakeSink struct {
	mut      sync.Mutex
	raw      strings.Builder
	activity strings.Builder
}

func (s *fakeSink) Raw(text string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.raw.WriteString(text)
}

func (s *fakeSink) Activity(text string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.activity.WriteString(text)
}

func (s *fakeSink) Both(text string) {
	s.Raw(text)
	s.Activity(text)
}

func (s *fakeSink) raws() string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.raw.String()
}

func (s *fakeSink) activities() string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.activity.String()
}

// syncBuffer is a console the test can read while the loop writes to it.
type syncBuffer struct {
	mut sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.buf.String()
}

type harness struct {
	t       *testing.T
	proc    *fakeProcess
	sink    *fakeSink
	console *syncBuffer
	input   *io.PipeWriter
	signals chan os.Signal

	code chan int
}

func unreachableConfig(t *testing.T) rcon.Config {
	port, err := netutil.FreePort()
	require.NoError(t, err)
	cfg := rcon.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	return cfg
}

func start(t *testing.T, cfg rcon.Config) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	inputR, inputW := io.Pipe()
	t.Cleanup(func() { inputW.Close() })

	h := &harness{
		t:       t,
		proc:    newFakeProcess(),
		sink:    &fakeSink{},
		console: &syncBuffer{},
		input:   inputW,
		signals: make(chan os.Signal, 2),
		code:    make(chan int, 1),
	}
	client := rcon.NewClient(cfg, log, rcon.WithRetryDelays(errorDelay, closeDelay))
	w := New(h.proc, h.sink, client,
		WithLogger(log),
		WithConsole(h.console),
		WithInput(inputR),
		WithSignals(h.signals),
	)
	go func() {
		code, err := w.Run(ctx)
		assert.NoError(t, err)
		h.code <- code
	}()
	return h
}

func (h *harness) typeLine(line string) {
	_, err := io.WriteString(h.input, line+"\n")
	require.NoError(h.t, err)
}

func (h *harness) waitConsole(substr string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return strings.Contains(h.console.String(), substr)
	}, waitFor, tick, "console never showed %q, got:\n%s", substr, h.console.String())
}

func (h *harness) exitCode() int {
	h.t.Helper()
	select {
	case code := <-h.code:
		return code
	case <-time.After(waitFor):
		h.t.Fatal("wrapper did not return")
	}
	return 0
}

// withoutRetries drops the retry notices, whose count depends on timing.
func withoutRetries(console string) string {
	return strings.ReplaceAll(console, retryNotice+"\n", "")
}

func nextFrame(t *testing.T, s *rcontest.Server) rcontest.Frame {
	t.Helper()
	select {
	case f := <-s.Frames():
		return f
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for command frame")
	}
	return rcontest.Frame{}
}

func TestRelayAndExitCode(t *testing.T) {
	h := start(t, unreachableConfig(t))

	h.proc.print(supervisor.Stdout, "Loading Prefab Bundle A\n")
	h.proc.print(supervisor.Stdout, "Loading Prefab Bundle A\n")
	h.proc.print(supervisor.Stderr, "WARNING: Shader blah\n")
	h.proc.print(supervisor.Stdout, "Hello\n")
	h.proc.exit(3)

	assert.Equal(t, 3, h.exitCode())
	assert.Equal(t, "Loading Prefab Bundle A\nHello\nRust process exited with code 3.\n", withoutRetries(h.console.String()))
	assert.Equal(t, "Loading Prefab Bundle A\nWARNING: Shader blah\nHello\nRust process exited with code 3.\n", h.sink.raws())
	assert.Empty(t, h.sink.activities())
}

func TestInputBeforeRCON(t *testing.T) {
	h := start(t, unreachableConfig(t))

	// Failed attempts before the server is up are announced, not reported as a lost connection.
	h.waitConsole(retryNotice)

	h.typeLine("")
	h.typeLine("say hi")
	require.Eventually(t, func() bool {
		return strings.Count(h.console.String(), notReadyNotice) == 2
	}, waitFor, tick)
	assert.Equal(t, int32(0), h.proc.kills.Load())

	h.typeLine(strings.Repeat("x", 100*1024))
	h.typeLine("  quit  ")
	assert.Equal(t, 128+int(syscall.SIGKILL), h.exitCode())
	assert.Equal(t, int32(1), h.proc.kills.Load())
	assert.Equal(t, 3, strings.Count(h.console.String(), notReadyNotice))
	assert.NotContains(t, h.console.String(), closedNotice)
	assert.Empty(t, h.sink.activities())
}

func TestOversizedInputLineIsReported(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	input := strings.NewReader(strings.Repeat("x", maxLineSize+1) + "\nquit\n")
	w := New(newFakeProcess(), &fakeSink{}, nil, WithLogger(zap.New(core).Sugar()), WithInput(input))

	lines := make(chan string)
	go w.readLines(context.Background(), lines)
	for line := range lines {
		t.Errorf("unexpected line of %d bytes", len(line))
	}

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "reading operator input")
}

func TestRCONSession(t *testing.T) {
	s := rcontest.NewServer("hunter2", log)
	s.Reply = func(cmd rcon.Command) []rcon.Message {
		if cmd.Message != probeCommand {
			return nil
		}
		return []rcon.Message{{Identifier: cmd.Identifier, Message: "hostname: rcontest", Type: rcon.TypeGeneric}}
	}
	t.Cleanup(s.Close)
	h := start(t, s.Config())

	h.waitConsole(connectedNotice)
	assert.Equal(t, probeCommand, nextFrame(t, s).Command.Message)
	h.waitConsole("hostname: rcontest\n")

	// Once RCON is up the process output is quiet.
	h.proc.print(supervisor.Stdout, "Hello\n")
	h.proc.print(supervisor.Stdout, "Server startup complete\n")

	h.typeLine("say hi")
	f := nextFrame(t, s)
	assert.Equal(t, `{"Identifier":1,"Message":"say hi","Name":"WebRcon"}`, string(f.Raw))

	// quit is an ordinary command now.
	h.typeLine("quit")
	assert.Equal(t, "quit", nextFrame(t, s).Command.Message)
	assert.Equal(t, int32(0), h.proc.kills.Load())

	ctx := context.Background()
	require.NoError(t, s.Broadcast(ctx, rcon.Message{Message: "someone: gg", Type: rcon.TypeChat}))
	require.NoError(t, s.Broadcast(ctx, rcon.Message{Message: "", Type: rcon.TypeGeneric}))
	require.NoError(t, s.BroadcastRaw(ctx, []byte("not json")))
	require.NoError(t, s.Broadcast(ctx, rcon.Message{Message: "Saved 1,234 ents", Type: rcon.TypeGeneric}))
	h.waitConsole("Saved 1,234 ents\n")

	h.proc.exit(0)
	assert.Equal(t, 0, h.exitCode())

	console := h.console.String()
	assert.Contains(t, console, "Error parsing RCON message: ")
	assert.Contains(t, console, "Server startup complete\n")
	assert.NotContains(t, console, "Hello\n")
	assert.NotContains(t, console, "gg")
	assert.NotContains(t, console, notReadyNotice)
	assert.NotContains(t, console, retryNotice)
	assert.Equal(t, "hostname: rcontest\nSaved 1,234 ents\n", h.sink.activities())
	assert.Equal(t, "Hello\nServer startup complete\nRust process exited.\n", h.sink.raws())
}

func TestRCONReconnect(t *testing.T) {
	s := rcontest.NewServer("hunter2", log)
	t.Cleanup(s.Close)
	h := start(t, s.Config())

	h.waitConsole(connectedNotice)
	nextFrame(t, s)

	s.CloseConns()
	h.waitConsole(closedNotice)
	assert.Equal(t, closedNotice+"\n", h.sink.activities())
	assert.Equal(t, closedNotice+"\n", h.sink.raws())

	// Input stays routed to RCON while it is down.
	h.typeLine("status")
	h.waitConsole(notConnectedNotice)

	// The reconnect sends the probe again.
	assert.Equal(t, probeCommand, nextFrame(t, s).Command.Message)
	assert.Equal(t, 2, strings.Count(h.console.String(), connectedNotice))
	assert.NotContains(t, h.console.String(), retryNotice)

	// A broken transport is reported as both a retry and a lost connection.
	s.DropConns()
	h.waitConsole(retryNotice)
	require.Eventually(t, func() bool {
		return strings.Count(h.console.String(), closedNotice) == 2
	}, waitFor, tick)
	assert.Equal(t, probeCommand, nextFrame(t, s).Command.Message)

	h.proc.exit(0)
	assert.Equal(t, 0, h.exitCode())
}

func TestSignals(t *testing.T) {
	h := start(t, unreachableConfig(t))

	h.signals <- syscall.SIGINT
	require.Eventually(t, func() bool { return h.proc.terms.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(0), h.proc.kills.Load())

	h.signals <- syscall.SIGTERM
	assert.Equal(t, 128+int(syscall.SIGKILL), h.exitCode())
	assert.Equal(t, int32(1), h.proc.terms.Load())
	assert.Equal(t, int32(1), h.proc.kills.Load())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "process", ModeProcess.String())
	assert.Equal(t, "rcon", ModeRCON.String())
}
