package wrapper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/guseggert/rconwrap/filter"
	"github.com/guseggert/rconwrap/rcon"
	"github.com/guseggert/rconwrap/supervisor"
	"go.uber.org/zap"
)

const (
	connectedNotice = "Connected to RCON.  Please wait until the server status switches to 'Running' before sending commands."
	closedNotice    = "RCON connection closed."
	retryNotice     = "Error connecting to RCON.  Retrying..."
	// probeCommand is sent on every new connection to check the channel works.
	probeCommand = "status"

	// maxLineSize bounds one operator line. Longer lines end input for good.
	maxLineSize = 1 << 20
)

// Process is the supervised game server.
type Process interface {
	Output() <-chan supervisor.Output
	Done() <-chan supervisor.Result
	Terminate()
	Kill()
}

// Sink is the pair of append-only logs.
type Sink interface {
	Raw(text string)
	Activity(text string)
	Both(text string)
}

// Control is the reconnecting RCON client.
type Control interface {
	Events() <-chan rcon.Event
	Connect(ctx context.Context)
	Handle(ctx context.Context, ev rcon.Event) rcon.Transition
	Send(ctx context.Context, command string) error
	Close()
}

// Wrapper relays a game server's output and routes operator input to it.
// All of its mutable state is owned by the loop in Run.
type Wrapper struct {
	log     *zap.SugaredLogger
	console io.Writer
	input   io.Reader
	signals <-chan os.Signal
	rules   filter.Rules

	proc    Process
	sink    Sink
	control Control

	state *state
}

// state is only touched from the Run loop.
type state struct {
	mode   Mode
	filter *filter.Filter
	// interrupted is set once the wrapper itself has been asked to stop.
	interrupted bool
}

type Option func(w *Wrapper)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Wrapper) {
		w.log = l.Named("wrapper")
	}
}

// WithConsole sets where relayed output and operator notices are written.
func WithConsole(c io.Writer) Option {
	return func(w *Wrapper) {
		w.console = c
	}
}

// WithInput sets where operator commands are read from.
func WithInput(r io.Reader) Option {
	return func(w *Wrapper) {
		w.input = r
	}
}

// WithSignals sets the channel of OS signals asking the wrapper to stop.
func WithSignals(ch <-chan os.Signal) Option {
	return func(w *Wrapper) {
		w.signals = ch
	}
}

func WithRules(r filter.Rules) Option {
	return func(w *Wrapper) {
		w.rules = r
	}
}

func New(proc Process, sink Sink, control Control, opts ...Option) *Wrapper {
	w := &Wrapper{
		log:     zap.NewNop().Sugar(),
		console: os.Stdout,
		input:   os.Stdin,
		rules:   filter.DefaultRules(),
		proc:    proc,
		sink:    sink,
		control: control,
	}
	for _, o := range opts {
		o(w)
	}
	w.state = &state{
		mode:   ModeProcess,
		filter: filter.New(w.rules, w.console, sink),
	}
	return w
}

// Run relays until the game server exits and returns the exit code the wrapper should
// exit with. It does not signal the process on return; that is the caller's exit hook.
func (w *Wrapper) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go w.readLines(ctx, lines)

	w.control.Connect(ctx)
	defer w.control.Close()

	for {
		select {
		case o := <-w.proc.Output():
			w.state.filter.Process(o.Text)
		case res := <-w.proc.Done():
			return w.exited(res), nil
		case line, ok := <-lines:
			if !ok {
				w.log.Debug("operator input closed")
				lines = nil
				continue
			}
			w.route(ctx, line)
		case ev := <-w.control.Events():
			w.handleRCON(ctx, ev)
		case sig := <-w.signals:
			w.interrupt(sig)
		case <-ctx.Done():
			return 1, ctx.Err()
		}
	}
}

func (w *Wrapper) exited(res supervisor.Result) int {
	status := res.StatusLine()
	fmt.Fprint(w.console, status)
	w.sink.Raw(status)
	if res.Err != nil {
		w.log.Errorf("waiting for game server: %s", res.Err)
	}
	return res.Code()
}

// interrupt asks the server to shut down on the first signal and kills it on the next.
func (w *Wrapper) interrupt(sig os.Signal) {
	if !w.state.interrupted {
		w.state.interrupted = true
		w.log.Infof("got %s, stopping game server", sig)
		w.proc.Terminate()
		return
	}
	w.log.Infof("got %s again, killing game server", sig)
	w.proc.Kill()
}

func (w *Wrapper) handleRCON(ctx context.Context, ev rcon.Event) {
	t := w.control.Handle(ctx, ev)
	switch ev.Kind {
	case rcon.EventOpen:
		w.opened(ctx)
	case rcon.EventMessage:
		w.relay(ev.Message)
	case rcon.EventMalformed:
		fmt.Fprintf(w.console, "Error parsing RCON message: %s\n", ev.Err)
	case rcon.EventClosed, rcon.EventErrored:
		if t.To == rcon.ClosedExpected {
			return
		}
		if ev.Kind == rcon.EventErrored {
			fmt.Fprintln(w.console, retryNotice)
		}
		if !t.WasOpen {
			w.log.Debugf("RCON not up yet, retrying in %s: %s", t.RetryIn, ev.Err)
			return
		}
		w.log.Debugf("RCON connection lost, retrying in %s: %s", t.RetryIn, ev.Err)
		fmt.Fprintln(w.console, closedNotice)
		w.sink.Both(closedNotice + "\n")
	}
}

func (w *Wrapper) opened(ctx context.Context) {
	fmt.Fprintln(w.console, connectedNotice)
	if err := w.control.Send(ctx, probeCommand); err != nil {
		w.log.Errorf("sending probe command: %s", err)
	}
	// Informative output now arrives through RCON.
	w.state.filter.SetQuiet()
	w.attachRCON()
}

func (w *Wrapper) relay(msg rcon.Message) {
	// Chat floods the activity log and is visible in game anyway.
	if msg.IsChat() || msg.Message == "" {
		return
	}
	fmt.Fprintln(w.console, msg.Message)
	w.sink.Activity(msg.Message + "\n")
}

// readLines sends each trimmed line of input until EOF or ctx ends, then closes lines.
func (w *Wrapper) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(w.input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case lines <- strings.TrimSpace(scanner.Text()):
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		w.log.Errorf("reading operator input, no further commands will be accepted: %s", err)
	}
}
