package wrapper

import (
	"context"
	"errors"
	"fmt"

	"github.com/guseggert/rconwrap/rcon"
)

const (
	notReadyNotice     = "Unable to run command.  Server is not yet running."
	notConnectedNotice = "Unable to run command.  RCON is not connected."
	quitCommand        = "quit"
)

// Mode is where operator input goes.
type Mode int

const (
	// ModeProcess is the mode before any RCON connection has opened. Input is not
	// forwarded anywhere; only quit is acted on and every other line gets a notice.
	ModeProcess Mode = iota
	// ModeRCON forwards every line as an RCON command. Once entered it is never left.
	ModeRCON
)

func (m Mode) String() string {
	if m == ModeRCON {
		return "rcon"
	}
	return "process"
}

// route dispatches one trimmed operator line. There is no queue: a line that cannot be
// delivered now is dropped.
func (w *Wrapper) route(ctx context.Context, line string) {
	switch w.state.mode {
	case ModeProcess:
		if line == quitCommand {
			w.log.Info("quit requested before RCON was up, killing game server")
			w.proc.Kill()
			return
		}
		fmt.Fprintln(w.console, notReadyNotice)
	case ModeRCON:
		// An empty command only gets an error reply from the server.
		if line == "" {
			return
		}
		err := w.control.Send(ctx, line)
		if errors.Is(err, rcon.ErrNotConnected) {
			fmt.Fprintln(w.console, notConnectedNotice)
			return
		}
		if err != nil {
			fmt.Fprintf(w.console, "Error sending RCON command: %s\n", err)
		}
	}
}

// attachRCON switches input to RCON. Reconnects call it again, which changes nothing.
func (w *Wrapper) attachRCON() {
	if w.state.mode != ModeRCON {
		w.log.Debugf("routing input: %s -> %s", w.state.mode, ModeRCON)
	}
	w.state.mode = ModeRCON
}
