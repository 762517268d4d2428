package rcon

import "fmt"

const (
	// CommandIdentifier tags every command frame the wrapper sends.
	CommandIdentifier = 1
	DefaultName       = "WebRcon"

	TypeChat    = "Chat"
	TypeGeneric = "Generic"
)

// Command is a command frame sent client->server.
// Field order matters: it is the order on the wire.
type Command struct {
	Identifier int
	Message    string
	Name       string
}

// Message is a message frame sent server->client. Unknown fields are ignored.
type Message struct {
	Identifier int
	Message    string
	Type       string
	Stacktrace string
}

// IsChat reports whether the frame is in-game chat, which the wrapper never relays.
func (m Message) IsChat() bool {
	return m.Type == TypeChat
}

// MalformedError is returned for a frame that is not a valid message envelope.
// The connection stays usable.
type MalformedError struct {
	Frame []byte
	Err   error
}

func (e *MalformedError) Error() string {
	frame := e.Frame
	if len(frame) > 100 {
		frame = frame[:100]
	}
	return fmt.Sprintf("malformed frame %q: %s", frame, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}
