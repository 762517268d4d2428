package rcon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// status replies and console dumps can be far larger than the library default of 32KiB
const readLimit = 4 << 20

type Config struct {
	Host     string
	Port     int
	Password string
	// Name is sent with every command so the server can attribute it.
	Name string
}

func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     28016,
		Password: "default_password",
		Name:     DefaultName,
	}
}

// URL is the WebSocket endpoint. The password is placed in the path verbatim, as the
// server expects.
func (c Config) URL() string {
	return fmt.Sprintf("ws://%s/%s", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Password)
}

// Conn is a single WebRcon connection. It is never reused after it closes.
// Read and Send may be called concurrently with each other.
type Conn struct {
	log  *zap.SugaredLogger
	ws   *websocket.Conn
	name string

	closeConnOnce sync.Once
}

// Dial performs the WebSocket handshake with the server.
func Dial(ctx context.Context, cfg Config, httpClient *http.Client, log *zap.SugaredLogger) (*Conn, error) {
	u := cfg.URL()
	log.Debugw("dialing WebSocket", "Host", cfg.Host, "Port", cfg.Port)
	wsConn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient:      httpClient,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	wsConn.SetReadLimit(readLimit)

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return &Conn{log: log, ws: wsConn, name: name}, nil
}

// Send writes command as one text frame. The frame is marshaled directly rather than
// through wsjson, whose encoder appends a newline to every frame.
func (c *Conn) Send(ctx context.Context, command string) error {
	b, err := json.Marshal(Command{
		Identifier: CommandIdentifier,
		Message:    command,
		Name:       c.name,
	})
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

// Read reads the next frame. A frame that does not parse yields a *MalformedError and
// leaves the connection open; wsjson.Read would close it instead.
func (c *Conn) Read(ctx context.Context) (Message, error) {
	_, b, err := c.ws.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, &MalformedError{Frame: b, Err: err}
	}
	return msg, nil
}

func (c *Conn) Close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.ws.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}
