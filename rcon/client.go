package rcon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var ErrNotConnected = errors.New("RCON is not connected")

const sendTimeout = 5 * time.Second

type State int

const (
	Idle State = iota
	Connecting
	Open
	ClosedExpected
	ClosedUnexpected
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedExpected:
		return "closed-expected"
	case ClosedUnexpected:
		return "closed-unexpected"
	case Errored:
		return "errored"
	}
	return "unknown"
}

type EventKind int

const (
	// EventOpen carries the newly opened Conn.
	EventOpen EventKind = iota
	EventMessage
	// EventMalformed carries a *MalformedError; the connection is still open.
	EventMalformed
	// EventClosed means the server closed the connection with a close frame.
	EventClosed
	// EventErrored means the handshake failed or the transport broke.
	EventErrored
	// EventRetry fires when a scheduled retry delay has elapsed.
	EventRetry
)

type Event struct {
	Kind    EventKind
	Conn    *Conn
	Message Message
	Err     error
}

// Transition is the outcome of handling an event.
type Transition struct {
	From State
	To   State
	// WasOpen is true when a connection that had reached open has ended.
	WasOpen bool
	// RetryIn is the delay before the next attempt, zero if none was scheduled.
	RetryIn time.Duration
}

// Client is the reconnecting WebRcon client. Apart from Events, its methods must only be
// called from the loop that consumes Events.
type Client struct {
	Config          Config
	ErrorRetryDelay time.Duration
	CloseRetryDelay time.Duration
	HTTPClient      *http.Client
	Log             *zap.SugaredLogger

	events chan Event

	state      State
	conn       *Conn
	retryTimer *time.Timer
	// waitingToStart is true until a connection opens, and again after one is lost.
	// It separates "server still booting" from "connection dropped".
	waitingToStart bool
}

type ClientOption func(c *Client)

func WithRetryDelays(onError, onClose time.Duration) ClientOption {
	return func(c *Client) {
		c.ErrorRetryDelay = onError
		c.CloseRetryDelay = onClose
	}
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = h
	}
}

func NewClient(cfg Config, log *zap.SugaredLogger, opts ...ClientOption) *Client {
	c := &Client{
		Config:          cfg,
		ErrorRetryDelay: 5 * time.Second,
		// Longer, since a clean close usually means the server is shutting down.
		CloseRetryDelay: 10 * time.Second,
		HTTPClient:      http.DefaultClient,
		Log:             log.Named("rcon"),
		events:          make(chan Event),
		waitingToStart:  true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	return c.state
}

func (c *Client) WaitingToStart() bool {
	return c.waitingToStart
}

// Connect starts a connection attempt. The outcome arrives on Events.
func (c *Client) Connect(ctx context.Context) {
	c.state = Connecting
	go c.run(ctx)
}

// run dials and then reads frames until the connection ends. It only sends events.
func (c *Client) run(ctx context.Context) {
	conn, err := Dial(ctx, c.Config, c.HTTPClient, c.Log)
	if err != nil {
		c.emit(ctx, Event{Kind: EventErrored, Err: err})
		return
	}
	if !c.emit(ctx, Event{Kind: EventOpen, Conn: conn}) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	for {
		msg, err := conn.Read(ctx)
		var malformed *MalformedError
		if errors.As(err, &malformed) {
			if !c.emit(ctx, Event{Kind: EventMalformed, Err: err}) {
				return
			}
			continue
		}
		if err != nil {
			kind := EventErrored
			if websocket.CloseStatus(err) != -1 {
				kind = EventClosed
			}
			c.Log.Debugf("read loop ended: %s", err)
			conn.Close(websocket.StatusInternalError, err.Error())
			c.emit(ctx, Event{Kind: kind, Err: err})
			return
		}
		if !c.emit(ctx, Event{Kind: EventMessage, Message: msg}) {
			return
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Handle applies ev to the state machine.
func (c *Client) Handle(ctx context.Context, ev Event) Transition {
	t := Transition{From: c.state}
	switch ev.Kind {
	case EventOpen:
		c.state = Open
		c.conn = ev.Conn
		c.waitingToStart = false
	case EventClosed, EventErrored:
		t.WasOpen = !c.waitingToStart
		c.conn = nil
		if ctx.Err() != nil {
			c.state = ClosedExpected
			break
		}
		c.state = Errored
		delay := c.ErrorRetryDelay
		if ev.Kind == EventClosed && t.WasOpen {
			c.state = ClosedUnexpected
			delay = c.CloseRetryDelay
		}
		c.waitingToStart = true
		c.scheduleRetry(ctx, delay)
		t.RetryIn = delay
	case EventRetry:
		c.retryTimer = nil
		if ctx.Err() == nil {
			c.Connect(ctx)
		}
	}
	t.To = c.state
	if t.From != t.To {
		c.Log.Debugw("state changed", "From", t.From, "To", t.To, "RetryIn", t.RetryIn)
	}
	return t
}

func (c *Client) scheduleRetry(ctx context.Context, delay time.Duration) {
	c.retryTimer = time.AfterFunc(delay, func() {
		c.emit(ctx, Event{Kind: EventRetry})
	})
}

// Send sends command on the open connection.
func (c *Client) Send(ctx context.Context, command string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.conn.Send(ctx, command)
}

// Close stops any pending retry and closes the open connection. The client ends in
// closed-expected and does not reconnect.
func (c *Client) Close() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	c.state = ClosedExpected
}
