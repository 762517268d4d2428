// Package rcontest provides a fake WebRcon server for tests, in the spirit of net/http/httptest.
package rcontest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/guseggert/rconwrap/rcon"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame is one command frame received from a client.
type Frame struct {
	Raw     []byte
	Command rcon.Command
}

// Server accepts WebRcon connections on ws://127.0.0.1:<port>/<password>.
type Server struct {
	Password string
	Log      *zap.SugaredLogger

	// Reply, if set, is called for each received command and its return values are sent back.
	Reply func(cmd rcon.Command) []rcon.Message

	httpServer *httptest.Server
	listener   *trackingListener

	connsMut sync.Mutex
	conns    []*websocket.Conn

	accepted chan struct{}
	frames   chan Frame
}

func NewServer(password string, log *zap.SugaredLogger) *Server {
	s := &Server{
		Password: password,
		Log:      log.Named("rcontest"),
		accepted: make(chan struct{}, 16),
		frames:   make(chan Frame, 64),
	}
	router := httprouter.New()
	router.GET("/:password", s.serveWS)
	s.httpServer = httptest.NewUnstartedServer(router)
	s.listener = &trackingListener{Listener: s.httpServer.Listener}
	s.httpServer.Listener = s.listener
	s.httpServer.Start()
	return s
}

// trackingListener remembers accepted conns. httptest stops tracking a conn once it is
// hijacked, which every WebSocket conn is.
type trackingListener struct {
	net.Listener

	mut   sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.mut.Lock()
	l.conns = append(l.conns, c)
	l.mut.Unlock()
	return c, nil
}

func (l *trackingListener) closeAll() {
	l.mut.Lock()
	defer l.mut.Unlock()
	for _, c := range l.conns {
		_ = c.Close()
	}
	l.conns = nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if params.ByName("password") != s.Password {
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	s.Log.Debug("accepted WebSocket conn")

	s.connsMut.Lock()
	s.conns = append(s.conns, conn)
	s.connsMut.Unlock()
	select {
	case s.accepted <- struct{}{}:
	default:
	}

	ctx := context.Background()
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			s.Log.Debugf("message reader got error: %s", err)
			s.remove(conn)
			return
		}
		var cmd rcon.Command
		if err := json.Unmarshal(b, &cmd); err != nil {
			s.Log.Debugf("bad command frame %q: %s", b, err)
			continue
		}
		s.frames <- Frame{Raw: b, Command: cmd}
		if s.Reply != nil {
			for _, msg := range s.Reply(cmd) {
				if err := wsjson.Write(ctx, conn, msg); err != nil {
					s.Log.Debugf("error writing reply: %s", err)
				}
			}
		}
	}
}

func (s *Server) remove(conn *websocket.Conn) {
	s.connsMut.Lock()
	defer s.connsMut.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func (s *Server) snapshot() []*websocket.Conn {
	s.connsMut.Lock()
	defer s.connsMut.Unlock()
	return append([]*websocket.Conn(nil), s.conns...)
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.httpServer.Listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.httpServer.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Config returns a client config pointing at this server.
func (s *Server) Config() rcon.Config {
	return rcon.Config{
		Host:     s.Host(),
		Port:     s.Port(),
		Password: s.Password,
		Name:     rcon.DefaultName,
	}
}

// Accepted receives a value for every accepted connection.
func (s *Server) Accepted() <-chan struct{} {
	return s.accepted
}

// Frames receives every command frame sent by clients.
func (s *Server) Frames() <-chan Frame {
	return s.frames
}

// Broadcast sends v as a JSON text frame to every connected client.
func (s *Server) Broadcast(ctx context.Context, v any) error {
	for _, c := range s.snapshot() {
		if err := wsjson.Write(ctx, c, v); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastRaw sends b unmodified as a text frame to every connected client.
func (s *Server) BroadcastRaw(ctx context.Context, b []byte) error {
	for _, c := range s.snapshot() {
		if err := c.Write(ctx, websocket.MessageText, b); err != nil {
			return err
		}
	}
	return nil
}

// CloseConns closes every connection with a normal close frame, as a server shutting
// down does.
func (s *Server) CloseConns() {
	for _, c := range s.snapshot() {
		_ = c.Close(websocket.StatusNormalClosure, "server shutting down")
	}
}

// DropConns breaks every connection at the TCP level, without a close frame.
func (s *Server) DropConns() {
	s.listener.closeAll()
}

func (s *Server) Close() {
	s.CloseConns()
	s.httpServer.Close()
}
