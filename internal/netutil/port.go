package netutil

import (
	"fmt"
	"net"
)

// FreePort returns a localhost TCP port that nothing is listening on at the time of the
// call. Dialing it gets a connection refused, the same as a game server that has not
// opened its RCON port yet.
func FreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
