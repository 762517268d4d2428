/*
Package rcon provides a reconnecting client for the WebRcon protocol spoken by Rust dedicated servers. WebRcon exchanges JSON text frames over a WebSocket, with the password carried in the URL path: ws://<host>:<port>/<password>.

There are two messages in this protocol: "command" frames are sent client->server, and "message" frames are sent server->client. The schema for these messages is described in types.go.

The protocol proceeds as follows:

1. The client opens a WebSocket connection. A wrong password makes the server refuse the handshake.
2. The client sends command frames, each carrying one console command in Message.
3. The server sends message frames for command replies and for anything it logs, tagged with a Type such as "Generic", "Warning", "Error" or "Chat".
4. Either side may close the connection. The server closes it when it shuts down.

Client runs the connection lifecycle as a state machine:

	idle -> connecting -> open -> closed-unexpected | errored -> connecting -> ...

A failed handshake goes straight from connecting to errored. Retries are scheduled with a constant delay and never give up; the server may be down for a long time while it restarts or updates. The only terminal state is closed-expected, entered when the owning context ends.

Client is driven by a single owner loop: the owner reads Events and feeds each one back to Handle, which updates the state and schedules retries. The dial/read goroutine only ever sends events, so the state needs no locking.
*/
package rcon
