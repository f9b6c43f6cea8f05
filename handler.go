package mqttd

import "context"

// Handler processes decoded packets for a session. Process runs on the
// session's goroutine; returning an error closes the session.
type Handler interface {
	Process(ctx context.Context, packet Packet, session *Session) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, packet Packet, session *Session) error

// Process calls f.
func (f HandlerFunc) Process(ctx context.Context, packet Packet, session *Session) error {
	return f(ctx, packet, session)
}

// SessionCloseHandler is implemented by handlers that keep per-session state.
// SessionClosed is called exactly once after the connection is closed.
type SessionCloseHandler interface {
	SessionClosed(session *Session)
}
