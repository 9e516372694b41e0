package signalr

import (
	"crypto/tls"
	"net/http"
)

// Connection is the transport contract the state machine depends on: open a
// session to a URI with a header bag, send pre-framed byte messages, and
// deliver inbound messages and the close signal over channels rather than
// callbacks.
//
// Frames are assumed pre-reassembled at message boundaries; Connection
// implementations do not need to, and must not, split or join WebSocket
// frames themselves. That split happens in the codec, on whatever a single
// Inbound delivery contains.
type Connection interface {
	// Connect opens the session. It must not return until the transport is
	// ready to Send and has started delivering to Inbound.
	Connect() error
	// Send writes one pre-framed message (already record-separator
	// terminated by the codec) as a text message.
	Send(data []byte) error
	// Inbound delivers each message the transport receives, unsplit.
	Inbound() <-chan []byte
	// Done is closed exactly once, whether by Close or by the transport
	// dying on its own (read error, server-initiated close).
	Done() <-chan struct{}
	// Err returns the reason Done closed, or nil if Close was called
	// cleanly and nothing failed.
	Err() error
	// Close closes the session. Safe to call more than once.
	Close() error
}

// TransportFactory builds a Connection for a normalized URI. Supplying one
// via WithTransportFactory lets a caller swap in a fake for tests or an
// alternative WebSocket client without touching the state machine.
type TransportFactory func(uri string, headers http.Header, tlsConfig *tls.Config) Connection
