package signalr

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// config holds every configuration knob the connection accepts at
// construction time. It is built by applying functional Options over the
// defaults in newConfig.
type config struct {
	headers           http.Header
	reconnect         bool
	tlsConfig         *tls.Config
	serverTimeout     time.Duration
	keepAliveInterval time.Duration
	handshakeTimeout  time.Duration
	info              StructuredLogger
	dbg               StructuredLogger
	backOffFactory    func() backoff.BackOff
	transportFactory  TransportFactory
}

func newConfig() *config {
	info, dbg := defaultLoggers()
	return &config{
		headers:           http.Header{},
		reconnect:         false,
		serverTimeout:     30 * time.Second,
		keepAliveInterval: 15 * time.Second,
		handshakeTimeout:  15 * time.Second,
		info:              info,
		dbg:               dbg,
		backOffFactory:    func() backoff.BackOff { return newFixedReconnectBackOff() },
	}
}

// Option configures a HubConnection at construction time.
type Option func(*config) error

// WithHeaders sets the header bag applied at WebSocket connect.
func WithHeaders(headers http.Header) Option {
	return func(c *config) error {
		c.headers = headers
		return nil
	}
}

// WithReconnect enables the fixed four-attempt reconnect backoff when the
// server permits it (Close record with allowReconnect=true).
func WithReconnect() Option {
	return func(c *config) error {
		c.reconnect = true
		return nil
	}
}

// WithTLSConfig forwards a *tls.Config to the transport, the idiomatic Go
// shape for the Certificate / SslVerification / SslProtocol trio from the
// external-interfaces contract.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *config) error {
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithServerTimeout overrides the default 30s server-timeout watchdog.
func WithServerTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.serverTimeout = timeout
		return nil
	}
}

// WithKeepAliveInterval overrides the default 15s keep-alive ping interval.
func WithKeepAliveInterval(interval time.Duration) Option {
	return func(c *config) error {
		c.keepAliveInterval = interval
		return nil
	}
}

// WithHandshakeTimeout overrides the default 15s handshake watchdog.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithLogger sets the StructuredLogger used for info events; when debug is
// true, debug-level traffic logging is emitted as well.
func WithLogger(logger StructuredLogger, debug bool) Option {
	return func(c *config) error {
		info, dbg := buildInfoDebugLogger(logAdapter{logger}, debug)
		c.info, c.dbg = info, dbg
		return nil
	}
}

// logAdapter lets any StructuredLogger stand in for go-kit/log.Logger,
// which is the same single-method shape.
type logAdapter struct {
	StructuredLogger
}

// WithBackOff overrides the default fixed four-attempt reconnect schedule
// with a caller-supplied backoff.BackOff, constructed fresh for each
// reconnect loop.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *config) error {
		c.backOffFactory = factory
		return nil
	}
}

// WithTransportFactory overrides the default gorilla/websocket transport,
// primarily so tests can substitute an in-memory Connection double.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *config) error {
		c.transportFactory = factory
		return nil
	}
}
