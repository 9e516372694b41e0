package signalr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/google/uuid"
)

// HubConnection is the top-level entity: it owns exactly one transport
// session at a time, one invocation registry, one handler table, three
// timers, and a URI. It is mutated only through its public operations and
// internal callbacks.
type HubConnection struct {
	uri string
	cfg *config

	sessionID string
	info      StructuredLogger
	dbg       StructuredLogger

	mu        sync.Mutex
	state     ConnectionState
	transport Connection

	stopRequested atomic.Bool

	invocations    *invocationRegistry
	handlers       *handlerTable
	timers         *timerSet
	pendingRecords [][]byte

	eventMx              sync.Mutex
	closedHandlers       []func(error)
	reconnectingHandlers []func(error)
	reconnectedHandlers  []func(string)
}

// NewHubConnection builds a HubConnection targeting uri, which is normalized
// per the URI-normalization rule (http->ws, https->wss, scheme detection is
// case-insensitive, everything else passes through unchanged). The
// connection starts Disconnected; call Start to open the transport.
func NewHubConnection(uri string, opts ...Option) (*HubConnection, error) {
	cfg := newConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	sessionID := uuid.NewString()
	info := log.WithPrefix(cfg.info, "session", sessionID)
	dbg := log.WithPrefix(cfg.dbg, "session", sessionID)
	return &HubConnection{
		uri:         normalizeURI(uri),
		cfg:         cfg,
		sessionID:   sessionID,
		info:        info,
		dbg:         dbg,
		state:       Disconnected,
		invocations: newInvocationRegistry(),
		handlers:    newHandlerTable(info),
		timers:      newTimerSet(),
	}, nil
}

// normalizeURI rewrites http(s) schemes to ws(s); any other scheme passes
// through unchanged. Scheme detection is case-insensitive but the rest of
// the URI is left untouched.
func normalizeURI(uri string) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return "wss://" + uri[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return "ws://" + uri[len("http://"):]
	default:
		return uri
	}
}

// State returns the connection's current ConnectionState.
func (h *HubConnection) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SessionID is the random correlation id assigned at construction, stable
// across reconnects and attached to every log line this connection emits.
func (h *HubConnection) SessionID() string {
	return h.sessionID
}

// OnClosed registers a callback fired exactly once per logical session
// (unless the session was reconnected), never while holding connection
// state.
func (h *HubConnection) OnClosed(fn func(err error)) {
	h.eventMx.Lock()
	defer h.eventMx.Unlock()
	h.closedHandlers = append(h.closedHandlers, fn)
}

// OnReconnecting registers a callback fired when the server permits
// reconnect and the backoff loop is entered.
func (h *HubConnection) OnReconnecting(fn func(err error)) {
	h.eventMx.Lock()
	defer h.eventMx.Unlock()
	h.reconnectingHandlers = append(h.reconnectingHandlers, fn)
}

// OnReconnected registers a callback fired when a reconnect attempt
// succeeds.
func (h *HubConnection) OnReconnected(fn func(newConnectionID string)) {
	h.eventMx.Lock()
	defer h.eventMx.Unlock()
	h.reconnectedHandlers = append(h.reconnectedHandlers, fn)
}

func (h *HubConnection) fireClosed(err error) {
	h.eventMx.Lock()
	handlers := append([]func(error){}, h.closedHandlers...)
	h.eventMx.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (h *HubConnection) fireReconnecting(err error) {
	h.eventMx.Lock()
	handlers := append([]func(error){}, h.reconnectingHandlers...)
	h.eventMx.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (h *HubConnection) fireReconnected() {
	h.eventMx.Lock()
	handlers := append([]func(string){}, h.reconnectedHandlers...)
	h.eventMx.Unlock()
	for _, fn := range handlers {
		fn("")
	}
}

// On registers callback for methodName, per the handler-table contract. See
// handlers.go for the duplicate-registration policy.
func (h *HubConnection) On(methodName string, callback interface{}) error {
	return h.handlers.on(methodName, callback)
}

// Start opens the transport, performs the handshake, and blocks the caller
// until the handshake completes or the handshake watchdog expires. On
// success a background goroutine takes over running the connected session
// (and any subsequent reconnect attempts); on failure the connection is left
// Disconnected and Closed fires.
func (h *HubConnection) Start() error {
	h.mu.Lock()
	if h.state != Disconnected {
		state := h.state
		h.mu.Unlock()
		err := fmt.Errorf("Start called while not Disconnected (state=%v)", state)
		_ = h.info.Log("evt", "start", "error", err)
		return err
	}
	h.state = Connecting
	h.mu.Unlock()

	if err := h.connectOnce(); err != nil {
		h.mu.Lock()
		h.state = Disconnected
		h.mu.Unlock()
		h.fireClosed(err)
		return err
	}

	h.mu.Lock()
	h.state = Connected
	h.mu.Unlock()

	go h.run()
	return nil
}

// Stop is a no-op when already Disconnected. Otherwise it sends a Close
// record (with errorMessage if non-empty) and hard-closes the transport.
// Stop never triggers reconnect.
func (h *HubConnection) Stop(errorMessage ...string) error {
	h.mu.Lock()
	if h.state == Disconnected {
		h.mu.Unlock()
		return nil
	}
	transport := h.transport
	h.mu.Unlock()

	h.stopRequested.Store(true)
	msg := ""
	if len(errorMessage) > 0 {
		msg = errorMessage[0]
	}
	if transport != nil {
		_ = transport.Send(encodeClose(msg))
		_ = transport.Close()
	}
	return nil
}

// SendCore is the fire-and-forget invocation: no invocationId, no ticket.
func (h *HubConnection) SendCore(method string, args ...interface{}) error {
	transport, state := h.currentTransport()
	if state != Connected {
		err := fmt.Errorf("send while not connected (state=%v)", state)
		_ = h.info.Log("evt", "send", "error", err, "target", method)
		return err
	}
	body, err := encodeInvocation("", method, args)
	if err != nil {
		return err
	}
	if err := transport.Send(body); err != nil {
		_ = h.info.Log("evt", "send", "error", err, "target", method)
		return err
	}
	h.timers.keepAlive.reset(h.cfg.keepAliveInterval)
	return nil
}

// InvokeCoreAsync registers a ticket, sends the invocation, and returns a
// Handle. timeout==0 means ServerTimeout; timeout<0 means infinite.
func (h *HubConnection) InvokeCoreAsync(method string, timeout time.Duration, args ...interface{}) *Handle {
	transport, state := h.currentTransport()
	effectiveTimeout := timeout
	if timeout == 0 {
		effectiveTimeout = h.cfg.serverTimeout
	} else if timeout < 0 {
		effectiveTimeout = 0 // Handle.wait treats <=0 as "no timeout"
	}
	if state != Connected {
		err := fmt.Errorf("invoke while not connected (state=%v)", state)
		_ = h.info.Log("evt", "invoke", "error", err, "target", method)
		return newFailedHandle(err)
	}

	id, handle := h.invocations.begin(effectiveTimeout)
	body, err := encodeInvocation(id, method, args)
	if err != nil {
		h.invocations.fail(id, err.Error())
		return handle
	}
	if err := transport.Send(body); err != nil {
		_ = h.info.Log("evt", "invoke", "error", err, "target", method)
		h.invocations.fail(id, err.Error())
		return handle
	}
	h.timers.keepAlive.reset(h.cfg.keepAliveInterval)
	return handle
}

// InvokeCore is the synchronous flavor of InvokeCoreAsync.
func (h *HubConnection) InvokeCore(method string, timeout time.Duration, args ...interface{}) (json.RawMessage, error) {
	return h.InvokeCoreAsync(method, timeout, args...).Value()
}

// Invoke calls a method on the server and returns a channel that delivers
// exactly one InvokeResult. It uses the default (ServerTimeout) wait, the
// same as InvokeCoreAsync with timeout==0.
func (h *HubConnection) Invoke(method string, args ...interface{}) <-chan InvokeResult {
	return resultChan(h.InvokeCoreAsync(method, 0, args...))
}

func (h *HubConnection) currentTransport() (Connection, ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport, h.state
}

func (h *HubConnection) newTransport() Connection {
	if h.cfg.transportFactory != nil {
		return h.cfg.transportFactory(h.uri, h.cfg.headers, h.cfg.tlsConfig)
	}
	return NewWebSocketConnection(h.uri, h.cfg.headers, h.cfg.tlsConfig)
}

// connectOnce runs exactly one Connecting attempt: dial, send the handshake,
// arm the handshake watchdog, and wait for the handshake reply. On success
// it arms the keep-alive and server watchdog and stores any records that
// arrived in the same transport payload as the handshake reply so run() can
// dispatch them as the first order of business.
func (h *HubConnection) connectOnce() error {
	transport := h.newTransport()
	if err := transport.Connect(); err != nil {
		_ = h.info.Log("evt", "connect", "error", err)
		return err
	}
	if err := transport.Send(encodeHandshake()); err != nil {
		_ = transport.Close()
		_ = h.info.Log("evt", "handshake send", "error", err)
		return err
	}
	_ = h.dbg.Log("evt", "handshake sent")
	h.timers.armHandshake(h.cfg.handshakeTimeout)

	select {
	case payload, ok := <-transport.Inbound():
		if !ok {
			_ = transport.Close()
			return errors.New("transport closed before handshake reply")
		}
		records, terminated := splitRecords(payload)
		if !terminated {
			_ = h.info.Log("evt", "handshake", "msg", "non-SignalR message")
		}
		if len(records) == 0 {
			_ = transport.Close()
			return errors.New("empty handshake reply")
		}
		var resp handshakeResponse
		if err := json.Unmarshal(records[0], &resp); err != nil {
			_ = transport.Close()
			return fmt.Errorf("malformed handshake reply: %w", err)
		}
		if resp.Error != "" {
			_ = h.info.Log("evt", "handshake", "error", resp.Error)
			_ = transport.Close()
			return errors.New(resp.Error)
		}
		_ = h.dbg.Log("evt", "handshake received")
		h.mu.Lock()
		h.transport = transport
		h.mu.Unlock()
		h.timers.armConnected(h.cfg.keepAliveInterval, h.cfg.serverTimeout)
		h.pendingRecords = records[1:]
		return nil
	case <-h.timers.handshakeWatchdog.C:
		_ = transport.Close()
		err := fmt.Errorf("handshake timed out after %v", h.cfg.handshakeTimeout)
		_ = h.info.Log("evt", "handshake", "error", err)
		return err
	case <-transport.Done():
		err := transport.Err()
		if err == nil {
			err = errors.New("transport closed before handshake reply")
		}
		return err
	}
}

// sessionResult describes how a connected session ended.
type sessionResult struct {
	stopped        bool
	allowReconnect bool
	err            error
}

// run is the supervisor goroutine: it runs one connected session at a time
// and, when the session ends with server-permitted reconnect (and the
// caller opted in via WithReconnect), drives the fixed backoff loop before
// running another session.
func (h *HubConnection) run() {
	for {
		result := h.runSession()
		h.stopRequested.Store(false)

		switch {
		case result.stopped:
			h.setState(Disconnected)
			h.fireClosed(nil)
			return
		case result.allowReconnect && h.cfg.reconnect:
			h.setState(Reconnecting)
			h.fireReconnecting(result.err)
			if h.reconnectLoop() {
				h.setState(Connected)
				h.fireReconnected()
				continue
			}
			h.setState(Disconnected)
			h.fireClosed(fmt.Errorf("Reconnect failed with message: %v", result.err))
			return
		default:
			h.setState(Disconnected)
			h.fireClosed(result.err)
			return
		}
	}
}

func (h *HubConnection) setState(s ConnectionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// reconnectLoop drives the configured backoff.BackOff through a
// backoff.Ticker, attempting connectOnce on every tick after the first,
// grounded on bastionzero-bzero's connect() method. It returns true as soon
// as an attempt reaches Connected.
func (h *HubConnection) reconnectLoop() bool {
	b := h.cfg.backOffFactory()
	ticker := backoff.NewTicker(b)
	defer ticker.Stop()
	// backoff.Ticker ticks once immediately, before it first consults
	// NextBackOff. That tick is skipped so attempts land at the cumulative
	// NextBackOff() offsets (0, 2s, 10s, 30s for the default schedule).
	<-ticker.C
	for range ticker.C {
		if err := h.connectOnce(); err == nil {
			return true
		}
	}
	return false
}

// runSession processes inbound records and timer fires while Connected,
// until the session ends for any reason, then performs the hard-close
// cleanup (detach, dispose timers, fail outstanding invocations) before
// returning.
func (h *HubConnection) runSession() sessionResult {
	h.mu.Lock()
	transport := h.transport
	h.mu.Unlock()

	result := h.dispatchPending()
	if result != nil {
		return h.endSession(transport, *result)
	}

	for {
		select {
		case payload, ok := <-transport.Inbound():
			if !ok {
				return h.endSession(transport, h.transportDeadResult(transport))
			}
			if r := h.processPayload(payload); r != nil {
				return h.endSession(transport, *r)
			}
			h.timers.serverWatchdog.reset(h.cfg.serverTimeout)
		case <-h.timers.keepAlive.C:
			if err := transport.Send(encodePing()); err != nil {
				_ = h.info.Log("evt", "keepalive", "error", err)
			}
			h.timers.keepAlive.reset(h.cfg.keepAliveInterval)
		case <-h.timers.serverWatchdog.C:
			return h.endSession(transport, sessionResult{err: errors.New("server timed out")})
		case <-transport.Done():
			return h.endSession(transport, h.transportDeadResult(transport))
		}
	}
}

func (h *HubConnection) transportDeadResult(transport Connection) sessionResult {
	if h.stopRequested.Load() {
		return sessionResult{stopped: true}
	}
	err := transport.Err()
	if err == nil {
		err = errors.New("transport closed")
	}
	return sessionResult{err: err}
}

// dispatchPending processes records that arrived alongside the handshake
// reply before run()'s own loop started reading.
func (h *HubConnection) dispatchPending() *sessionResult {
	records := h.pendingRecords
	h.pendingRecords = nil
	for _, record := range records {
		if r := h.dispatchRecord(record); r != nil {
			return r
		}
	}
	return nil
}

// processPayload splits one transport delivery into records and dispatches
// each in order; it stops at the first record that ends the session.
func (h *HubConnection) processPayload(payload []byte) *sessionResult {
	records, terminated := splitRecords(payload)
	if !terminated {
		_ = h.info.Log("evt", "dispatch", "msg", "non-SignalR message")
	}
	for _, record := range records {
		if r := h.dispatchRecord(record); r != nil {
			return r
		}
	}
	return nil
}

func (h *HubConnection) dispatchRecord(record []byte) *sessionResult {
	message, err := decodeRecord(record)
	if err != nil {
		_ = h.info.Log("evt", "dispatch", "error", err)
		return nil
	}
	switch m := message.(type) {
	case invocationMessage:
		if m.Type == typeStreamInvocation {
			_ = h.dbg.Log("evt", "recv", "msg", "stream invocation ignored", "target", m.Target)
			return nil
		}
		_ = h.dbg.Log("evt", "recv", "target", m.Target)
		h.handlers.dispatch(m)
	case completionMessage:
		_ = h.dbg.Log("evt", "recv", "invocationId", m.InvocationID)
		if m.Error != "" {
			h.invocations.fail(m.InvocationID, m.Error)
		} else {
			h.invocations.complete(m.InvocationID, m.Result)
		}
	case streamItemMessage, cancelInvocationMessage:
		_ = h.dbg.Log("evt", "recv", "msg", "streaming record ignored")
	case pingMessage:
		// both directions; no payload beyond type, nothing to do on receipt
	case closeMessage:
		reason := ""
		if m.Error != nil {
			reason = *m.Error
		}
		_ = h.dbg.Log("evt", "recv", "msg", "close", "error", reason)
		if m.AllowReconnect {
			var err error
			if reason != "" {
				err = errors.New(reason)
			}
			return &sessionResult{allowReconnect: true, err: err}
		}
		var err error
		if reason != "" {
			err = errors.New(reason)
		}
		return &sessionResult{err: err}
	default:
		_ = h.info.Log("evt", "dispatch", "error", "unknown message type", "record", string(record))
	}
	return nil
}

// endSession performs the hard-close cleanup common to every way a session
// can end: detach the transport, dispose timers, and fail every outstanding
// invocation.
func (h *HubConnection) endSession(transport Connection, result sessionResult) sessionResult {
	h.mu.Lock()
	h.transport = nil
	h.mu.Unlock()
	h.timers.disposeAll()
	_ = transport.Close()
	h.invocations.closeAll("HubConnection was closed")
	return result
}
