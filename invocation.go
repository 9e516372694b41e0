package signalr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ticket is the registry's bookkeeping entry for one outstanding invocation.
// The caller-facing handle wraps the same channels.
type ticket struct {
	resultChan chan json.RawMessage
	errChan    chan error
}

// invocationRegistry assigns invocation ids and parks callers awaiting a
// Completion record. It is a ticket map keyed by invocation id, guarded by
// its own mutex, the client-side mirror of the bookkeeping a hub needs when
// it calls back out to clients.
type invocationRegistry struct {
	mx      sync.Mutex
	nextID  uint16
	idMx    sync.Mutex
	pending map[string]ticket
}

func newInvocationRegistry() *invocationRegistry {
	return &invocationRegistry{pending: make(map[string]ticket)}
}

// newID returns the next invocation id as a decimal string of a 16-bit
// counter that wraps silently, guarded by its own mutex so id allocation
// never blocks on the backlog mutex and vice versa.
func (r *invocationRegistry) newID() string {
	r.idMx.Lock()
	id := r.nextID
	r.nextID++
	r.idMx.Unlock()
	return strconv.FormatUint(uint64(id), 10)
}

// begin allocates an id, registers a ticket for it, and returns both the id
// (to put on the wire) and a Handle the caller blocks on. The ticket is
// visible in the registry before this call returns, so a completion racing
// with the outbound send can never be dropped as "unknown id".
func (r *invocationRegistry) begin(timeout time.Duration) (id string, handle *Handle) {
	id = r.newID()
	t := ticket{
		resultChan: make(chan json.RawMessage, 1),
		errChan:    make(chan error, 1),
	}
	r.mx.Lock()
	r.pending[id] = t
	r.mx.Unlock()
	return id, &Handle{id: id, registry: r, ticket: t, timeout: timeout}
}

// complete resolves a pending ticket with a successful result.
func (r *invocationRegistry) complete(invocationID string, result json.RawMessage) {
	r.mx.Lock()
	t, ok := r.pending[invocationID]
	if ok {
		delete(r.pending, invocationID)
	}
	r.mx.Unlock()
	if !ok {
		return
	}
	t.resultChan <- result
	t.errChan <- nil
}

// fail resolves a pending ticket with an error.
func (r *invocationRegistry) fail(invocationID, errorMessage string) {
	r.mx.Lock()
	t, ok := r.pending[invocationID]
	if ok {
		delete(r.pending, invocationID)
	}
	r.mx.Unlock()
	if !ok {
		return
	}
	t.resultChan <- nil
	t.errChan <- errors.New(errorMessage)
}

// closeAll fails every outstanding ticket with reason, used on hard close.
func (r *invocationRegistry) closeAll(reason string) {
	r.mx.Lock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mx.Unlock()
	for _, id := range ids {
		r.fail(id, reason)
	}
}

// len reports the number of outstanding tickets. Diagnostic only: it is
// never consulted to refuse a new invocation.
func (r *invocationRegistry) len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.pending)
}

// Handle is returned to the caller of InvokeCoreAsync. Value blocks until
// the registry resolves the invocation or the handle's timeout elapses.
type Handle struct {
	id       string
	registry *invocationRegistry
	ticket   ticket
	timeout  time.Duration

	once   sync.Once
	value  json.RawMessage
	err    error
	waited bool
	mx     sync.Mutex
}

// Value blocks until the server completes the invocation, the registry is
// closed, or the handle's timeout elapses, then returns the raw JSON result.
// Call UnmarshalResult to decode it into a concrete type.
func (h *Handle) Value() (json.RawMessage, error) {
	h.wait()
	return h.value, h.err
}

// Error is Value without the result, for callers that only care whether the
// invocation failed.
func (h *Handle) Error() error {
	_, err := h.Value()
	return err
}

// UnmarshalResult blocks like Value, then decodes the result into out.
func (h *Handle) UnmarshalResult(out interface{}) error {
	v, err := h.Value()
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(v, out)
}

// newFailedHandle returns a Handle whose Value/Error immediately report err,
// used when InvokeCoreAsync must hand back a Handle without ever reaching
// the registry (e.g. send-while-not-connected).
func newFailedHandle(err error) *Handle {
	h := &Handle{err: err}
	h.once.Do(func() {})
	return h
}

func (h *Handle) wait() {
	h.once.Do(func() {
		var timeoutCh <-chan time.Time
		if h.timeout > 0 {
			timer := time.NewTimer(h.timeout)
			defer timer.Stop()
			timeoutCh = timer.C
		}
		select {
		case v := <-h.ticket.resultChan:
			err := <-h.ticket.errChan
			h.value, h.err = v, err
		case <-timeoutCh:
			h.registry.mx.Lock()
			delete(h.registry.pending, h.id)
			h.registry.mx.Unlock()
			h.err = fmt.Errorf("invocation %v timed out after %v", h.id, h.timeout)
		}
	})
}
