package signalr

import (
	"errors"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSignalR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SignalR Client Suite")
}

// fakeConnection is an in-memory Connection double shaped for the
// channel-based Connection contract: everything the client sends lands on
// Sent, and tests push server replies onto Deliver.
type fakeConnection struct {
	mx         sync.Mutex
	Sent       [][]byte
	inbound    chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	err        error
	connectErr error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConnection) Connect() error { return f.connectErr }

func (f *fakeConnection) Send(data []byte) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.Sent = append(f.Sent, append([]byte{}, data...))
	return nil
}

func (f *fakeConnection) Inbound() <-chan []byte { return f.inbound }
func (f *fakeConnection) Done() <-chan struct{}  { return f.done }
func (f *fakeConnection) Err() error             { return f.err }

func (f *fakeConnection) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// Deliver pushes a raw transport payload to the client as if the server had
// sent it.
func (f *fakeConnection) Deliver(payload string) {
	f.inbound <- []byte(payload)
}

// Die kills the connection as if the underlying transport failed.
func (f *fakeConnection) Die(err error) {
	f.err = err
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *fakeConnection) lastSent() []byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1]
}

func (f *fakeConnection) sentCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.Sent)
}

var errFakeConnect = errors.New("fake connect failure")
