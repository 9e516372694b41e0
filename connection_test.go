package signalr

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// queuedTransportFactory hands out the given fakeConnections in order, one
// per connectOnce attempt (initial connect, then one per reconnect try),
// repeating the last one if more attempts happen than were queued.
func queuedTransportFactory(conns ...*fakeConnection) TransportFactory {
	i := 0
	return func(uri string, headers http.Header, tlsConfig *tls.Config) Connection {
		c := conns[i]
		if i < len(conns)-1 {
			i++
		}
		return c
	}
}

// fastBackOff lets reconnect scenarios exercise the backoff loop without
// waiting out the real 0/2s/10s/30s fixed schedule.
func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
}

var _ = Describe("HubConnection", func() {
	Describe("Happy start", func() {
		It("transitions Disconnected->Connecting->Connected with no events", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")

			hc, err := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))
			Expect(err).NotTo(HaveOccurred())

			var closedFired bool
			hc.OnClosed(func(error) { closedFired = true })

			Expect(hc.Start()).NotTo(HaveOccurred())
			Expect(hc.State()).To(Equal(Connected))
			Expect(closedFired).To(BeFalse())

			Expect(conn.sentCount()).To(Equal(1))
			Expect(string(conn.lastSent())).To(Equal("{\"protocol\":\"json\",\"version\":1}\x1e"))

			hc.Stop()
		})
	})

	Describe("Fire-and-forget", func() {
		It("emits the exact byte sequence for SendCore", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")
			hc, _ := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))
			Expect(hc.Start()).NotTo(HaveOccurred())

			Expect(hc.SendCore("Echo", "hi")).NotTo(HaveOccurred())

			Expect(string(conn.lastSent())).To(Equal(
				`{"type":1,"invocationId":"","target":"Echo","arguments":["hi"],"streamIds":[]}` + "\x1e"))

			hc.Stop()
		})
	})

	Describe("Blocking invoke", func() {
		It("returns the server's result", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")
			hc, _ := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))
			Expect(hc.Start()).NotTo(HaveOccurred())

			handle := hc.InvokeCoreAsync("Add", time.Second, 2, 3)
			conn.Deliver(`{"type":3,"invocationId":"0","result":5}`)

			var result int
			Expect(handle.UnmarshalResult(&result)).NotTo(HaveOccurred())
			Expect(result).To(Equal(5))

			hc.Stop()
		})

		It("surfaces a server error on the handle", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")
			hc, _ := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))
			Expect(hc.Start()).NotTo(HaveOccurred())

			handle := hc.InvokeCoreAsync("Add", time.Second, 2, 3)
			conn.Deliver(`{"type":3,"invocationId":"0","error":"boom"}`)

			err := handle.Error()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(Equal("boom"))

			hc.Stop()
		})
	})

	Describe("Server-initiated reconnect", func() {
		It("fires Reconnecting then Reconnected and resumes Connected", func() {
			first := newFakeConnection()
			first.Deliver("{}")
			second := newFakeConnection()
			second.Deliver("{}")

			hc, _ := NewHubConnection("ws://example/hub",
				WithTransportFactory(queuedTransportFactory(first, second)),
				WithReconnect(),
				WithBackOff(fastBackOff))
			Expect(hc.Start()).NotTo(HaveOccurred())

			reconnecting := make(chan error, 1)
			reconnected := make(chan string, 1)
			hc.OnReconnecting(func(err error) { reconnecting <- err })
			hc.OnReconnected(func(id string) { reconnected <- id })

			first.Deliver(`{"type":7,"allowReconnect":true,"error":"restart"}`)

			Eventually(reconnecting, time.Second).Should(Receive())
			Eventually(reconnected, time.Second).Should(Receive())
			Eventually(hc.State, time.Second).Should(Equal(Connected))

			hc.Stop()
		})
	})

	Describe("Server timeout", func() {
		It("hard-closes and fires Closed(\"server timed out\") while failing pending invocations", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")
			hc, _ := NewHubConnection("ws://example/hub",
				WithTransportFactory(queuedTransportFactory(conn)),
				WithServerTimeout(20*time.Millisecond))
			Expect(hc.Start()).NotTo(HaveOccurred())

			handle := hc.InvokeCoreAsync("Add", time.Second, 2, 3)

			closed := make(chan error, 1)
			hc.OnClosed(func(err error) { closed <- err })

			var gotErr error
			Eventually(closed, time.Second).Should(Receive(&gotErr))
			Expect(gotErr).To(HaveOccurred())
			Expect(gotErr.Error()).To(Equal("server timed out"))

			Expect(handle.Error()).To(HaveOccurred())
		})
	})

	Describe("Transport connect failure", func() {
		It("fails Start and fires Closed without ever reaching Connected", func() {
			conn := newFakeConnection()
			conn.connectErr = errFakeConnect

			hc, _ := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))

			closed := make(chan error, 1)
			hc.OnClosed(func(err error) { closed <- err })

			err := hc.Start()
			Expect(err).To(MatchError(errFakeConnect))
			Expect(hc.State()).To(Equal(Disconnected))

			var gotErr error
			Eventually(closed, time.Second).Should(Receive(&gotErr))
			Expect(gotErr).To(MatchError(errFakeConnect))
		})
	})

	Describe("Stop", func() {
		It("is idempotent and sends a clean Close record", func() {
			conn := newFakeConnection()
			conn.Deliver("{}")
			hc, _ := NewHubConnection("ws://example/hub", WithTransportFactory(queuedTransportFactory(conn)))
			Expect(hc.Start()).NotTo(HaveOccurred())

			Expect(hc.Stop()).NotTo(HaveOccurred())
			Eventually(hc.State, time.Second).Should(Equal(Disconnected))
			Expect(hc.Stop()).NotTo(HaveOccurred())

			Expect(string(conn.lastSent())).To(Equal("{\"type\":7}\x1e"))
		})
	})
})
