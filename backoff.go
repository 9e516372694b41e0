package signalr

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectOffsets are the four fixed attempt offsets from the trigger that
// started the reconnect loop: 0, 2s, 10s, 30s. Not configurable at this
// layer; a caller wanting a different policy supplies their own
// backoff.BackOff via WithBackOff.
var reconnectOffsets = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// fixedOffsetBackOff is a backoff.BackOff that reproduces reconnectOffsets
// exactly. backoff.Ticker sleeps NextBackOff() between successive ticks, so
// the deltas it returns are the differences between consecutive offsets
// (not the offsets themselves), so that attempts land at those absolute
// times after the reconnect loop starts.
type fixedOffsetBackOff struct {
	offsets []time.Duration
	attempt int
}

// newFixedReconnectBackOff builds the library's default four-attempt
// backoff, driven through a backoff.Ticker rather than a hand-rolled sleep
// loop.
func newFixedReconnectBackOff() backoff.BackOff {
	return &fixedOffsetBackOff{offsets: reconnectOffsets}
}

func (f *fixedOffsetBackOff) NextBackOff() time.Duration {
	if f.attempt >= len(f.offsets) {
		return backoff.Stop
	}
	var delta time.Duration
	if f.attempt == 0 {
		delta = f.offsets[0]
	} else {
		delta = f.offsets[f.attempt] - f.offsets[f.attempt-1]
	}
	f.attempt++
	return delta
}

func (f *fixedOffsetBackOff) Reset() {
	f.attempt = 0
}
