package signalr

import "time"

// resettableTimer wraps time.Timer with the stop-and-drain dance required to
// reset it safely. Every fire is delivered on C and consumed from the
// connection's single coordinating select loop, so no two timer callbacks
// ever mutate connection state concurrently with each other or with the
// reader.
type resettableTimer struct {
	timer *time.Timer
	C     <-chan time.Time
}

func newResettableTimer(d time.Duration) *resettableTimer {
	t := time.NewTimer(d)
	return &resettableTimer{timer: t, C: t.C}
}

func newStoppedTimer() *resettableTimer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &resettableTimer{timer: t, C: t.C}
}

// reset rearms the timer for d from now, draining a pending fire if one
// raced the reset.
func (r *resettableTimer) reset(d time.Duration) {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	r.timer.Reset(d)
}

func (r *resettableTimer) stop() {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
}

// timerSet holds the three independent scheduled callbacks from the timer
// component: keep-alive ping, server-timeout watchdog, and the one-shot
// handshake watchdog.
type timerSet struct {
	keepAlive         *resettableTimer
	serverWatchdog    *resettableTimer
	handshakeWatchdog *resettableTimer
}

func newTimerSet() *timerSet {
	return &timerSet{
		keepAlive:         newStoppedTimer(),
		serverWatchdog:    newStoppedTimer(),
		handshakeWatchdog: newStoppedTimer(),
	}
}

// armConnected starts the keep-alive and server-watchdog timers, called when
// the handshake completes and the connection becomes Connected.
func (s *timerSet) armConnected(keepAliveInterval, serverTimeout time.Duration) {
	s.keepAlive.reset(keepAliveInterval)
	s.serverWatchdog.reset(serverTimeout)
}

// armHandshake starts the one-shot handshake watchdog, called when the
// handshake request is sent.
func (s *timerSet) armHandshake(handshakeTimeout time.Duration) {
	s.handshakeWatchdog.reset(handshakeTimeout)
}

// disposeAll stops every timer, called on hard close.
func (s *timerSet) disposeAll() {
	s.keepAlive.stop()
	s.serverWatchdog.stop()
	s.handshakeWatchdog.stop()
}
