package relay

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"node.town/uam/asr"
	"node.town/uam/status"
)

const testTimeout = 2 * time.Second

type dialResult struct {
	conn asr.Conn
	err  error
}

type pendingDial struct {
	role  asr.Role
	reply chan dialResult
}

// fakeDialer hands every Dial to the test, which decides how it ends.
type fakeDialer struct {
	dials chan *pendingDial
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *pendingDial, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, role asr.Role) (asr.Conn, error) {
	p := &pendingDial{role: role, reply: make(chan dialResult, 1)}
	select {
	case d.dials <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-p.reply:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeConn struct {
	mu    sync.Mutex
	sent  [][]byte
	stuck chan struct{}

	sentCh   chan []byte
	incoming chan []byte
	remote   chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sentCh:   make(chan []byte, 256),
		incoming: make(chan []byte, 16),
		remote:   make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	stuck := c.stuck
	c.mu.Unlock()
	if stuck != nil {
		select {
		case <-stuck:
		case <-c.closed:
		}
	}

	select {
	case <-c.closed:
		return asr.ErrClosed
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	c.sentCh <- data
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case err := <-c.remote:
		return nil, err
	case <-c.closed:
		return nil, asr.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// stall makes Send block until the connection is closed.
func (c *fakeConn) stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuck = make(chan struct{})
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) waitSent(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.sentCh:
		return data
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a send")
		return nil
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for close")
	}
}

// fakeClock only moves when the test calls Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// harness drives a Relay's event loop from the test goroutine.
type harness struct {
	r      *Relay
	dialer *fakeDialer
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clock:  newFakeClock(),
	}
	h.r = New(cfg, h.dialer, log.New(io.Discard),
		WithClock(h.clock),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
	return h
}

// pumpUntil handles queued events until cond holds.
func (h *harness) pumpUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(testTimeout)
	for !cond() {
		select {
		case ev := <-h.r.events:
			h.r.handle(ev)
		case <-time.After(5 * time.Millisecond):
			// cond may depend on work done off the event loop
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// settle handles whatever arrives within a short window.
func (h *harness) settle() {
	for {
		select {
		case ev := <-h.r.events:
			h.r.handle(ev)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func (h *harness) expectDial(t *testing.T, role asr.Role) *pendingDial {
	t.Helper()
	// Dials start from goroutines launched by handled events.
	deadline := time.After(testTimeout)
	for {
		select {
		case d := <-h.dialer.dials:
			if d.role != role {
				t.Fatalf("dial role = %s, want %s", d.role, role)
			}
			return d
		case ev := <-h.r.events:
			h.r.handle(ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %s dial", role)
			return nil
		}
	}
}

func (h *harness) expectNoDial(t *testing.T) {
	t.Helper()
	h.settle()
	select {
	case d := <-h.dialer.dials:
		t.Fatalf("unexpected %s dial", d.role)
	default:
	}
}

// startSession starts streamID and connects its viewer.
func (h *harness) startSession(t *testing.T, streamID string) *fakeConn {
	t.Helper()
	h.r.StartSession(streamID)
	d := h.expectDial(t, asr.RoleViewer)
	viewer := newFakeConn()
	d.reply <- dialResult{conn: viewer}
	h.pumpUntil(t, "viewer connected", func() bool {
		s := h.r.sessions[streamID]
		return s != nil && s.viewer != nil
	})
	return viewer
}

func (h *harness) channel(streamID, speakerID string) *speakerChannel {
	s := h.r.sessions[streamID]
	if s == nil {
		return nil
	}
	return s.mux.channels[speakerID]
}

// openSpeaker routes a first frame for speakerID and completes its dial.
func (h *harness) openSpeaker(t *testing.T, streamID, speakerID, name string) *fakeConn {
	t.Helper()
	h.r.RouteFrame(streamID, speakerID, name, "AAEC")
	d := h.expectDial(t, asr.RoleSpeaker)
	conn := newFakeConn()
	d.reply <- dialResult{conn: conn}
	h.pumpUntil(t, "forwarding", func() bool {
		ch := h.channel(streamID, speakerID)
		return ch != nil && ch.state == status.ChannelForwarding
	})
	return conn
}
