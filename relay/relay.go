// Package relay fans a meeting's per-speaker audio out to the ASR backend
// and folds the backend's transcripts back into one view per session.
//
// All session and channel state belongs to the goroutine running
// Relay.Run. Dials, sends, closes and timers happen elsewhere and report
// back as events, so nothing here takes a lock on relay state.
package relay

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"node.town/uam/asr"
	"node.town/uam/rtms"
	"node.town/uam/status"
	"node.town/uam/transcript"
)

const (
	DefaultGraceDelay  = 250 * time.Millisecond
	DefaultDialTimeout = 10 * time.Second
	DefaultSendQueue   = 150
	DefaultStreamID    = "default"

	eventQueue = 1024
)

type Config struct {
	// DefaultStream receives audio that names no session, and is started
	// whenever the upstream link comes up. Empty disables both.
	DefaultStream string
	GraceDelay    time.Duration
	DialTimeout   time.Duration
	SendQueue     int
	MaxLines      int
}

func (c Config) withDefaults() Config {
	if c.GraceDelay <= 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.MaxLines <= 0 {
		c.MaxLines = transcript.DefaultMaxLines
	}
	return c
}

// View is an immutable copy of everything a display needs.
type View struct {
	Status      status.Snapshot
	Transcripts map[string]transcript.Rendered
	UpdatedAt   time.Time
}

// Transcript returns the rendered transcript for a stream, if any.
func (v View) Transcript(streamID string) (transcript.Rendered, bool) {
	r, ok := v.Transcripts[streamID]
	return r, ok
}

// StreamIDs lists the sessions in the view in display order.
func (v View) StreamIDs() []string {
	ids := make([]string, 0, len(v.Status.Sessions))
	for _, s := range v.Status.Sessions {
		ids = append(ids, s.StreamID)
	}
	return ids
}

type Relay struct {
	cfg     Config
	dialer  asr.Dialer
	clock   Clock
	log     *log.Logger
	metrics *Metrics

	events chan event
	done   chan struct{}
	ctx    context.Context

	// Owned by the Run goroutine.
	upstream status.LinkState
	sessions map[string]*session
	seen     uint64
	dirty    bool

	view   atomic.Pointer[View]
	subsMu sync.Mutex
	subs   map[chan View]struct{}
}

type Option func(*Relay)

func WithClock(c Clock) Option {
	return func(r *Relay) { r.clock = c }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(cfg Config, dialer asr.Dialer, logger *log.Logger, opts ...Option) *Relay {
	r := &Relay{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		clock:    realClock{},
		log:      logger,
		events:   make(chan event, eventQueue),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		sessions: make(map[string]*session),
		subs:     make(map[chan View]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(prometheus.NewRegistry())
	}
	r.dirty = true
	r.publish()
	return r
}

// Run processes events until ctx is done, then tears down every session.
func (r *Relay) Run(ctx context.Context) error {
	r.ctx = ctx
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.stopAll("shutdown")
			r.publish()
			return ctx.Err()
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

func (r *Relay) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Deliver hands an upstream signal to the event loop.
func (r *Relay) Deliver(sig rtms.Signal) {
	r.post(signalEvent{sig: sig})
}

func (r *Relay) UpstreamConnected() {
	r.post(upstreamEvent{connected: true})
}

// UpstreamLost stops every session.
func (r *Relay) UpstreamLost(err error) {
	r.post(upstreamEvent{err: err})
}

func (r *Relay) StartSession(streamID string) {
	r.Deliver(rtms.Start{StreamID: streamID})
}

func (r *Relay) StopSession(streamID string) {
	r.Deliver(rtms.Stop{StreamID: streamID})
}

// RouteFrame submits one speaker's frame. An empty payload ends the
// speaker's current turn.
func (r *Relay) RouteFrame(sessionID, speakerID, speakerName, payload string) {
	r.Deliver(rtms.Audio{
		SessionID:   sessionID,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Payload:     payload,
	})
}

// View returns the latest published view.
func (r *Relay) View() View {
	return *r.view.Load()
}

// Subscribe returns a channel that receives each new view. Slow readers
// only ever see the latest one. Call cancel to unsubscribe.
func (r *Relay) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- r.View()

	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, ch)
			r.subsMu.Unlock()
		})
	}
}

func (r *Relay) handle(ev event) {
	switch ev := ev.(type) {
	case signalEvent:
		r.handleSignal(ev.sig)
	case upstreamEvent:
		r.handleUpstream(ev)
	case dialDone:
		r.handleDialDone(ev)
	case channelClosed:
		r.handleChannelClosed(ev)
	case graceExpired:
		r.handleGraceExpired(ev)
	case viewerDialed:
		r.handleViewerDialed(ev)
	case viewerMessage:
		r.handleViewerMessage(ev)
	case viewerClosed:
		r.handleViewerClosed(ev)
	}
	r.publish()
}

func (r *Relay) handleSignal(sig rtms.Signal) {
	switch s := sig.(type) {
	case rtms.Start:
		r.onSessionStart(s.StreamID)
	case rtms.Stop:
		r.onSessionStop(s.StreamID)
	case rtms.Audio:
		sessionID := s.SessionID
		if sessionID == "" {
			sessionID = r.cfg.DefaultStream
		}
		r.routeFrame(sessionID, s.SpeakerID, s.SpeakerName, s.Payload)
	case rtms.Ignored:
		r.log.Debug("ignoring signal", "kind", s.Kind)
	}
}

func (r *Relay) handleUpstream(ev upstreamEvent) {
	if ev.connected {
		r.upstream = status.LinkConnected
		r.dirty = true
		if r.cfg.DefaultStream != "" {
			r.onSessionStart(r.cfg.DefaultStream)
		}
		return
	}

	if ev.err != nil {
		r.upstream = status.LinkError
		r.metrics.UpstreamErrors.Inc()
	} else {
		r.upstream = status.LinkDisconnected
	}
	r.dirty = true
	r.onUpstreamLost()
}

func (r *Relay) nextSeen() uint64 {
	r.seen++
	return r.seen
}

func (r *Relay) publish() {
	if !r.dirty {
		return
	}
	r.dirty = false

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	in := status.Input{Upstream: r.upstream}
	transcripts := make(map[string]transcript.Rendered, len(ids))
	channels := 0
	for _, id := range ids {
		s := r.sessions[id]
		in.Sessions = append(in.Sessions, s.statusInput())
		transcripts[id] = s.agg.Render()
		channels += len(s.mux.all)
	}
	r.metrics.ActiveSessions.Set(float64(len(ids)))
	r.metrics.ActiveChannels.Set(float64(channels))

	v := &View{
		Status:      status.Project(in),
		Transcripts: transcripts,
		UpdatedAt:   r.clock.Now(),
	}
	r.view.Store(v)

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- *v:
		default:
		}
	}
}
