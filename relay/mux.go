package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"node.town/uam/asr"
	"node.town/uam/frame"
	"node.town/uam/status"
)

// dialRetryDelay holds a failed channel in the registry so a speaker whose
// backend is down does not trigger a dial per frame.
const dialRetryDelay = time.Second

// mux is one session's speaker registry.
type mux struct {
	// channels maps speaker ID to its current channel instance.
	channels map[string]*speakerChannel
	// all holds every instance not yet closed, including finished ones
	// still waiting out their grace delay.
	all map[*speakerChannel]struct{}
}

func newMux() *mux {
	return &mux{
		channels: make(map[string]*speakerChannel),
		all:      make(map[*speakerChannel]struct{}),
	}
}

type speakerChannel struct {
	id        string
	session   *session
	speakerID string
	name      string
	state     status.ChannelState

	conn     asr.Conn
	queue    chan []byte
	timer    Timer
	dialedAt time.Time
	failedAt time.Time
	closed   bool
}

// replaceable reports whether a new frame should start a fresh instance.
func (ch *speakerChannel) replaceable(now time.Time) bool {
	switch ch.state {
	case status.ChannelFinished:
		return true
	case status.ChannelError:
		return now.Sub(ch.failedAt) >= dialRetryDelay
	}
	return false
}

func (r *Relay) routeFrame(sessionID, speakerID, speakerName, payload string) {
	r.metrics.FramesRouted.Inc()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.metrics.RecordDrop(DropNoSession)
		r.log.Debug("audio for unknown session", "stream", sessionID, "speaker", speakerID)
		return
	}

	if payload == "" {
		r.endOfSpeech(s, speakerID)
		return
	}

	data, err := frame.Decode(payload)
	if err != nil {
		r.metrics.RecordDrop(DropDecode)
		r.log.Warn("dropping frame", "stream", sessionID, "speaker", speakerID, "error", err)
		return
	}

	ch := s.mux.channels[speakerID]
	if ch != nil && ch.replaceable(r.clock.Now()) {
		delete(s.mux.channels, speakerID)
		ch = nil
	}
	if ch == nil {
		ch = r.openChannel(s, speakerID, speakerName)
	} else if speakerName != "" && speakerName != ch.name {
		ch.name = speakerName
		s.roster[speakerID].name = speakerName
		r.dirty = true
	}

	if ch.state != status.ChannelForwarding {
		r.metrics.RecordDrop(DropNotForwarding)
		return
	}

	select {
	case ch.queue <- data:
		r.metrics.RecordForward(len(data))
	default:
		r.metrics.RecordDrop(DropQueueFull)
		r.log.Warn("send queue full, dropping frame", "stream", sessionID, "speaker", speakerID)
	}
}

func (r *Relay) openChannel(s *session, speakerID, speakerName string) *speakerChannel {
	ch := &speakerChannel{
		id:        uuid.NewString(),
		session:   s,
		speakerID: speakerID,
		name:      speakerName,
		state:     status.ChannelConnecting,
		queue:     make(chan []byte, r.cfg.SendQueue),
		dialedAt:  r.clock.Now(),
	}
	s.mux.channels[speakerID] = ch
	s.mux.all[ch] = struct{}{}

	p, ok := s.roster[speakerID]
	if !ok {
		p = &participant{speakerID: speakerID, seen: r.nextSeen()}
		s.roster[speakerID] = p
	}
	if speakerName != "" {
		p.name = speakerName
	}
	p.current = ch
	p.state = ch.state

	r.metrics.ChannelsOpened.Inc()
	r.dirty = true
	r.log.Info("open", "stream", s.id, "speaker", speakerID, "name", speakerName, "channel", ch.id)

	go r.dialSpeaker(ch)
	return ch
}

func (r *Relay) dialSpeaker(ch *speakerChannel) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.DialTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(ctx, asr.RoleSpeaker)
	r.post(dialDone{ch: ch, conn: conn, err: err})
}

func (r *Relay) setState(ch *speakerChannel, next status.ChannelState) {
	prev := ch.state
	ch.state = ch.state.Advance(next)
	if ch.state == prev {
		return
	}
	if p := ch.session.roster[ch.speakerID]; p != nil && p.current == ch {
		p.state = ch.state
	}
	r.dirty = true
}

func (r *Relay) handleDialDone(ev dialDone) {
	ch := ev.ch
	r.metrics.DialDuration.Observe(r.clock.Now().Sub(ch.dialedAt).Seconds())

	if ch.closed {
		if ev.conn != nil {
			go ev.conn.Close()
		}
		return
	}

	if ev.err != nil {
		r.log.Warn("speaker dial failed",
			"stream", ch.session.id,
			"speaker", ch.speakerID,
			"error", ev.err,
		)
		ch.failedAt = r.clock.Now()
		r.setState(ch, status.ChannelError)
		r.closeChannel(ch, false)
		return
	}

	if ch.state != status.ChannelConnecting {
		// Speech ended while dialing; the grace timer finishes the close.
		go ev.conn.Close()
		return
	}

	ch.conn = ev.conn
	r.setState(ch, status.ChannelForwarding)
	r.log.Info("forwarding", "stream", ch.session.id, "speaker", ch.speakerID, "channel", ch.id)

	go r.writeChannel(ch, ch.conn, ch.queue)
	go r.watchChannel(ch, ch.conn)
}

// writeChannel sends queued frames in order. Once the queue is closed and
// drained, it closes the connection.
func (r *Relay) writeChannel(ch *speakerChannel, conn asr.Conn, queue <-chan []byte) {
	for data := range queue {
		if err := conn.Send(data); err != nil {
			r.post(channelClosed{ch: ch, err: err})
			return
		}
	}
	if err := conn.Close(); err != nil {
		r.log.Debug("close", "channel", ch.id, "error", err)
	}
}

// watchChannel notices the backend closing a speaker connection.
func (r *Relay) watchChannel(ch *speakerChannel, conn asr.Conn) {
	for {
		if _, err := conn.Receive(); err != nil {
			r.post(channelClosed{ch: ch, err: err})
			return
		}
	}
}

func (r *Relay) endOfSpeech(s *session, speakerID string) {
	ch := s.mux.channels[speakerID]
	if ch == nil {
		r.log.Debug("end of speech for unknown speaker", "stream", s.id, "speaker", speakerID)
		return
	}
	if ch.state.Terminal() {
		return
	}

	if ch.state == status.ChannelForwarding {
		select {
		case ch.queue <- []byte{}:
		default:
			r.log.Warn("send queue full, dropping end marker", "stream", s.id, "speaker", speakerID)
		}
	}
	r.setState(ch, status.ChannelFinished)
	r.log.Info("finished", "stream", s.id, "speaker", speakerID, "channel", ch.id)

	ch.timer = r.clock.AfterFunc(r.cfg.GraceDelay, func() {
		r.post(graceExpired{ch: ch})
	})
}

func (r *Relay) handleGraceExpired(ev graceExpired) {
	if ev.ch.closed {
		return
	}
	r.closeChannel(ev.ch, true)
}

func (r *Relay) handleChannelClosed(ev channelClosed) {
	ch := ev.ch
	if ch.closed {
		return
	}

	if ev.err == nil || errors.Is(ev.err, asr.ErrClosed) {
		r.log.Info("backend closed channel", "stream", ch.session.id, "speaker", ch.speakerID)
		r.setState(ch, status.ChannelFinished)
	} else {
		r.log.Warn("channel lost", "stream", ch.session.id, "speaker", ch.speakerID, "error", ev.err)
		r.setState(ch, status.ChannelError)
	}
	r.closeChannel(ch, false)
}

// closeChannel is terminal and idempotent. A graceful close lets the writer
// flush what is queued before it closes the connection; otherwise the
// connection is closed at once.
func (r *Relay) closeChannel(ch *speakerChannel, graceful bool) {
	if ch.closed {
		return
	}
	ch.closed = true

	if ch.timer != nil {
		ch.timer.Stop()
	}

	m := ch.session.mux
	delete(m.all, ch)
	// A failed dial stays registered until its retry delay passes.
	if m.channels[ch.speakerID] == ch && ch.failedAt.IsZero() {
		delete(m.channels, ch.speakerID)
	}

	close(ch.queue)
	if !graceful && ch.conn != nil {
		go ch.conn.Close()
	}

	r.metrics.ChannelsClosed.WithLabelValues(ch.state.String()).Inc()
	r.dirty = true
	r.log.Debug("closed", "stream", ch.session.id, "speaker", ch.speakerID, "channel", ch.id)
}
