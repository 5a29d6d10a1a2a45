package relay

import (
	"context"
	"errors"

	"node.town/uam/asr"
	"node.town/uam/status"
	"node.town/uam/transcript"
)

type session struct {
	id  string
	mux *mux
	agg *transcript.Aggregator

	viewer      asr.Conn
	viewerState status.LinkState

	// roster outlives channel instances so finished speakers stay listed.
	roster map[string]*participant
}

type participant struct {
	speakerID string
	name      string
	state     status.ChannelState
	seen      uint64
	current   *speakerChannel
}

func (s *session) statusInput() status.SessionInput {
	in := status.SessionInput{
		StreamID:     s.id,
		Viewer:       s.viewerState,
		Participants: make([]status.Participant, 0, len(s.roster)),
	}
	for _, p := range s.roster {
		in.Participants = append(in.Participants, status.Participant{
			SpeakerID: p.speakerID,
			Name:      p.name,
			State:     p.state,
			Seen:      p.seen,
		})
	}
	return in
}

func (r *Relay) onSessionStart(streamID string) {
	if _, ok := r.sessions[streamID]; ok {
		r.log.Debug("session already active", "stream", streamID)
		return
	}

	s := &session{
		id:          streamID,
		mux:         newMux(),
		agg:         transcript.NewAggregator(r.cfg.MaxLines),
		viewerState: status.LinkDisconnected,
		roster:      make(map[string]*participant),
	}
	r.sessions[streamID] = s
	r.dirty = true
	r.log.Info("session start", "stream", streamID)

	go r.dialViewer(s)
}

func (r *Relay) dialViewer(s *session) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.DialTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(ctx, asr.RoleViewer)
	r.post(viewerDialed{s: s, conn: conn, err: err})
}

func (r *Relay) onSessionStop(streamID string) {
	s, ok := r.sessions[streamID]
	if !ok {
		r.log.Debug("stop for unknown stream", "stream", streamID)
		return
	}
	r.teardown(s, "stop")
}

func (r *Relay) onUpstreamLost() {
	r.stopAll("upstream lost")
}

func (r *Relay) stopAll(reason string) {
	for _, s := range r.sessions {
		r.teardown(s, reason)
	}
}

func (r *Relay) teardown(s *session, reason string) {
	for ch := range s.mux.all {
		r.closeChannel(ch, false)
	}
	clear(s.mux.channels)

	if s.viewer != nil {
		go s.viewer.Close()
		s.viewer = nil
	}
	s.viewerState = status.LinkDisconnected

	delete(r.sessions, s.id)
	r.dirty = true
	r.log.Info("session stop", "stream", s.id, "reason", reason)
}

func (r *Relay) live(s *session) bool {
	return r.sessions[s.id] == s
}

func (r *Relay) handleViewerDialed(ev viewerDialed) {
	s := ev.s
	if !r.live(s) {
		if ev.conn != nil {
			go ev.conn.Close()
		}
		return
	}

	if ev.err != nil {
		r.log.Warn("viewer dial failed", "stream", s.id, "error", ev.err)
		s.viewerState = status.LinkError
		r.dirty = true
		return
	}

	s.viewer = ev.conn
	s.viewerState = status.LinkConnected
	r.dirty = true
	r.log.Info("viewer connected", "stream", s.id)

	go r.readViewer(s, ev.conn)
}

func (r *Relay) readViewer(s *session, conn asr.Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			r.post(viewerClosed{s: s, err: err})
			return
		}
		r.post(viewerMessage{s: s, data: data})
	}
}

func (r *Relay) handleViewerMessage(ev viewerMessage) {
	s := ev.s
	if !r.live(s) {
		return
	}

	for _, msg := range asr.ParseMessage(ev.data) {
		switch m := msg.(type) {
		case asr.FinalizedLines:
			r.metrics.ViewerMessages.WithLabelValues("lines").Inc()
			s.agg.AddLines(m.UserName, m.Lines)
		case asr.BufferUpdate:
			r.metrics.ViewerMessages.WithLabelValues("buffer").Inc()
			s.agg.SetBuffer(m.UserName, m.Text)
		case asr.SegmentBoundary:
			r.metrics.ViewerMessages.WithLabelValues("boundary").Inc()
			s.agg.Boundary(m.UserName)
		case asr.Unrecognized:
			r.metrics.UnrecognizedViewer.Inc()
			r.log.Warn("unrecognized viewer message", "stream", s.id, "reason", m.Reason)
			continue
		}
		r.dirty = true
	}
}

func (r *Relay) handleViewerClosed(ev viewerClosed) {
	s := ev.s
	if !r.live(s) || s.viewer == nil {
		return
	}

	s.viewer = nil
	if errors.Is(ev.err, asr.ErrClosed) {
		s.viewerState = status.LinkDisconnected
		r.log.Info("viewer closed", "stream", s.id)
	} else {
		s.viewerState = status.LinkError
		r.log.Warn("viewer lost", "stream", s.id, "error", ev.err)
	}
	r.dirty = true
}
