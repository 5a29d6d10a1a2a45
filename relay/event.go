package relay

import (
	"node.town/uam/asr"
	"node.town/uam/rtms"
)

// event is anything the Run goroutine reacts to. Events that name a
// channel or session carry the instance they were issued for; if the
// registry no longer holds that instance the event is stale and dropped.
type event interface {
	isEvent()
}

type signalEvent struct {
	sig rtms.Signal
}

type upstreamEvent struct {
	connected bool
	err       error
}

type dialDone struct {
	ch   *speakerChannel
	conn asr.Conn
	err  error
}

type channelClosed struct {
	ch  *speakerChannel
	err error
}

type graceExpired struct {
	ch *speakerChannel
}

type viewerDialed struct {
	s    *session
	conn asr.Conn
	err  error
}

type viewerMessage struct {
	s    *session
	data []byte
}

type viewerClosed struct {
	s   *session
	err error
}

func (signalEvent) isEvent()   {}
func (upstreamEvent) isEvent() {}
func (dialDone) isEvent()      {}
func (channelClosed) isEvent() {}
func (graceExpired) isEvent()  {}
func (viewerDialed) isEvent()  {}
func (viewerMessage) isEvent() {}
func (viewerClosed) isEvent()  {}
