package relay

import (
	"time"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

// streamSendTimeout bounds how long a streaming delta waits for queue space.
const streamSendTimeout = 120 * time.Millisecond

// sender queues messages for the connection's single websocket writer.
// Streaming deltas may be dropped under back-pressure; lifecycle messages
// wait until they are queued or the connection ends.
type sender struct {
	out     chan<- protocol.ServerMessage
	done    <-chan struct{}
	metrics *observability.Metrics
}

func (s *sender) send(msg protocol.ServerMessage) bool {
	msgType := string(msg.MessageType())

	select {
	case s.out <- msg:
		s.metrics.ObserveOutboundMessage(msgType, "delivered")
		return true
	default:
	}

	var expired <-chan time.Time
	if !isCritical(msg) {
		timer := time.NewTimer(streamSendTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case s.out <- msg:
		s.metrics.ObserveOutboundMessage(msgType, "delivered")
		return true
	case <-s.done:
		s.metrics.ObserveOutboundMessage(msgType, "closed")
		return false
	case <-expired:
		s.metrics.ObserveOutboundMessage(msgType, "dropped")
		return false
	}
}

func (s *sender) error(code, message string) {
	s.send(protocol.NewError(code, message))
}

func isCritical(msg protocol.ServerMessage) bool {
	switch msg.(type) {
	case protocol.AudioDelta, protocol.ResponseTextDelta:
		return false
	default:
		return true
	}
}
