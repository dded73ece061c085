package broker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// outboxSize bounds each session's outbound queue. A full queue drops its
// oldest pending message rather than block the broadcaster.
const outboxSize = 256

// Writer is the transport-facing half of a session: something that can
// serialise and send one Event at a time. The broker and the dispatcher
// never touch a transport directly, only this interface, so the broker's
// shared state is never held across blocking I/O.
type Writer interface {
	WriteEvent(protocol.Event) error
	Close() error
}

// Session is one connected peer: its outbound writer, its NodeID, and the
// set of channels it is listening on. The broker holds a reference to
// invoke Session's own operations; it never reaches into Session's fields.
type Session struct {
	id     protocol.NodeID
	writer Writer
	logger *zap.Logger

	mu        sync.RWMutex
	listening map[protocol.ChannelID]struct{}

	outbox chan protocol.Event
	done   chan struct{}
	once   sync.Once

	onDrop func()
}

// NewSession constructs a Session bound to writer and starts its delivery
// pump. Call Close to stop the pump and release the writer.
func NewSession(id protocol.NodeID, writer Writer, logger *zap.Logger) *Session {
	s := &Session{
		id:        id,
		writer:    writer,
		logger:    logger,
		listening: make(map[protocol.ChannelID]struct{}),
		outbox:    make(chan protocol.Event, outboxSize),
		done:      make(chan struct{}),
	}
	go s.pump()
	return s
}

// NodeID returns the session's node id. Read-only, immutable after creation.
func (s *Session) NodeID() protocol.NodeID {
	return s.id
}

// IsListening reports whether the session is currently listening on channel.
func (s *Session) IsListening(channel protocol.ChannelID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.listening[channel]
	return ok
}

// ListenResult is the outcome of a Listen call.
type ListenResult int

const (
	ListenOK ListenResult = iota
	ListenAlreadyListening
)

// Listen adds channel to the session's listening set. It is idempotent:
// calling it again for a channel already being listened to reports
// ListenAlreadyListening but does not create a duplicate delivery path —
// the dispatcher reports success=true for both outcomes.
func (s *Session) Listen(channel protocol.ChannelID) ListenResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listening[channel]; ok {
		return ListenAlreadyListening
	}
	s.listening[channel] = struct{}{}
	return ListenOK
}

// SendEvent enqueues an event for delivery. It never blocks: if the
// session's outbox is full, the oldest pending event is dropped to make
// room, and onDrop (if set) is invoked for metrics.
func (s *Session) SendEvent(e protocol.Event) {
	select {
	case s.outbox <- e:
		return
	default:
	}

	// Outbox full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-s.outbox:
		if s.onDrop != nil {
			s.onDrop()
		}
	default:
	}

	select {
	case s.outbox <- e:
	default:
		// Another sender filled the freed slot first; e is dropped silently
		// rather than spinning.
	}
}

// SetDropHook installs a callback invoked whenever SendEvent drops a queued
// event to make room. Used to feed the broker's metrics.
func (s *Session) SetDropHook(f func()) {
	s.onDrop = f
}

// pump is the session's single writer goroutine: the only thing allowed to
// call writer.WriteEvent, so writes are always serialised per session.
func (s *Session) pump() {
	for {
		select {
		case e, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.writer.WriteEvent(e); err != nil {
				s.logger.Warn("session write failed, closing", zap.Uint64("node_id", uint64(s.id)), zap.Error(err))
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the delivery pump and closes the underlying writer. Safe to
// call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.writer.Close()
	})
}
