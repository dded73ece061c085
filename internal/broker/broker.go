// Package broker implements the DevConsole broker: the central process that
// accepts peer connections, allocates node and channel identifiers, routes
// publish/subscribe traffic, and tears down state on disconnect.
//
// The broker is modelled as a single actor goroutine (Run) that owns all
// shared state — the connections table, the channel table, and both id
// counters. Every other goroutine (one reader per session, one pump per
// session) only ever talks to the actor over channels, so the state is
// never touched from more than one goroutine and is never held across
// blocking socket I/O.
package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// Metrics is the subset of counters the broker reports. A no-op
// implementation is fine for tests; internal/metrics provides the
// Prometheus-backed one used by cmd/devconsoled.
type Metrics interface {
	SessionConnected()
	SessionDisconnected()
	ChannelOpened()
	ChannelClosed()
	EventDispatched(eventType protocol.EventType)
	BroadcastDropped()
}

type noopMetrics struct{}

func (noopMetrics) SessionConnected()                          {}
func (noopMetrics) SessionDisconnected()                       {}
func (noopMetrics) ChannelOpened()                             {}
func (noopMetrics) ChannelClosed()                              {}
func (noopMetrics) EventDispatched(_ protocol.EventType) {}
func (noopMetrics) BroadcastDropped()                           {}

// NoopMetrics is a Metrics implementation that discards everything.
var NoopMetrics Metrics = noopMetrics{}

type acceptRequest struct {
	writer Writer
	resp   chan *Session
}

type sessionEvent struct {
	session *Session
	event   protocol.Event
}

type query struct {
	fn   func()
	done chan struct{}
}

// Broker is the central pub/sub state owner. Zero value is not usable; use
// New.
type Broker struct {
	logger  *zap.Logger
	metrics Metrics

	accept     chan acceptRequest
	unregister chan *Session
	inbound    chan sessionEvent
	queries    chan query

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned exclusively by Run; only Shutdown touches them from another
	// goroutine, and only after Run has exited.
	sessions      map[protocol.NodeID]*Session
	channels      map[protocol.ChannelID]*Channel
	nextNodeID    protocol.NodeID
	nextChannelID protocol.ChannelID
}

// New constructs a Broker. Call Run in its own goroutine to start it.
func New(logger *zap.Logger, metrics Metrics) *Broker {
	if metrics == nil {
		metrics = NoopMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		logger:        logger,
		metrics:       metrics,
		accept:        make(chan acceptRequest),
		unregister:    make(chan *Session, 64),
		inbound:       make(chan sessionEvent, 256),
		queries:       make(chan query),
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[protocol.NodeID]*Session),
		channels:      make(map[protocol.ChannelID]*Channel),
		nextNodeID:    1,
		nextChannelID: 1,
	}
}

// Run is the actor loop. It blocks until Shutdown is called; run it in its
// own goroutine.
func (b *Broker) Run() {
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case req := <-b.accept:
			session := b.doAccept(req.writer)
			req.resp <- session

		case session := <-b.unregister:
			b.doDisconnect(session)

		case se := <-b.inbound:
			b.doDispatch(se.session, se.event)

		case q := <-b.queries:
			q.fn()
			close(q.done)
		}
	}
}

// Accept allocates a NodeID, constructs and registers a Session around
// writer, sends it the mandatory first NodeIDNotification, and returns the
// Session so the caller's transport layer can start reading from it.
func (b *Broker) Accept(writer Writer) *Session {
	req := acceptRequest{writer: writer, resp: make(chan *Session, 1)}
	select {
	case b.accept <- req:
	case <-b.ctx.Done():
		return nil
	}
	return <-req.resp
}

func (b *Broker) doAccept(writer Writer) *Session {
	id := b.nextNodeID
	b.nextNodeID++

	session := NewSession(id, writer, b.logger)
	session.SetDropHook(b.metrics.BroadcastDropped)
	b.sessions[id] = session
	b.metrics.SessionConnected()

	b.logger.Info("session connected", zap.Uint64("node_id", uint64(id)))

	// Contract: the node-id notification is the first event on the wire.
	session.SendEvent(protocol.NewNodeIDNotification(id))

	return session
}

// Dispatch hands one decoded inbound event to the actor for processing.
// Called from the session's reader goroutine; blocks if the actor is busy,
// which is fine since it only ever throttles that one reader.
func (b *Broker) Dispatch(session *Session, event protocol.Event) {
	select {
	case b.inbound <- sessionEvent{session: session, event: event}:
	case <-b.ctx.Done():
	}
}

// Disconnect removes session and revokes every channel it supplied. Must be
// called exactly once per session, from the transport layer's read loop,
// on read error or clean EOF.
func (b *Broker) Disconnect(session *Session) {
	select {
	case b.unregister <- session:
	case <-b.ctx.Done():
	}
}

func (b *Broker) doDisconnect(session *Session) {
	id := session.NodeID()

	// The session is removed before the channels it supplied. Both removals
	// happen within this one actor step, so no broadcast runs in between and
	// none can target this session once its writer is closed.
	if _, ok := b.sessions[id]; !ok {
		return
	}
	delete(b.sessions, id)
	b.metrics.SessionDisconnected()

	for cid, ch := range b.channels {
		if ch.SuppliedBy == id {
			delete(b.channels, cid)
			b.metrics.ChannelClosed()
		}
	}

	session.Close()
	b.logger.Info("session disconnected", zap.Uint64("node_id", uint64(id)))
}

// withState runs fn synchronously inside the actor goroutine and blocks
// until it completes. Used for read-only snapshots (stats, channel list)
// that don't belong in the hot dispatch path.
func (b *Broker) withState(fn func()) {
	q := query{fn: fn, done: make(chan struct{})}
	select {
	case b.queries <- q:
		<-q.done
	case <-b.ctx.Done():
	}
}

// ChannelIDs returns a snapshot of every currently open channel id.
func (b *Broker) ChannelIDs() []protocol.ChannelID {
	var ids []protocol.ChannelID
	b.withState(func() {
		ids = make([]protocol.ChannelID, 0, len(b.channels))
		for id := range b.channels {
			ids = append(ids, id)
		}
	})
	return ids
}

// ChannelByID returns a snapshot of a single channel, if it still exists.
func (b *Broker) ChannelByID(id protocol.ChannelID) (Channel, bool) {
	var ch Channel
	var ok bool
	b.withState(func() {
		if c, found := b.channels[id]; found {
			ch, ok = *c, true
		}
	})
	return ch, ok
}

// Stats is a point-in-time snapshot of broker occupancy, used by the
// ambient /debug/stats HTTP endpoint. It is not part of the wire protocol.
type Stats struct {
	Sessions int
	Channels int
}

// Stats returns a snapshot of current broker occupancy.
func (b *Broker) Stats() Stats {
	var s Stats
	b.withState(func() {
		s.Sessions = len(b.sessions)
		s.Channels = len(b.channels)
	})
	return s
}

// Shutdown stops the actor loop and closes every live session. It blocks
// until the actor goroutine has exited.
func (b *Broker) Shutdown() {
	b.cancel()
	b.wg.Wait()
	// Sessions are closed outside the actor loop since it has already
	// exited; this is the only time session state is touched from another
	// goroutine, and only because the actor is guaranteed dead.
	for _, s := range b.sessions {
		s.Close()
	}
}
