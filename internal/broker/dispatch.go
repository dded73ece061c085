package broker

import (
	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// doDispatch routes one decoded inbound event to its handler. It always
// runs inside the actor goroutine.
func (b *Broker) doDispatch(session *Session, event protocol.Event) {
	b.metrics.EventDispatched(event.Type)

	switch event.Type {
	case protocol.EventChannelOpenRequest:
		b.handleChannelOpen(session, event)

	case protocol.EventChannelListenRequest:
		b.handleChannelListen(session, event)

	case protocol.EventChannelCloseRequest:
		b.logger.Debug("channel close request (no-op)",
			zap.Uint64("channel", uint64(event.Channel)),
			zap.Uint64("node_id", uint64(session.NodeID())))

	case protocol.EventChannelListRequest:
		b.handleChannelList(session)

	case protocol.EventChannelInfoRequest:
		b.handleChannelInfo(session, event)

	case protocol.EventData:
		b.broadcast(session, protocol.NewData(event.Channel, event.Data))

	case protocol.EventDataBin:
		b.broadcast(session, protocol.NewDataBin(event.Channel, event.DataBin))

	case protocol.EventNodeIDNotification,
		protocol.EventChannelOpenResponse,
		protocol.EventChannelListenResponse,
		protocol.EventChannelListResponse,
		protocol.EventChannelInfoResponse:
		b.logger.Warn("unexpected response-shaped event from client, ignoring",
			zap.String("type", string(event.Type)),
			zap.Uint64("node_id", uint64(session.NodeID())))

	default:
		b.logger.Warn("unknown event type, dropping",
			zap.String("type", string(event.Type)),
			zap.Uint64("node_id", uint64(session.NodeID())))
	}
}

func (b *Broker) handleChannelOpen(session *Session, event protocol.Event) {
	id := b.nextChannelID
	b.nextChannelID++

	b.channels[id] = &Channel{ID: id, Name: event.Name, SuppliedBy: session.NodeID()}
	b.metrics.ChannelOpened()

	session.SendEvent(protocol.NewChannelOpenResponse(id, true))
}

func (b *Broker) handleChannelListen(session *Session, event protocol.Event) {
	// Idempotent: either outcome reports success=true, since the session's
	// listening set already prevents duplicate deliveries.
	session.Listen(event.Channel)
	session.SendEvent(protocol.NewChannelListenResponse(event.Channel, true))
}

func (b *Broker) handleChannelList(session *Session) {
	ids := make([]protocol.ChannelID, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	session.SendEvent(protocol.NewChannelListResponse(ids))
}

func (b *Broker) handleChannelInfo(session *Session, event protocol.Event) {
	ch, ok := b.channels[event.Channel]
	if !ok {
		b.logger.Debug("channel info request for unknown channel",
			zap.Uint64("channel", uint64(event.Channel)))
		return
	}
	session.SendEvent(protocol.NewChannelInfoResponse(protocol.ChannelInfo{
		Channel:    ch.ID,
		Name:       ch.Name,
		SuppliedBy: ch.SuppliedBy,
	}))
}

// broadcast delivers event to every session currently listening on its
// channel, excluding the originating session. Delivery never blocks the
// actor loop: Session.SendEvent is itself non-blocking (drop-oldest on a
// full outbox).
func (b *Broker) broadcast(from *Session, event protocol.Event) {
	for _, s := range b.sessions {
		if s.NodeID() == from.NodeID() {
			continue
		}
		if s.IsListening(event.Channel) {
			s.SendEvent(event)
		}
	}
}
