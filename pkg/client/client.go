// Package client is the DevConsole client library: it connects to a
// broker, issues open/listen/list/info requests and parks the caller until
// the matching response arrives, dispatches inbound Data/DataBin events to
// per-channel sinks, and surfaces transport failures to every parked
// caller.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// Handle is a connected DevConsole client. Safe for concurrent use by
// multiple goroutines.
type Handle struct {
	conn   *websocket.Conn
	corr   *correlator
	logger *zap.Logger

	// traceID is a local, log-only identifier distinct from the broker's
	// NodeID — it exists purely so a developer can grep one client's log
	// lines before the node-id notification has arrived.
	traceID string

	writeMu sync.Mutex

	mu        sync.Mutex
	listening map[protocol.ChannelID]struct{}
	closed    bool
	done      chan struct{}
}

// Connect opens the transport, spawns the inbound dispatcher goroutine, and
// returns once the transport handshake succeeds. It does not wait for the
// node-id notification — call GetNodeID after the fact, or after the first
// successful request.
func Connect(url string, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("devconsole client: dial %s: %w", url, err)
	}

	h := &Handle{
		conn:      conn,
		corr:      newCorrelator(logger),
		logger:    logger,
		traceID:   uuid.NewString(),
		listening: make(map[protocol.ChannelID]struct{}),
		done:      make(chan struct{}),
	}

	go h.readLoop()

	return h, nil
}

// TraceID returns the client's local trace identifier, used only in log
// lines — it is not part of the wire protocol and is unrelated to NodeID.
func (h *Handle) TraceID() string { return h.traceID }

func (h *Handle) readLoop() {
	defer func() {
		h.corr.breakAll()
		close(h.done)
	}()

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			h.logger.Warn("devconsole client: read error, connection broken",
				zap.String("trace_id", h.traceID), zap.Error(err))
			return
		}

		event, err := protocol.Decode(data)
		if err != nil {
			h.logger.Warn("devconsole client: malformed event, dropping",
				zap.String("trace_id", h.traceID), zap.Error(err))
			continue
		}

		h.dispatch(event)
	}
}

func (h *Handle) dispatch(event protocol.Event) {
	switch event.Type {
	case protocol.EventNodeIDNotification:
		h.corr.setNodeID(event.NodeID)
		h.logger.Info("devconsole client: node id assigned",
			zap.String("trace_id", h.traceID), zap.Uint64("node_id", uint64(event.NodeID)))

	case protocol.EventData:
		h.corr.dispatchData(event.Channel, event.Data)

	case protocol.EventDataBin:
		h.corr.dispatchBinData(event.Channel, event.DataBin)

	case protocol.EventChannelOpenResponse:
		h.corr.completeOpen(event.Channel)

	case protocol.EventChannelListenResponse:
		h.corr.completeListen(event.Channel, event.Success)

	case protocol.EventChannelListResponse:
		h.corr.completeList(event.Channels)

	case protocol.EventChannelInfoResponse:
		h.corr.completeInfo(event.Info())

	default:
		h.logger.Warn("devconsole client: unhandled event", zap.String("type", string(event.Type)))
	}
}

func (h *Handle) sendEvent(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

// Open requests a new channel named name and blocks until the broker's
// n-th open response (matching the n-th open request, in send order)
// arrives.
func (h *Handle) Open(name string) (protocol.ChannelID, error) {
	waiter := h.corr.armOpen()
	if err := h.sendEvent(protocol.NewChannelOpenRequest(name)); err != nil {
		return 0, err
	}
	channel, ok := <-waiter
	if !ok {
		return 0, ErrConnectionBroken{}
	}
	return channel, nil
}

// Listen registers textSink and/or binSink for channel's data and awaits
// the broker's listen response. A nil sink means "not interested in that
// payload kind". Calling Listen again for a channel already being listened
// to is idempotent: it logs and returns nil without re-sending the
// request.
func (h *Handle) Listen(channel protocol.ChannelID, textSink chan string, binSink chan []byte) error {
	h.mu.Lock()
	if _, already := h.listening[channel]; already {
		h.mu.Unlock()
		h.logger.Warn("devconsole client: duplicate listen, ignoring",
			zap.String("trace_id", h.traceID), zap.Uint64("channel", uint64(channel)))
		return nil
	}
	h.listening[channel] = struct{}{}
	h.mu.Unlock()

	h.corr.registerSinks(channel, textSink, binSink)

	waiter := h.corr.armListen(channel)
	if err := h.sendEvent(protocol.NewChannelListenRequest(channel)); err != nil {
		return err
	}

	success, ok := <-waiter
	if !ok {
		return ErrConnectionBroken{}
	}
	if !success {
		return ErrConnectionBroken{}
	}
	return nil
}

// Send fires a Data event on channel; transport errors are surfaced, there
// is no delivery acknowledgement.
func (h *Handle) Send(channel protocol.ChannelID, data string) error {
	return h.sendEvent(protocol.NewData(channel, data))
}

// SendBin fires a DataBin event on channel.
func (h *Handle) SendBin(channel protocol.ChannelID, data []byte) error {
	return h.sendEvent(protocol.NewDataBin(channel, data))
}

// ChannelList requests and returns the broker's current channel id set.
func (h *Handle) ChannelList() ([]protocol.ChannelID, error) {
	waiter := h.corr.armList()
	if err := h.sendEvent(protocol.NewChannelListRequest()); err != nil {
		return nil, err
	}
	channels, ok := <-waiter
	if !ok {
		return nil, ErrConnectionBroken{}
	}
	return channels, nil
}

// ChannelInfo requests and returns metadata about channel.
func (h *Handle) ChannelInfo(channel protocol.ChannelID) (protocol.ChannelInfo, error) {
	waiter := h.corr.armInfo(channel)
	if err := h.sendEvent(protocol.NewChannelInfoRequest(channel)); err != nil {
		return protocol.ChannelInfo{}, err
	}
	info, ok := <-waiter
	if !ok {
		return protocol.ChannelInfo{}, ErrConnectionBroken{}
	}
	return info, nil
}

// GetNodeID returns the last-observed node-id notification, or false if
// none has arrived yet.
func (h *Handle) GetNodeID() (protocol.NodeID, bool) {
	return h.corr.getNodeID()
}

// Close closes the underlying transport. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.conn.Close()
}

// Done returns a channel closed once the client's read loop has exited,
// i.e. the connection is no longer usable.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
