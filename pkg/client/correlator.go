package client

import (
	"sync"

	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// sinkBufferSize bounds the per-channel data sinks the correlator hands
// inbound Data/DataBin events to.
const sinkBufferSize = 64

// ErrConnectionBroken is delivered to every parked waiter when the
// transport's read loop exits, so no caller blocks forever on a dead
// connection.
type ErrConnectionBroken struct{}

func (ErrConnectionBroken) Error() string { return "devconsole: connection broken" }

// correlator is the client-side dispatcher table: it matches each inbound
// response event to the waiter that sent the corresponding request, and
// fans Data/DataBin events out to per-channel consumer sinks. There is at
// most one armed waiter per correlation key at any moment (listen/info),
// except the open-response and channel-list queues, which are FIFO because
// those requests are not individually keyed on the wire — they are
// correlated by send order, which matches the broker's per-session ordering
// guarantee.
type correlator struct {
	mu sync.Mutex

	openWaiters []chan protocol.ChannelID
	listWaiters []chan []protocol.ChannelID

	listenWaiters map[protocol.ChannelID]chan bool
	infoWaiters   map[protocol.ChannelID]chan protocol.ChannelInfo

	textSinks map[protocol.ChannelID]chan string
	binSinks  map[protocol.ChannelID]chan []byte

	nodeID   protocol.NodeID
	haveNode bool

	broken bool
	logger *zap.Logger
}

func newCorrelator(logger *zap.Logger) *correlator {
	return &correlator{
		listenWaiters: make(map[protocol.ChannelID]chan bool),
		infoWaiters:   make(map[protocol.ChannelID]chan protocol.ChannelInfo),
		textSinks:     make(map[protocol.ChannelID]chan string),
		binSinks:      make(map[protocol.ChannelID]chan []byte),
		logger:        logger,
	}
}

func (c *correlator) armOpen() chan protocol.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan protocol.ChannelID, 1)
	if c.broken {
		close(ch)
		return ch
	}
	c.openWaiters = append(c.openWaiters, ch)
	return ch
}

func (c *correlator) completeOpen(channel protocol.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.openWaiters) == 0 {
		c.logger.Warn("no dispatcher found for channel-open response", zap.Uint64("channel", uint64(channel)))
		return
	}
	ch := c.openWaiters[0]
	c.openWaiters = c.openWaiters[1:]
	ch <- channel
}

func (c *correlator) armListen(channel protocol.ChannelID) chan bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan bool, 1)
	if c.broken {
		close(ch)
		return ch
	}
	c.listenWaiters[channel] = ch
	return ch
}

func (c *correlator) completeListen(channel protocol.ChannelID, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.listenWaiters[channel]
	if !ok {
		c.logger.Warn("no dispatcher found for channel-listen response", zap.Uint64("channel", uint64(channel)))
		return
	}
	delete(c.listenWaiters, channel)
	ch <- success
}

func (c *correlator) armList() chan []protocol.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan []protocol.ChannelID, 1)
	if c.broken {
		close(ch)
		return ch
	}
	c.listWaiters = append(c.listWaiters, ch)
	return ch
}

func (c *correlator) completeList(channels []protocol.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.listWaiters) == 0 {
		c.logger.Warn("no dispatcher found for channel-list response")
		return
	}
	ch := c.listWaiters[0]
	c.listWaiters = c.listWaiters[1:]
	ch <- channels
}

func (c *correlator) armInfo(channel protocol.ChannelID) chan protocol.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan protocol.ChannelInfo, 1)
	if c.broken {
		close(ch)
		return ch
	}
	c.infoWaiters[channel] = ch
	return ch
}

func (c *correlator) completeInfo(info protocol.ChannelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.infoWaiters[info.Channel]
	if !ok {
		c.logger.Warn("no dispatcher found for channel-info response", zap.Uint64("channel", uint64(info.Channel)))
		return
	}
	delete(c.infoWaiters, info.Channel)
	ch <- info
}

// registerSinks wires text/bin consumer queues for channel. Re-registering
// the same channel replaces its previous sinks — callers are expected to
// have already treated the repeat Listen call as a no-op at the Handle
// level.
func (c *correlator) registerSinks(channel protocol.ChannelID, text chan string, bin chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text != nil {
		c.textSinks[channel] = text
	}
	if bin != nil {
		c.binSinks[channel] = bin
	}
}

func (c *correlator) dispatchData(channel protocol.ChannelID, data string) {
	c.mu.Lock()
	sink, ok := c.textSinks[channel]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("no text sink for channel, dropping", zap.Uint64("channel", uint64(channel)))
		return
	}
	select {
	case sink <- data:
	default:
		c.logger.Warn("text sink full, dropping message", zap.Uint64("channel", uint64(channel)))
	}
}

func (c *correlator) dispatchBinData(channel protocol.ChannelID, data []byte) {
	c.mu.Lock()
	sink, ok := c.binSinks[channel]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("no binary sink for channel, dropping", zap.Uint64("channel", uint64(channel)))
		return
	}
	select {
	case sink <- data:
	default:
		c.logger.Warn("binary sink full, dropping message", zap.Uint64("channel", uint64(channel)))
	}
}

func (c *correlator) setNodeID(id protocol.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = id
	c.haveNode = true
}

func (c *correlator) getNodeID() (protocol.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeID, c.haveNode
}

// breakAll signals every currently armed waiter with a closed/zero value
// the caller can recognise as ConnectionBroken, then marks the correlator
// broken so future arm calls fail fast instead of hanging forever.
func (c *correlator) breakAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true

	for _, ch := range c.openWaiters {
		close(ch)
	}
	c.openWaiters = nil

	for _, ch := range c.listWaiters {
		close(ch)
	}
	c.listWaiters = nil

	for channel, ch := range c.listenWaiters {
		close(ch)
		delete(c.listenWaiters, channel)
	}

	for channel, ch := range c.infoWaiters {
		close(ch)
		delete(c.infoWaiters, channel)
	}
}
