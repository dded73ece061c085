package broker

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

// fakeWriter is an in-memory Writer capturing every event handed to it, for
// assertions without a real transport.
type fakeWriter struct {
	mu     sync.Mutex
	events []protocol.Event
	closed bool
}

func (w *fakeWriter) WriteEvent(e protocol.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() []protocol.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Event, len(w.events))
	copy(out, w.events)
	return out
}

// wireFakeWriter round-trips every event through protocol.Encode/Decode
// before storing it, so tests built on it exercise the actual wire format
// instead of passing Go structs straight through.
type wireFakeWriter struct {
	mu     sync.Mutex
	events []protocol.Event
	closed bool
}

func (w *wireFakeWriter) WriteEvent(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, decoded)
	return nil
}

func (w *wireFakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *wireFakeWriter) snapshot() []protocol.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Event, len(w.events))
	copy(out, w.events)
	return out
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(zap.NewNop(), NoopMetrics)
	go b.Run()
	t.Cleanup(b.Shutdown)
	return b
}

// waitFor polls until fn returns true or the deadline passes.
func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestAcceptSendsNodeIDNotificationFirst(t *testing.T) {
	b := newTestBroker(t)
	w := &fakeWriter{}

	session := b.Accept(w)
	if session == nil {
		t.Fatalf("Accept returned nil")
	}

	waitFor(t, func() bool { return len(w.snapshot()) >= 1 })

	events := w.snapshot()
	if events[0].Type != protocol.EventNodeIDNotification {
		t.Fatalf("first event = %s, want NodeIDNotification", events[0].Type)
	}
	if events[0].NodeID != session.NodeID() {
		t.Fatalf("notification node id = %d, want %d", events[0].NodeID, session.NodeID())
	}
}

func TestNodeIDsAreDenseAndMonotonic(t *testing.T) {
	b := newTestBroker(t)

	s1 := b.Accept(&fakeWriter{})
	s2 := b.Accept(&fakeWriter{})
	s3 := b.Accept(&fakeWriter{})

	if s1.NodeID() != 1 || s2.NodeID() != 2 || s3.NodeID() != 3 {
		t.Fatalf("node ids = %d, %d, %d, want 1, 2, 3", s1.NodeID(), s2.NodeID(), s3.NodeID())
	}
}

func TestChannelOpenAllocatesDenseIDsAndRespondsToSenderOnly(t *testing.T) {
	b := newTestBroker(t)
	w1, w2 := &fakeWriter{}, &fakeWriter{}
	s1 := b.Accept(w1)
	_ = b.Accept(w2)

	b.Dispatch(s1, protocol.NewChannelOpenRequest("alpha"))

	waitFor(t, func() bool { return len(w1.snapshot()) >= 2 })

	events := w1.snapshot()
	resp := events[len(events)-1]
	if resp.Type != protocol.EventChannelOpenResponse || !resp.Success {
		t.Fatalf("open response = %+v, want success", resp)
	}
	if resp.Channel != 1 {
		t.Fatalf("channel id = %d, want 1", resp.Channel)
	}

	// The peer that didn't open anything gets only its node-id notification.
	if len(w2.snapshot()) != 1 {
		t.Fatalf("w2 got %d events, want 1 (node-id only)", len(w2.snapshot()))
	}
}

func TestListenIsIdempotentAndAlwaysReportsSuccess(t *testing.T) {
	b := newTestBroker(t)
	w := &fakeWriter{}
	s := b.Accept(w)

	b.Dispatch(s, protocol.NewChannelOpenRequest("chan"))
	waitFor(t, func() bool { return len(w.snapshot()) >= 2 })
	channel := w.snapshot()[1].Channel

	b.Dispatch(s, protocol.NewChannelListenRequest(channel))
	b.Dispatch(s, protocol.NewChannelListenRequest(channel))

	waitFor(t, func() bool { return len(w.snapshot()) >= 4 })

	events := w.snapshot()
	for _, e := range events[2:4] {
		if e.Type != protocol.EventChannelListenResponse || !e.Success {
			t.Fatalf("listen response = %+v, want success=true", e)
		}
	}
}

func TestBroadcastExcludesSenderAndRequiresListening(t *testing.T) {
	b := newTestBroker(t)
	pub, subA, subB := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	sPub := b.Accept(pub)
	sA := b.Accept(subA)
	_ = b.Accept(subB) // never listens

	b.Dispatch(sPub, protocol.NewChannelOpenRequest("room"))
	waitFor(t, func() bool { return len(pub.snapshot()) >= 2 })
	channel := pub.snapshot()[1].Channel

	b.Dispatch(sA, protocol.NewChannelListenRequest(channel))
	waitFor(t, func() bool { return len(subA.snapshot()) >= 2 })

	b.Dispatch(sPub, protocol.NewData(channel, "hello"))

	waitFor(t, func() bool { return len(subA.snapshot()) >= 3 })

	last := subA.snapshot()
	data := last[len(last)-1]
	if data.Type != protocol.EventData || data.Data != "hello" {
		t.Fatalf("subA got %+v, want Data{hello}", data)
	}

	// Publisher must not receive its own broadcast.
	time.Sleep(50 * time.Millisecond)
	for _, e := range pub.snapshot() {
		if e.Type == protocol.EventData {
			t.Fatalf("publisher received its own broadcast: %+v", e)
		}
	}

	// Non-listening peer must not receive it either.
	for _, e := range subB.snapshot() {
		if e.Type == protocol.EventData {
			t.Fatalf("non-listening peer received broadcast: %+v", e)
		}
	}
}

func TestDisconnectRemovesSuppliedChannels(t *testing.T) {
	b := newTestBroker(t)
	w := &fakeWriter{}
	s := b.Accept(w)

	b.Dispatch(s, protocol.NewChannelOpenRequest("ephemeral"))
	waitFor(t, func() bool { return len(w.snapshot()) >= 2 })
	channel := w.snapshot()[1].Channel

	b.Disconnect(s)

	waitFor(t, func() bool {
		_, ok := b.ChannelByID(channel)
		return !ok
	})
}

func TestChannelInfoUnknownChannelIsSilentlyDropped(t *testing.T) {
	b := newTestBroker(t)
	w := &fakeWriter{}
	s := b.Accept(w)

	b.Dispatch(s, protocol.NewChannelInfoRequest(999))

	time.Sleep(50 * time.Millisecond)
	if len(w.snapshot()) != 1 {
		t.Fatalf("got %d events, want 1 (node-id only, info request dropped)", len(w.snapshot()))
	}
}

func TestChannelListReflectsCurrentChannels(t *testing.T) {
	b := newTestBroker(t)
	w := &fakeWriter{}
	s := b.Accept(w)

	b.Dispatch(s, protocol.NewChannelOpenRequest("one"))
	b.Dispatch(s, protocol.NewChannelOpenRequest("two"))
	waitFor(t, func() bool { return len(w.snapshot()) >= 3 })

	b.Dispatch(s, protocol.NewChannelListRequest())
	waitFor(t, func() bool { return len(w.snapshot()) >= 4 })

	listResp := w.snapshot()[3]
	if listResp.Type != protocol.EventChannelListResponse {
		t.Fatalf("got %s, want ChannelListResponse", listResp.Type)
	}
	if len(listResp.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(listResp.Channels))
	}
}

func TestStatsReflectsOccupancy(t *testing.T) {
	b := newTestBroker(t)
	s1 := b.Accept(&fakeWriter{})
	_ = b.Accept(&fakeWriter{})

	b.Dispatch(s1, protocol.NewChannelOpenRequest("x"))
	waitFor(t, func() bool {
		stats := b.Stats()
		return stats.Sessions == 2 && stats.Channels == 1
	})
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	b := New(zap.NewNop(), NoopMetrics)
	go b.Run()

	w := &fakeWriter{}
	b.Accept(w)

	b.Shutdown()

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		t.Fatalf("writer was not closed on shutdown")
	}
}

// TestBinaryRoundTrip drives a DataBin broadcast through actual
// protocol.Encode/Decode on both the publisher's and subscriber's writers.
func TestBinaryRoundTrip(t *testing.T) {
	b := newTestBroker(t)
	pub, sub := &wireFakeWriter{}, &wireFakeWriter{}
	sPub := b.Accept(pub)
	sSub := b.Accept(sub)

	b.Dispatch(sPub, protocol.NewChannelOpenRequest("binchan"))
	waitFor(t, func() bool { return len(pub.snapshot()) >= 2 })
	channel := pub.snapshot()[1].Channel

	b.Dispatch(sSub, protocol.NewChannelListenRequest(channel))
	waitFor(t, func() bool { return len(sub.snapshot()) >= 2 })

	payload := []byte{0x00, 0x01, 0x7f, 0x80, 0xff, 0xaa, 0x55}
	b.Dispatch(sPub, protocol.NewDataBin(channel, payload))

	waitFor(t, func() bool { return len(sub.snapshot()) >= 3 })

	events := sub.snapshot()
	got := events[len(events)-1]
	if got.Type != protocol.EventDataBin {
		t.Fatalf("got %s, want DataBin", got.Type)
	}
	if len(got.DataBin) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(got.DataBin), len(payload))
	}
	for i := range payload {
		if got.DataBin[i] != payload[i] {
			t.Fatalf("byte %d = %02x, want %02x", i, got.DataBin[i], payload[i])
		}
	}
}
