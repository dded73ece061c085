// Package protocol defines the wire schema shared by the broker and the
// client library: a single tagged-union event type plus the identifiers it
// carries.
package protocol

import (
	"encoding/json"
	"fmt"
)

// NodeID identifies a connected peer. Dense, monotonic, starts at 1.
type NodeID uint64

// ChannelID identifies a named publish/subscribe stream. Dense, monotonic,
// starts at 1.
type ChannelID uint64

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventNodeIDNotification    EventType = "NodeIDNotification"
	EventData                  EventType = "Data"
	EventDataBin               EventType = "DataBin"
	EventChannelOpenRequest    EventType = "ChannelOpenRequest"
	EventChannelOpenResponse   EventType = "ChannelOpenResponse"
	EventChannelCloseRequest   EventType = "ChannelCloseRequest"
	EventChannelListenRequest  EventType = "ChannelListenRequest"
	EventChannelListenResponse EventType = "ChannelListenResponse"
	EventChannelListRequest    EventType = "ChannelListRequest"
	EventChannelListResponse   EventType = "ChannelListResponse"
	EventChannelInfoRequest    EventType = "ChannelInfoRequest"
	EventChannelInfoResponse   EventType = "ChannelInfoResponse"
)

// Event is the tagged union carried on the wire, JSON-encoded. Exactly one
// of the per-variant fields is meaningful for a given Type. Data and DataBin
// both occupy the wire's "data" key (a JSON string for Data, a JSON array of
// byte values for DataBin) — the two can't share a single Go struct field
// tag without the encoding/json package dropping both as ambiguous, so Event
// carries its own MarshalJSON/UnmarshalJSON to pick the right shape for
// "data" based on Type.
type Event struct {
	Type EventType `json:"type"`

	// NodeIDNotification
	NodeID NodeID `json:"node_id,omitempty"`

	// Data / DataBin
	Channel ChannelID `json:"channel,omitempty"`
	Data    string    `json:"-"`
	DataBin []byte    `json:"-"`

	// ChannelOpenRequest
	Name string `json:"name,omitempty"`

	// ChannelOpenResponse / ChannelListenResponse
	Success bool `json:"success,omitempty"`

	// ChannelListResponse
	Channels []ChannelID `json:"channels,omitempty"`

	// ChannelInfoResponse
	SuppliedBy NodeID `json:"supplied_by,omitempty"`
}

// wireEvent mirrors Event's field layout for JSON purposes, with a single
// "data" slot whose concrete shape depends on Type.
type wireEvent struct {
	Type       EventType       `json:"type"`
	NodeID     NodeID          `json:"node_id,omitempty"`
	Channel    ChannelID       `json:"channel,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Name       string          `json:"name,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Channels   []ChannelID     `json:"channels,omitempty"`
	SuppliedBy NodeID          `json:"supplied_by,omitempty"`
}

// byteArrayJSON renders a byte slice as a JSON array of numbers rather than
// encoding/json's default base64 string, matching the wire schema's
// data: [u8].
func byteArrayJSON(b []byte) (json.RawMessage, error) {
	if len(b) == 0 {
		return nil, nil
	}
	values := make([]int, len(b))
	for i, v := range b {
		values[i] = int(v)
	}
	return json.Marshal(values)
}

// MarshalJSON renders e with Data/DataBin placed under the shared "data" key
// in whichever shape e.Type calls for.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:       e.Type,
		NodeID:     e.NodeID,
		Channel:    e.Channel,
		Name:       e.Name,
		Success:    e.Success,
		Channels:   e.Channels,
		SuppliedBy: e.SuppliedBy,
	}

	switch e.Type {
	case EventData:
		if e.Data != "" {
			raw, err := json.Marshal(e.Data)
			if err != nil {
				return nil, err
			}
			w.Data = raw
		}
	case EventDataBin:
		raw, err := byteArrayJSON(e.DataBin)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}

	return json.Marshal(w)
}

// UnmarshalJSON populates e from its wire form, decoding the shared "data"
// key as a string or a byte array depending on the decoded Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Event{
		Type:       w.Type,
		NodeID:     w.NodeID,
		Channel:    w.Channel,
		Name:       w.Name,
		Success:    w.Success,
		Channels:   w.Channels,
		SuppliedBy: w.SuppliedBy,
	}

	if len(w.Data) == 0 {
		return nil
	}

	switch w.Type {
	case EventData:
		return json.Unmarshal(w.Data, &e.Data)
	case EventDataBin:
		var values []int
		if err := json.Unmarshal(w.Data, &values); err != nil {
			return err
		}
		e.DataBin = make([]byte, len(values))
		for i, v := range values {
			e.DataBin[i] = byte(v)
		}
	}
	return nil
}

// ChannelInfo is the payload shape returned by ChannelInfoResponse; it is
// also useful standalone to callers of the client library.
type ChannelInfo struct {
	Channel    ChannelID `json:"channel"`
	Name       string    `json:"name"`
	SuppliedBy NodeID    `json:"supplied_by"`
}

// TransactionError enumerates protocol-level errors. ChannelConflicted is
// declared for forward compatibility and is never currently raised.
type TransactionError string

const (
	ErrChannelConflicted TransactionError = "ChannelConflicted"
)

func (e TransactionError) Error() string { return string(e) }

// Constructors for each variant keep call sites from hand-assembling partial
// structs with irrelevant fields left zero.

func NewNodeIDNotification(id NodeID) Event {
	return Event{Type: EventNodeIDNotification, NodeID: id}
}

func NewData(channel ChannelID, data string) Event {
	return Event{Type: EventData, Channel: channel, Data: data}
}

func NewDataBin(channel ChannelID, data []byte) Event {
	return Event{Type: EventDataBin, Channel: channel, DataBin: data}
}

func NewChannelOpenRequest(name string) Event {
	return Event{Type: EventChannelOpenRequest, Name: name}
}

func NewChannelOpenResponse(channel ChannelID, success bool) Event {
	return Event{Type: EventChannelOpenResponse, Channel: channel, Success: success}
}

func NewChannelCloseRequest(channel ChannelID) Event {
	return Event{Type: EventChannelCloseRequest, Channel: channel}
}

func NewChannelListenRequest(channel ChannelID) Event {
	return Event{Type: EventChannelListenRequest, Channel: channel}
}

func NewChannelListenResponse(channel ChannelID, success bool) Event {
	return Event{Type: EventChannelListenResponse, Channel: channel, Success: success}
}

func NewChannelListRequest() Event {
	return Event{Type: EventChannelListRequest}
}

func NewChannelListResponse(channels []ChannelID) Event {
	return Event{Type: EventChannelListResponse, Channels: channels}
}

func NewChannelInfoRequest(channel ChannelID) Event {
	return Event{Type: EventChannelInfoRequest, Channel: channel}
}

func NewChannelInfoResponse(info ChannelInfo) Event {
	return Event{
		Type:       EventChannelInfoResponse,
		Channel:    info.Channel,
		Name:       info.Name,
		SuppliedBy: info.SuppliedBy,
	}
}

// Info extracts the ChannelInfo payload from a ChannelInfoResponse event.
func (e Event) Info() ChannelInfo {
	return ChannelInfo{Channel: e.Channel, Name: e.Name, SuppliedBy: e.SuppliedBy}
}

// Encode marshals an Event to its JSON wire form.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", e.Type, err)
	}
	return b, nil
}

// Decode unmarshals an Event from its JSON wire form.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("protocol: decode: %w", err)
	}
	return e, nil
}
