package protocol

import (
	"encoding/json"
	"testing"
)

func TestDataBinEncodesAsNumericArray(t *testing.T) {
	e := NewDataBin(5, []byte{0x00, 0x55, 0xaa, 0xff})

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := `{"type":"DataBin","channel":5,"data":[0,85,170,255]}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestDataEncodesAsString(t *testing.T) {
	e := NewData(3, "hello")

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := `{"type":"Data","channel":3,"data":"hello"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestDataBinRoundTrip(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30, 0x00, 0xff}
	original := NewDataBin(7, payload)

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Type != EventDataBin {
		t.Fatalf("type = %s, want DataBin", decoded.Type)
	}
	if decoded.Channel != 7 {
		t.Fatalf("channel = %d, want 7", decoded.Channel)
	}
	if len(decoded.DataBin) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(decoded.DataBin), len(payload))
	}
	for i := range payload {
		if decoded.DataBin[i] != payload[i] {
			t.Fatalf("byte %d = %02x, want %02x", i, decoded.DataBin[i], payload[i])
		}
	}
}

func TestDataRoundTrip(t *testing.T) {
	original := NewData(9, "round trip")

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Data != "round trip" {
		t.Fatalf("data = %q, want %q", decoded.Data, "round trip")
	}
	if decoded.DataBin != nil {
		t.Fatalf("data_bin = %v, want nil for a text Data event", decoded.DataBin)
	}
}

func TestDataBinEmptyPayloadRoundTrips(t *testing.T) {
	original := NewDataBin(1, nil)

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.DataBin) != 0 {
		t.Fatalf("data_bin = %v, want empty", decoded.DataBin)
	}
}

func TestNonDataEventsOmitDataKey(t *testing.T) {
	e := NewChannelOpenRequest("room")

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := raw["data"]; present {
		t.Fatalf("ChannelOpenRequest should not carry a data key, got %s", data)
	}
}
