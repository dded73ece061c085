// Package pktuart implements the packet-UART framing used between a serial
// peripheral and the broker tooling: a 3-byte preamble, 1-byte address,
// 2-byte big-endian length, 2-byte big-endian rolling checksum, and payload.
package pktuart

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	preamble0 byte = 0x55
	preamble1 byte = 0xaa
	preamble2 byte = 0x5a
)

// ErrChecksumMismatch is returned by Decoder when a frame's checksum does
// not match the bytes actually received; the frame is dropped and the
// decoder resynchronises on the next byte.
var ErrChecksumMismatch = errors.New("pktuart: checksum mismatch")

// Frame is a fully decoded packet-UART frame.
type Frame struct {
	Addr    byte
	Payload []byte
}

// Encode renders addr/payload as a complete wire frame: preamble, address,
// big-endian length, big-endian checksum, payload. The transmitter is
// stateless — every call is independent of any previous one.
func Encode(addr byte, payload []byte) []byte {
	frame := make([]byte, 0, 3+1+2+2+len(payload))
	frame = append(frame, preamble0, preamble1, preamble2, addr)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	frame = append(frame, lenBuf[:]...)

	var crcBuf [2]byte
	binary.BigEndian.PutUint16(crcBuf[:], Checksum(addr, payload))
	frame = append(frame, crcBuf[:]...)

	frame = append(frame, payload...)
	return frame
}

type state int

const (
	stateHuntByte0 state = iota
	stateHuntByte1
	stateHuntByte2
	stateReadAddr
	stateReadLenHi
	stateReadLenLo
	stateReadCrcHi
	stateReadCrcLo
	stateReadPayload
)

// Decoder is a resynchronising byte-stream state machine. Feed bytes to it
// one at a time; it reports a decoded frame once a full, checksum-valid
// frame has been read. On any preamble mismatch it restarts the hunt at the
// offending byte itself, so a mismatching byte that is 0x55 is taken as the
// first byte of a new preamble.
type Decoder struct {
	st state

	addr    byte
	length  uint16
	crcWant uint16
	crcHave RollingChecksum
	payload []byte
	read    uint16
}

// NewDecoder returns a decoder ready to hunt for the next frame.
func NewDecoder() *Decoder {
	return &Decoder{st: stateHuntByte0}
}

// Feed folds one byte into the decoder. It returns a decoded frame and true
// once a complete, checksum-valid frame is available; it returns
// (Frame{}, false, err) when a complete frame was read but its checksum did
// not match (the decoder has already resynchronised and is hunting again).
// Any other call returns (Frame{}, false, nil) — more bytes are needed.
func (d *Decoder) Feed(b byte) (Frame, bool, error) {
	switch d.st {
	case stateHuntByte0:
		if b == preamble0 {
			d.st = stateHuntByte1
		}
		return Frame{}, false, nil

	case stateHuntByte1:
		if b == preamble1 {
			d.st = stateHuntByte2
		} else {
			d.st = stateHuntByte0
			// Treat this byte as a fresh start — it may itself be preamble0.
			if b == preamble0 {
				d.st = stateHuntByte1
			}
		}
		return Frame{}, false, nil

	case stateHuntByte2:
		switch b {
		case preamble2:
			d.st = stateReadAddr
		case preamble0:
			d.st = stateHuntByte1
		default:
			d.st = stateHuntByte0
		}
		return Frame{}, false, nil

	case stateReadAddr:
		d.addr = b
		d.crcHave = NewRollingChecksum().Update(b)
		d.st = stateReadLenHi
		return Frame{}, false, nil

	case stateReadLenHi:
		d.length = uint16(b) << 8
		d.st = stateReadLenLo
		return Frame{}, false, nil

	case stateReadLenLo:
		d.length |= uint16(b)
		d.payload = make([]byte, 0, d.length)
		d.read = 0
		d.st = stateReadCrcHi
		return Frame{}, false, nil

	case stateReadCrcHi:
		d.crcWant = uint16(b) << 8
		d.st = stateReadCrcLo
		return Frame{}, false, nil

	case stateReadCrcLo:
		d.crcWant |= uint16(b)
		if d.length == 0 {
			return d.finish()
		}
		d.st = stateReadPayload
		return Frame{}, false, nil

	case stateReadPayload:
		d.payload = append(d.payload, b)
		d.crcHave = d.crcHave.Update(b)
		d.read++
		if d.read >= d.length {
			return d.finish()
		}
		return Frame{}, false, nil
	}

	// Unreachable: all states handled above.
	d.st = stateHuntByte0
	return Frame{}, false, nil
}

func (d *Decoder) finish() (Frame, bool, error) {
	frame := Frame{Addr: d.addr, Payload: d.payload}
	ok := d.crcHave.Value() == d.crcWant
	d.st = stateHuntByte0
	d.payload = nil
	if !ok {
		return Frame{}, false, ErrChecksumMismatch
	}
	return frame, true, nil
}

// Idle reports whether the decoder is at the start of the hunt, i.e. no
// partial frame is in flight. Used to decide whether an EOF should discard
// a partial frame silently (it always does; this is informational).
func (d *Decoder) Idle() bool {
	return d.st == stateHuntByte0
}

// DecodeFrame reads bytes from r one at a time until a full valid frame is
// decoded, io.EOF is reached, or a non-EOF read error occurs. On EOF while a
// partial frame is in flight, the partial frame is discarded silently and
// io.EOF is returned. A checksum mismatch is not fatal: DecodeFrame keeps
// reading past it, since the decoder has already resynchronised.
func DecodeFrame(r io.Reader) (Frame, error) {
	d := NewDecoder()
	var buf [1]byte
	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			frame, ok, ferr := d.Feed(buf[0])
			if ok {
				return frame, nil
			}
			if ferr != nil {
				// Checksum failure: dropped, keep hunting.
				continue
			}
		}
		if err != nil {
			return Frame{}, err
		}
	}
}
