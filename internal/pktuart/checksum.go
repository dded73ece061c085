package pktuart

// checksumSeed is the initial state of the rolling checksum, per spec.
const checksumSeed uint16 = 36683

// checksumMultiplier is the mixing constant applied on every update.
const checksumMultiplier uint16 = 37003

// RollingChecksum is the 16-bit keyed mixer used to authenticate a
// packet-UART frame: state = (state XOR byte) * 37003 (mod 2^16), seeded at
// 36683. It is a plain value type — update is deterministic and
// side-effect free on anything but the receiver itself.
type RollingChecksum struct {
	state uint16
}

// NewRollingChecksum returns a checksum in its seeded initial state.
func NewRollingChecksum() RollingChecksum {
	return RollingChecksum{state: checksumSeed}
}

// Update folds one byte into the checksum and returns the new value.
func (c RollingChecksum) Update(b byte) RollingChecksum {
	c.state = (c.state ^ uint16(b)) * checksumMultiplier
	return c
}

// UpdateSlice folds every byte of data into the checksum, in order. It is
// exactly the left-fold of Update over data.
func (c RollingChecksum) UpdateSlice(data []byte) RollingChecksum {
	for _, b := range data {
		c = c.Update(b)
	}
	return c
}

// Value returns the current 16-bit checksum state.
func (c RollingChecksum) Value() uint16 {
	return c.state
}

// Checksum computes the frame checksum over the address byte followed by
// the payload — the checksum domain includes the address, not just the
// payload.
func Checksum(addr byte, payload []byte) uint16 {
	c := NewRollingChecksum().Update(addr).UpdateSlice(payload)
	return c.Value()
}
