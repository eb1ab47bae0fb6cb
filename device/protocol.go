// Package device implements the camera wire protocol: command encoding, frame
// assembly from raw TCP chunks, the single-device listener, and the capture
// coordinator that drives one command/response cycle end to end.
package device

import "fmt"

// Command opcodes understood by the camera firmware.
const (
	opSetResolution byte = 0x01
	opCapture       byte = 0x10
)

// Frame layout. The firmware sends an 8-byte header, the JPEG payload, and a
// two-byte terminator. There is no length prefix and no checksum; the
// terminator is the only frame boundary on the wire.
const (
	headerLen  = 8
	termFirst  byte = 0xFF
	termSecond byte = 0xBB
)

// A Command is one device instruction ready for the wire.
type Command struct {
	name string
	wire []byte
}

// SetResolution selects the sensor resolution. Selector values come from the
// firmware's resolution table; the gateway treats them as opaque.
func SetResolution(selector byte) Command {
	return Command{
		name: fmt.Sprintf("set-resolution(0x%02X)", selector),
		wire: []byte{opSetResolution, selector},
	}
}

// Capture requests a single frame.
func Capture() Command {
	return Command{name: "capture", wire: []byte{opCapture}}
}

// Stop exists for call-site symmetry. The firmware defines no cancel opcode,
// so it encodes to nothing and SendCommand treats it as a no-op.
func Stop() Command {
	return Command{name: "stop"}
}

// Encode returns the wire bytes, empty for no-op commands.
func (c Command) Encode() []byte { return c.wire }

func (c Command) String() string {
	if c.name == "" {
		return "noop"
	}
	return c.name
}

// indexTerminator returns the index of the first frame terminator in b, or -1.
// The scan always covers the whole slice: the two terminator bytes can arrive
// split across reads, so bytes already seen must be rescanned once the second
// byte lands.
func indexTerminator(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == termFirst && b[i+1] == termSecond {
			return i
		}
	}
	return -1
}
