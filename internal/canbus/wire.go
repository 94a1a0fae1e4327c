package canbus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// The gateway speaks the serial-line CAN (slcan) text framing, one
// frame per line:
//
//	T iiiiiiii l dd..dd
//
// 'T' marks an extended-identifier data frame, iiiiiiii is the 29-bit
// identifier as 8 uppercase hex digits, l is the payload length (0-8)
// as one decimal digit, and dd..dd are the payload bytes in hex. Lines
// end with carriage return. Other line types ('t' standard frames,
// 'r'/'R' remote frames, command echoes) are not used by RV-C gateways
// and are ignored by the reader.

const (
	frameTypeExtended = 'T'

	idHexDigits  = 8
	minFrameLine = 1 + idHexDigits + 1 // type + id + length
)

// marshalFrame encodes a frame as one slcan line including the
// trailing carriage return.
func marshalFrame(f rvc.Frame) []byte {
	var b strings.Builder
	b.Grow(minFrameLine + 2*len(f.Data) + 1)

	b.WriteByte(frameTypeExtended)
	fmt.Fprintf(&b, "%08X", f.ID)
	b.WriteByte(byte('0' + len(f.Data)))
	for _, d := range f.Data {
		fmt.Fprintf(&b, "%02X", d)
	}
	b.WriteByte('\r')

	return []byte(b.String())
}

// parseFrame decodes one slcan line into a frame. The line must not
// include the trailing carriage return. Returns ErrInvalidWireFormat
// for malformed lines and (frame, false, nil) for line types the
// bridge does not consume.
func parseFrame(line string) (rvc.Frame, bool, error) {
	if len(line) == 0 {
		return rvc.Frame{}, false, nil
	}
	if line[0] != frameTypeExtended {
		// Standard frames, remote frames and command acknowledgements
		// are legal on the wire but carry nothing for us.
		return rvc.Frame{}, false, nil
	}
	if len(line) < minFrameLine {
		return rvc.Frame{}, false, fmt.Errorf("%w: line too short (%d bytes)", ErrInvalidWireFormat, len(line))
	}

	id, err := strconv.ParseUint(line[1:1+idHexDigits], 16, 32)
	if err != nil {
		return rvc.Frame{}, false, fmt.Errorf("%w: identifier %q", ErrInvalidWireFormat, line[1:1+idHexDigits])
	}
	if id > rvc.MaxExtendedID {
		return rvc.Frame{}, false, fmt.Errorf("%w: identifier 0x%X exceeds 29 bits", ErrInvalidWireFormat, id)
	}

	length := int(line[1+idHexDigits] - '0')
	if length < 0 || length > rvc.MaxDataLen {
		return rvc.Frame{}, false, fmt.Errorf("%w: length %q", ErrInvalidWireFormat, line[1+idHexDigits])
	}

	dataHex := line[minFrameLine:]
	if len(dataHex) != 2*length {
		return rvc.Frame{}, false, fmt.Errorf("%w: %d data chars for length %d", ErrInvalidWireFormat, len(dataHex), length)
	}

	data := make([]byte, length)
	for i := 0; i < length; i++ {
		b, err := strconv.ParseUint(dataHex[2*i:2*i+2], 16, 8)
		if err != nil {
			return rvc.Frame{}, false, fmt.Errorf("%w: data %q", ErrInvalidWireFormat, dataHex)
		}
		data[i] = byte(b)
	}

	return rvc.Frame{ID: uint32(id), Data: data}, true, nil
}
