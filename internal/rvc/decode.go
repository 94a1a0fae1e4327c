package rvc

import (
	"strings"
)

// Value is one decoded signal value.
//
// Unknown is set when the signal carried the protocol's "data not
// available" sentinel (all bits set) or when the payload was too short
// to cover the signal's bit range. An Unknown value carries no usable
// Numeric/Label/Text content and must never be mistaken for zero.
type Value struct {
	// Raw is the unscaled bit pattern as extracted from the payload.
	Raw uint64

	// Numeric is the scaled engineering value (uint/int/enum/bit kinds).
	Numeric float64

	// Label is the enum label for the raw value, when defined.
	Label string

	// Text is the decoded string for ascii signals.
	Text string

	// Unknown marks "not available" sentinels and short payloads.
	Unknown bool
}

// Bool interprets the value as a flag (raw bit set).
func (v Value) Bool() bool {
	return !v.Unknown && v.Raw != 0
}

// DecodedFrame is the ephemeral result of decoding one CAN frame.
type DecodedFrame struct {
	// DGN is the frame's Data Group Number.
	DGN uint32

	// Source is the transmitting node's source address.
	Source uint8

	// Name is the message name when the DGN is known.
	Name string

	// Instance is the decoded device instance, when the message
	// definition carries an "instance" signal with a usable value.
	Instance uint8

	// HasInstance reports whether Instance is populated.
	HasInstance bool

	// Signals maps signal name to decoded value. Empty for unknown DGNs.
	Signals map[string]Value

	// Complete is false when the DGN was absent from the spec table.
	Complete bool

	// Partial is true when one or more signals were undecodable
	// because the payload was shorter than the declared layout.
	Partial bool
}

// Decode turns a raw CAN frame into named signal values using the
// protocol specification table.
//
// Decode never fails: unknown DGNs yield Complete=false with an empty
// signal map, and short payloads mark only the affected signals
// Unknown while the rest decode normally. Malformed input is reported
// through the DecodedFrame flags so the ingestion pipeline can count
// diagnostics without special-casing errors.
func Decode(table *SpecTable, f Frame) DecodedFrame {
	_, dgn, source := SplitID(f.ID)

	out := DecodedFrame{
		DGN:    dgn,
		Source: source,
	}

	def, ok := table.Lookup(dgn)
	if !ok {
		out.Signals = map[string]Value{}
		return out
	}

	out.Name = def.Name
	out.Complete = true
	out.Signals = make(map[string]Value, len(def.Signals))

	for i := range def.Signals {
		sig := &def.Signals[i]
		val := decodeSignal(sig, f.Data)
		if val.Unknown && !coveredByPayload(sig, len(f.Data)) {
			out.Partial = true
		}
		out.Signals[sig.Name] = val
	}

	if inst, ok := out.Signals[SignalNameInstance]; ok && !inst.Unknown {
		out.Instance = uint8(inst.Raw)
		out.HasInstance = true
	}

	return out
}

// coveredByPayload reports whether the payload is long enough to hold
// the signal's full bit range.
func coveredByPayload(sig *SignalDefinition, dataLen int) bool {
	return sig.StartBit+sig.BitLength <= dataLen*8
}

// decodeSignal extracts and interprets one signal from payload bytes.
func decodeSignal(sig *SignalDefinition, data []byte) Value {
	if !coveredByPayload(sig, len(data)) {
		return Value{Unknown: true}
	}

	if sig.Kind == KindASCII {
		return decodeASCII(sig, data)
	}

	raw := extractBits(data, sig.StartBit, sig.BitLength)
	val := Value{Raw: raw}

	switch sig.Kind {
	case KindUint:
		// All-bits-set is the RV-C "data not available" sentinel for
		// unsigned fields of two or more bits.
		if sig.BitLength >= 2 && raw == sig.MaxRaw() {
			val.Unknown = true
			return val
		}
		val.Numeric = float64(raw)*sig.scaleOr1() + sig.Offset

	case KindInt:
		val.Numeric = float64(signExtend(raw, sig.BitLength))*sig.scaleOr1() + sig.Offset

	case KindEnum:
		label, defined := sig.Values[raw]
		if !defined && raw == sig.MaxRaw() {
			val.Unknown = true
			return val
		}
		val.Numeric = float64(raw)
		val.Label = label

	case KindBit:
		val.Numeric = float64(raw)

	case KindASCII:
		// Handled above.
	}

	return val
}

// decodeASCII extracts a byte-aligned text field, trimming 0xFF and
// NUL padding.
func decodeASCII(sig *SignalDefinition, data []byte) Value {
	start := sig.StartBit / 8
	length := sig.BitLength / 8

	raw := data[start : start+length]
	text := strings.TrimRight(string(raw), "\x00\xFF")
	return Value{Text: text}
}

// extractBits reads a little-endian bit range from payload bytes.
// Bit i of the payload is bit i%8 of byte i/8; bit j of the result is
// payload bit startBit+j. Ranges crossing byte boundaries are legal.
func extractBits(data []byte, startBit, bitLength int) uint64 {
	var out uint64
	for j := 0; j < bitLength; j++ {
		pos := startBit + j
		bit := (data[pos/8] >> uint(pos%8)) & 1
		out |= uint64(bit) << uint(j)
	}
	return out
}

// signExtend interprets the low bitLength bits of raw as a
// two's-complement signed value.
func signExtend(raw uint64, bitLength int) int64 {
	if bitLength >= 64 {
		return int64(raw)
	}
	shift := uint(64 - bitLength)
	return int64(raw<<shift) >> shift
}
