package rvc

import (
	"fmt"
	"math"
)

// EncodeSignals packs named values into payload bytes using the
// message definition — the exact inverse of Decode's extraction.
//
// The payload spans the full byte range the definition declares, with
// unspecified bits zero-filled. Values are range-checked against each
// signal's bit width and scaling before packing; the first violation
// aborts the encode with ErrValueOutOfRange so a caller never emits a
// partially valid frame.
//
// Accepted value types per kind:
//   - uint/int/bit: float64 (engineering units, scale/offset applied in reverse)
//   - enum: float64 raw value or string label
//   - ascii: string
func EncodeSignals(def *MessageDefinition, values map[string]any) ([]byte, error) {
	data := make([]byte, payloadLen(def))

	for name, v := range values {
		sig, ok := def.Signal(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownSignal, name, def.Name)
		}

		if err := encodeSignal(sig, v, data); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", def.Name, name, err)
		}
	}

	return data, nil
}

// payloadLen returns the number of payload bytes the definition's
// signals span, capped at the CAN maximum.
func payloadLen(def *MessageDefinition) int {
	maxBit := 0
	for i := range def.Signals {
		end := def.Signals[i].StartBit + def.Signals[i].BitLength
		if end > maxBit {
			maxBit = end
		}
	}
	n := (maxBit + 7) / 8
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return n
}

// encodeSignal packs one value into its declared bit range.
func encodeSignal(sig *SignalDefinition, v any, data []byte) error {
	switch sig.Kind {
	case KindASCII:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: ascii signal needs a string, got %T", ErrNotEncodable, v)
		}
		return encodeASCII(sig, s, data)

	case KindEnum:
		if label, ok := v.(string); ok {
			raw, found := rawForLabel(sig, label)
			if !found {
				return fmt.Errorf("%w: no enum value labelled %q", ErrValueOutOfRange, label)
			}
			insertBits(data, sig.StartBit, sig.BitLength, raw)
			return nil
		}
		return encodeNumeric(sig, v, data)

	case KindUint, KindInt, KindBit:
		return encodeNumeric(sig, v, data)
	}

	return fmt.Errorf("%w: kind %q", ErrNotEncodable, sig.Kind)
}

// encodeNumeric converts an engineering value back to raw bits.
func encodeNumeric(sig *SignalDefinition, v any, data []byte) error {
	num, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("%w: numeric signal needs a number, got %T", ErrNotEncodable, v)
	}

	var raw uint64
	switch sig.Kind {
	case KindInt:
		scaled := math.Round((num - sig.Offset) / sig.scaleOr1())
		lo, hi := signedRange(sig.BitLength)
		if scaled < float64(lo) || scaled > float64(hi) {
			return fmt.Errorf("%w: %v outside [%d, %d]", ErrValueOutOfRange, num, lo, hi)
		}
		raw = uint64(int64(scaled)) & maskBits(sig.BitLength)

	case KindUint, KindEnum, KindBit:
		scaled := math.Round((num - sig.Offset) / sig.scaleOr1())
		if scaled < 0 || scaled > float64(sig.MaxRaw()) {
			return fmt.Errorf("%w: %v outside [%v, %v]",
				ErrValueOutOfRange, num, sig.Offset, float64(sig.MaxRaw())*sig.scaleOr1()+sig.Offset)
		}
		raw = uint64(scaled)

	case KindASCII:
		// Unreachable; ascii is handled by encodeSignal.
	}

	insertBits(data, sig.StartBit, sig.BitLength, raw)
	return nil
}

// encodeASCII writes a byte-aligned text field, padding with 0xFF as
// RV-C text fields do.
func encodeASCII(sig *SignalDefinition, s string, data []byte) error {
	length := sig.BitLength / 8
	if len(s) > length {
		return fmt.Errorf("%w: %d bytes of text into %d-byte field", ErrValueOutOfRange, len(s), length)
	}

	start := sig.StartBit / 8
	for i := 0; i < length; i++ {
		if i < len(s) {
			data[start+i] = s[i]
		} else {
			data[start+i] = 0xFF
		}
	}
	return nil
}

// rawForLabel looks up the raw value for an enum label.
func rawForLabel(sig *SignalDefinition, label string) (uint64, bool) {
	for raw, l := range sig.Values {
		if l == label {
			return raw, true
		}
	}
	return 0, false
}

// insertBits writes the low bitLength bits of raw into the payload at
// startBit, little-endian, preserving surrounding bits.
func insertBits(data []byte, startBit, bitLength int, raw uint64) {
	for j := 0; j < bitLength; j++ {
		pos := startBit + j
		if raw>>uint(j)&1 == 1 {
			data[pos/8] |= 1 << uint(pos%8)
		} else {
			data[pos/8] &^= 1 << uint(pos%8)
		}
	}
}

// maskBits returns a mask of the low n bits.
func maskBits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// signedRange returns the representable range of an n-bit signed field.
func signedRange(n int) (int64, int64) {
	if n >= 64 {
		return math.MinInt64, math.MaxInt64
	}
	hi := int64(1)<<uint(n-1) - 1
	return -hi - 1, hi
}

// toFloat accepts the numeric types that reach the encoder from JSON
// payloads and Go callers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
