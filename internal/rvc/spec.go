package rvc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Signal layout constraints.
const (
	// maxPayloadBits is the largest bit position addressable in an
	// 8-byte CAN payload.
	maxPayloadBits = MaxDataLen * 8

	// bitsPerByte is used for ascii signal length checks.
	bitsPerByte = 8
)

// SignalKind describes how a signal's raw bits are interpreted.
type SignalKind string

// Signal kinds.
const (
	// KindUint is an unsigned integer with linear scale/offset.
	KindUint SignalKind = "uint"

	// KindInt is a two's-complement signed integer with linear
	// scale/offset.
	KindInt SignalKind = "int"

	// KindEnum is an unsigned integer with a label map.
	KindEnum SignalKind = "enum"

	// KindBit is a single-bit or small bitmask field.
	KindBit SignalKind = "bit"

	// KindASCII is a byte-aligned text field padded with 0xFF or NUL.
	KindASCII SignalKind = "ascii"
)

// validKinds is the closed set of accepted signal kinds.
var validKinds = map[SignalKind]bool{
	KindUint:  true,
	KindInt:   true,
	KindEnum:  true,
	KindBit:   true,
	KindASCII: true,
}

// SignalDefinition describes one named value packed into a fixed bit
// range of a message payload. Bit positions are little-endian (Intel
// byte order) as used throughout the RV-C protocol family: bit 0 is
// the least significant bit of payload byte 0.
type SignalDefinition struct {
	// Name identifies the signal within its message. The signal
	// conventionally named "instance" carries the device instance;
	// its position varies by DGN and is never assumed.
	Name string `yaml:"name"`

	// StartBit is the position of the signal's least significant bit.
	StartBit int `yaml:"start_bit"`

	// BitLength is the signal width in bits (1-64).
	BitLength int `yaml:"bit_length"`

	// Kind selects the raw-bit interpretation.
	Kind SignalKind `yaml:"kind"`

	// Scale multiplies the raw value (default 1).
	Scale float64 `yaml:"scale"`

	// Offset is added after scaling (default 0).
	Offset float64 `yaml:"offset"`

	// Unit is a display unit string ("%", "V", "degC", ...).
	Unit string `yaml:"unit"`

	// Values maps raw values to labels for enum signals.
	Values map[uint64]string `yaml:"values"`
}

// MaxRaw returns the largest raw value representable in the signal's
// bit range.
func (s *SignalDefinition) MaxRaw() uint64 {
	if s.BitLength >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(s.BitLength)) - 1
}

// scaleOr1 returns the scale factor, defaulting to 1 when unset.
func (s *SignalDefinition) scaleOr1() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

// MessageDefinition describes the signal layout of one DGN.
type MessageDefinition struct {
	// DGN is the 17-bit Data Group Number.
	DGN uint32 `yaml:"dgn"`

	// Name is the protocol-level message name (e.g. "DC_DIMMER_STATUS_3").
	Name string `yaml:"name"`

	// Signals is the ordered signal layout.
	Signals []SignalDefinition `yaml:"signals"`
}

// Signal returns the named signal definition, if present.
func (d *MessageDefinition) Signal(name string) (*SignalDefinition, bool) {
	for i := range d.Signals {
		if d.Signals[i].Name == name {
			return &d.Signals[i], true
		}
	}
	return nil, false
}

// InstanceSignal returns the definition of the conventional "instance"
// signal, if this message carries one.
func (d *MessageDefinition) InstanceSignal() (*SignalDefinition, bool) {
	return d.Signal(SignalNameInstance)
}

// SignalNameInstance is the conventional name of the signal carrying
// the device instance. Its bit position is part of each message
// definition, not a protocol-wide constant.
const SignalNameInstance = "instance"

// SpecTable is the immutable index of known message definitions,
// keyed by DGN.
//
// The table is built once at startup and never mutated afterwards, so
// it is safe to share across goroutines without locking.
type SpecTable struct {
	byDGN map[uint32]*MessageDefinition
}

// specFile is the YAML document shape of a protocol specification file.
type specFile struct {
	Messages []MessageDefinition `yaml:"messages"`
}

// LoadSpec reads and validates a protocol specification from a YAML
// file. Any validation failure is fatal: the caller must refuse to
// start with an inconsistent table.
func LoadSpec(path string) (*SpecTable, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading protocol spec: %w", err)
	}

	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidSpec, path, err)
	}

	return NewSpecTable(file.Messages)
}

// NewSpecTable validates message definitions and builds the DGN index.
func NewSpecTable(defs []MessageDefinition) (*SpecTable, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no message definitions", ErrInvalidSpec)
	}

	byDGN := make(map[uint32]*MessageDefinition, len(defs))
	for i := range defs {
		def := &defs[i]

		if def.DGN > MaxDGN {
			return nil, fmt.Errorf("%w: DGN 0x%X exceeds 17 bits", ErrInvalidSpec, def.DGN)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("%w: DGN 0x%05X has no name", ErrInvalidSpec, def.DGN)
		}
		if _, dup := byDGN[def.DGN]; dup {
			return nil, fmt.Errorf("%w: duplicate DGN 0x%05X", ErrInvalidSpec, def.DGN)
		}

		if err := validateSignals(def); err != nil {
			return nil, err
		}

		byDGN[def.DGN] = def
	}

	return &SpecTable{byDGN: byDGN}, nil
}

// validateSignals checks one message's signal layout.
func validateSignals(def *MessageDefinition) error {
	seen := make(map[string]bool, len(def.Signals))
	for i := range def.Signals {
		sig := &def.Signals[i]

		if sig.Name == "" {
			return fmt.Errorf("%w: %s: unnamed signal", ErrInvalidSpec, def.Name)
		}
		if seen[sig.Name] {
			return fmt.Errorf("%w: %s: duplicate signal %q", ErrInvalidSpec, def.Name, sig.Name)
		}
		seen[sig.Name] = true

		if !validKinds[sig.Kind] {
			return fmt.Errorf("%w: %s/%s: unknown kind %q", ErrInvalidSpec, def.Name, sig.Name, sig.Kind)
		}
		if sig.BitLength < 1 || sig.BitLength > 64 {
			return fmt.Errorf("%w: %s/%s: bit length %d", ErrInvalidSpec, def.Name, sig.Name, sig.BitLength)
		}
		if sig.StartBit < 0 || sig.StartBit+sig.BitLength > maxPayloadBits {
			return fmt.Errorf("%w: %s/%s: bits %d-%d exceed payload",
				ErrInvalidSpec, def.Name, sig.Name, sig.StartBit, sig.StartBit+sig.BitLength-1)
		}
		if sig.Kind == KindASCII && (sig.StartBit%bitsPerByte != 0 || sig.BitLength%bitsPerByte != 0) {
			return fmt.Errorf("%w: %s/%s: ascii signals must be byte-aligned", ErrInvalidSpec, def.Name, sig.Name)
		}
		if sig.Kind == KindEnum && len(sig.Values) == 0 {
			return fmt.Errorf("%w: %s/%s: enum signal has no values", ErrInvalidSpec, def.Name, sig.Name)
		}
	}
	return nil
}

// Lookup returns the message definition for a DGN, if known.
func (t *SpecTable) Lookup(dgn uint32) (*MessageDefinition, bool) {
	def, ok := t.byDGN[dgn]
	return def, ok
}

// Has reports whether the table knows the given DGN.
func (t *SpecTable) Has(dgn uint32) bool {
	_, ok := t.byDGN[dgn]
	return ok
}

// Len returns the number of message definitions in the table.
func (t *SpecTable) Len() int {
	return len(t.byDGN)
}
