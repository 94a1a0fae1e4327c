package rvc

import (
	"errors"
	"math"
	"testing"
)

// ─── Signal packing ────────────────────────────────────────────────

func TestEncodeDimmerCommand(t *testing.T) {
	table := testTable(t)
	def, _ := table.Lookup(0x1FEDB)

	data, err := EncodeSignals(def, map[string]any{
		"instance":      float64(25),
		"desired_level": float64(50),
		"command":       "set_level",
	})
	if err != nil {
		t.Fatalf("EncodeSignals() error = %v", err)
	}

	want := []byte{25, 0x00, 100, 0x00, 0x00}
	if len(data) != len(want) {
		t.Fatalf("payload length = %d, want %d", len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("data[%d] = 0x%02X, want 0x%02X", i, data[i], want[i])
		}
	}
}

func TestEncodeEnumByRawValue(t *testing.T) {
	table := testTable(t)
	def, _ := table.Lookup(0x1FEDB)

	data, err := EncodeSignals(def, map[string]any{"command": float64(3)})
	if err != nil {
		t.Fatalf("EncodeSignals() error = %v", err)
	}
	if data[4] != 3 {
		t.Errorf("command byte = %d, want 3", data[4])
	}
}

func TestEncodeErrors(t *testing.T) {
	table := testTable(t)
	def, _ := table.Lookup(0x1FEDB)

	tests := []struct {
		name    string
		values  map[string]any
		wantErr error
	}{
		{"unknown signal", map[string]any{"brightness": float64(1)}, ErrUnknownSignal},
		{"level above range", map[string]any{"desired_level": float64(200)}, ErrValueOutOfRange},
		{"negative level", map[string]any{"desired_level": float64(-1)}, ErrValueOutOfRange},
		{"unknown enum label", map[string]any{"command": "sparkle"}, ErrValueOutOfRange},
		{"wrong value type", map[string]any{"instance": "ten"}, ErrNotEncodable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeSignals(def, tt.values)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("EncodeSignals() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeSubByteFields(t *testing.T) {
	table := testTable(t)
	def, _ := table.Lookup(0x1FFB7)

	data, err := EncodeSignals(def, map[string]any{
		"instance":   float64(2),
		"fluid_type": "grey",
	})
	if err != nil {
		t.Fatalf("EncodeSignals() error = %v", err)
	}
	if data[0] != 0x22 {
		t.Errorf("byte 0 = 0x%02X, want 0x22 (instance 2, grey)", data[0])
	}
}

// ─── Decode/encode round trip ──────────────────────────────────────

func TestEncodeDecodeRoundTrip(t *testing.T) {
	table := testTable(t)

	tests := []struct {
		name   string
		dgn    uint32
		values map[string]any
	}{
		{
			"dimmer command",
			0x1FEDB,
			map[string]any{
				"instance":      float64(25),
				"desired_level": float64(75),
				"command":       "toggle",
				"duration":      float64(30),
			},
		},
		{
			"tank status",
			0x1FFB7,
			map[string]any{
				"instance":       float64(1),
				"fluid_type":     "fresh",
				"relative_level": float64(42),
				"resolution":     float64(100),
			},
		},
		{
			"scaled temperature",
			0x1FF9C,
			map[string]any{
				"instance":     float64(3),
				"ambient_temp": 21.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := table.Lookup(tt.dgn)
			if !ok {
				t.Fatalf("Lookup(0x%05X) failed", tt.dgn)
			}

			data, err := EncodeSignals(def, tt.values)
			if err != nil {
				t.Fatalf("EncodeSignals() error = %v", err)
			}

			dec := Decode(table, Frame{ID: BuildID(6, tt.dgn, 0x99), Data: data})
			if !dec.Complete || dec.Partial {
				t.Fatalf("decode flags complete=%v partial=%v, want true/false", dec.Complete, dec.Partial)
			}

			for name, in := range tt.values {
				out, ok := dec.Signals[name]
				if !ok {
					t.Fatalf("signal %q missing from decode", name)
				}
				sig, _ := def.Signal(name)
				switch v := in.(type) {
				case string:
					if out.Label != v {
						t.Errorf("%s label = %q, want %q", name, out.Label, v)
					}
				case float64:
					// Values survive the trip to within one quantisation
					// step of the signal's scale.
					if math.Abs(out.Numeric-v) > sig.scaleOr1()/2 {
						t.Errorf("%s = %v, want %v (scale %v)", name, out.Numeric, v, sig.scaleOr1())
					}
				}
			}
		})
	}
}
