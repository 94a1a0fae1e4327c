package rvc

import "testing"

// testDefinitions returns a small but realistic message set used across
// the codec tests: a dimmer status, a dimmer command, a tank status
// with a sub-byte instance field, and a thermostat ambient temperature
// with signed-range scaling.
func testDefinitions() []MessageDefinition {
	return []MessageDefinition{
		{
			DGN:  0x1FEDA,
			Name: "DC_DIMMER_STATUS_3",
			Signals: []SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: KindUint},
				{Name: "group", StartBit: 8, BitLength: 8, Kind: KindBit},
				{Name: "operating_status", StartBit: 16, BitLength: 8, Kind: KindUint, Scale: 0.5, Unit: "%"},
				{Name: "lock_status", StartBit: 24, BitLength: 2, Kind: KindEnum, Values: map[uint64]string{
					0: "unlocked", 1: "locked",
				}},
				{Name: "overcurrent_status", StartBit: 26, BitLength: 2, Kind: KindEnum, Values: map[uint64]string{
					0: "normal", 1: "overcurrent",
				}},
				{Name: "load_status", StartBit: 32, BitLength: 2, Kind: KindEnum, Values: map[uint64]string{
					0: "off", 1: "on",
				}},
			},
		},
		{
			DGN:  0x1FEDB,
			Name: "DC_DIMMER_COMMAND_2",
			Signals: []SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: KindUint},
				{Name: "group", StartBit: 8, BitLength: 8, Kind: KindBit},
				{Name: "desired_level", StartBit: 16, BitLength: 8, Kind: KindUint, Scale: 0.5, Unit: "%"},
				{Name: "command", StartBit: 32, BitLength: 8, Kind: KindEnum, Values: map[uint64]string{
					0: "set_level", 1: "on_duration", 3: "off", 5: "toggle", 17: "ramp_up", 18: "ramp_down",
				}},
				{Name: "duration", StartBit: 24, BitLength: 8, Kind: KindUint, Unit: "s"},
			},
		},
		{
			DGN:  0x1FFB7,
			Name: "TANK_STATUS",
			Signals: []SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 4, Kind: KindUint},
				{Name: "fluid_type", StartBit: 4, BitLength: 4, Kind: KindEnum, Values: map[uint64]string{
					0: "fresh", 1: "black", 2: "grey", 3: "lpg",
				}},
				{Name: "relative_level", StartBit: 8, BitLength: 8, Kind: KindUint},
				{Name: "resolution", StartBit: 16, BitLength: 8, Kind: KindUint},
			},
		},
		{
			DGN:  0x1FF9C,
			Name: "THERMOSTAT_AMBIENT_STATUS",
			Signals: []SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: KindUint},
				{Name: "ambient_temp", StartBit: 8, BitLength: 16, Kind: KindUint, Scale: 0.03125, Offset: -273, Unit: "degC"},
			},
		},
	}
}

// testTable builds a validated SpecTable from testDefinitions, failing
// the test on any validation error.
func testTable(t *testing.T) *SpecTable {
	t.Helper()
	table, err := NewSpecTable(testDefinitions())
	if err != nil {
		t.Fatalf("NewSpecTable() error = %v", err)
	}
	return table
}

// ─── Table construction ────────────────────────────────────────────

func TestNewSpecTable(t *testing.T) {
	table := testTable(t)

	if table.Len() != 4 {
		t.Errorf("Len() = %d, want 4", table.Len())
	}
	if !table.Has(0x1FEDA) {
		t.Error("Has(0x1FEDA) = false, want true")
	}
	if table.Has(0x12345) {
		t.Error("Has(0x12345) = true, want false")
	}

	def, ok := table.Lookup(0x1FFB7)
	if !ok || def.Name != "TANK_STATUS" {
		t.Errorf("Lookup(0x1FFB7) = %v, %v; want TANK_STATUS, true", def, ok)
	}
}

func TestNewSpecTableValidation(t *testing.T) {
	valid := func() MessageDefinition {
		return MessageDefinition{
			DGN:  0x1FEDA,
			Name: "DC_DIMMER_STATUS_3",
			Signals: []SignalDefinition{
				{Name: "instance", StartBit: 0, BitLength: 8, Kind: KindUint},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*MessageDefinition)
	}{
		{"dgn over 17 bits", func(d *MessageDefinition) { d.DGN = 0x20000 }},
		{"missing message name", func(d *MessageDefinition) { d.Name = "" }},
		{"unnamed signal", func(d *MessageDefinition) { d.Signals[0].Name = "" }},
		{"unknown kind", func(d *MessageDefinition) { d.Signals[0].Kind = "float" }},
		{"zero bit length", func(d *MessageDefinition) { d.Signals[0].BitLength = 0 }},
		{"bit length over 64", func(d *MessageDefinition) { d.Signals[0].BitLength = 65 }},
		{"range past payload end", func(d *MessageDefinition) { d.Signals[0].StartBit = 60; d.Signals[0].BitLength = 8 }},
		{"unaligned ascii", func(d *MessageDefinition) { d.Signals[0].Kind = KindASCII; d.Signals[0].StartBit = 4 }},
		{"enum without values", func(d *MessageDefinition) { d.Signals[0].Kind = KindEnum }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(&def)
			if _, err := NewSpecTable([]MessageDefinition{def}); err == nil {
				t.Error("NewSpecTable() error = nil, want validation error")
			}
		})
	}

	t.Run("duplicate dgn", func(t *testing.T) {
		if _, err := NewSpecTable([]MessageDefinition{valid(), valid()}); err == nil {
			t.Error("NewSpecTable() error = nil, want duplicate DGN error")
		}
	})

	t.Run("duplicate signal name", func(t *testing.T) {
		def := valid()
		def.Signals = append(def.Signals, SignalDefinition{
			Name: "instance", StartBit: 8, BitLength: 8, Kind: KindUint,
		})
		if _, err := NewSpecTable([]MessageDefinition{def}); err == nil {
			t.Error("NewSpecTable() error = nil, want duplicate signal error")
		}
	})

	t.Run("empty table", func(t *testing.T) {
		if _, err := NewSpecTable(nil); err == nil {
			t.Error("NewSpecTable(nil) error = nil, want error")
		}
	})
}

func TestInstanceSignal(t *testing.T) {
	table := testTable(t)

	def, _ := table.Lookup(0x1FFB7)
	sig, ok := def.InstanceSignal()
	if !ok {
		t.Fatal("InstanceSignal() = false, want true")
	}
	if sig.StartBit != 0 || sig.BitLength != 4 {
		t.Errorf("instance at bits %d+%d, want 0+4", sig.StartBit, sig.BitLength)
	}
}
