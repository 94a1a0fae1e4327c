package entity

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// mappingFile is the YAML document shape of a device mapping file.
//
// Templates factor out the class/capability boilerplate shared by
// devices of the same kind; each entity entry names a template and
// supplies its own identity, instance and bus location. Templates are
// fully expanded at load time: the running system only ever sees
// concrete Descriptor records.
type mappingFile struct {
	Templates map[string]mappingTemplate `yaml:"templates"`
	Entities  []mappingEntity            `yaml:"entities"`
}

// mappingTemplate holds the fields shared by a family of devices.
type mappingTemplate struct {
	Class        DeviceClass  `yaml:"class"`
	Capabilities []Capability `yaml:"capabilities"`
	DGN          uint32       `yaml:"dgn"`
	StatusDGN    uint32       `yaml:"status_dgn"`
	GroupMask    *uint8       `yaml:"group_mask"`
}

// mappingEntity is one entity entry. Fields left empty inherit from
// the named template.
type mappingEntity struct {
	EntityID     string       `yaml:"id"`
	Name         string       `yaml:"name"`
	Area         string       `yaml:"area"`
	Template     string       `yaml:"template"`
	Class        DeviceClass  `yaml:"class"`
	Capabilities []Capability `yaml:"capabilities"`
	DGN          uint32       `yaml:"dgn"`
	Instance     string       `yaml:"instance"`
	StatusDGN    uint32       `yaml:"status_dgn"`
	GroupMask    *uint8       `yaml:"group_mask"`
	Interface    string       `yaml:"interface"`
}

// mapKey is the (DGN, instance) lookup key. Instance is a decimal
// string or "default".
type mapKey struct {
	dgn      uint32
	instance string
}

// Table is the immutable device mapping: every known entity, indexed
// for the three lookups the bridge performs.
//
// The table is built once at startup and never mutated afterwards, so
// it is safe to share across goroutines without locking.
type Table struct {
	byID     map[string]*Descriptor
	byKey    map[mapKey]*Descriptor
	byStatus map[mapKey]*Descriptor
	ordered  []*Descriptor
}

// LoadMapping reads and validates a device mapping from a YAML file.
// Any validation failure is fatal: the bridge must refuse to start
// with an inconsistent mapping.
func LoadMapping(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading device mapping: %w", err)
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidMapping, path, err)
	}

	descriptors, err := expandTemplates(&file)
	if err != nil {
		return nil, err
	}

	return NewTable(descriptors)
}

// expandTemplates resolves each entity entry against its template,
// producing fully concrete descriptors.
func expandTemplates(file *mappingFile) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(file.Entities))

	for i := range file.Entities {
		e := &file.Entities[i]

		d := Descriptor{
			EntityID:     e.EntityID,
			Name:         e.Name,
			Area:         e.Area,
			Class:        e.Class,
			Capabilities: e.Capabilities,
			DGN:          e.DGN,
			Instance:     e.Instance,
			StatusDGN:    e.StatusDGN,
			Interface:    e.Interface,
		}
		if e.GroupMask != nil {
			d.GroupMask = *e.GroupMask
		}

		if e.Template != "" {
			tpl, ok := file.Templates[e.Template]
			if !ok {
				return nil, fmt.Errorf("%w: entity %q references unknown template %q",
					ErrInvalidMapping, e.EntityID, e.Template)
			}
			if d.Class == "" {
				d.Class = tpl.Class
			}
			if len(d.Capabilities) == 0 {
				d.Capabilities = append([]Capability(nil), tpl.Capabilities...)
			}
			if d.DGN == 0 {
				d.DGN = tpl.DGN
			}
			if d.StatusDGN == 0 {
				d.StatusDGN = tpl.StatusDGN
			}
			if e.GroupMask == nil && tpl.GroupMask != nil {
				d.GroupMask = *tpl.GroupMask
			}
		}

		if d.Instance == "" {
			d.Instance = InstanceDefault
		}

		out = append(out, d)
	}

	return out, nil
}

// NewTable validates descriptors and builds the lookup indexes.
func NewTable(descriptors []Descriptor) (*Table, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: no entities defined", ErrInvalidMapping)
	}

	validClass := make(map[DeviceClass]bool, len(AllClasses()))
	for _, c := range AllClasses() {
		validClass[c] = true
	}
	validCap := make(map[Capability]bool, len(AllCapabilities()))
	for _, c := range AllCapabilities() {
		validCap[c] = true
	}

	t := &Table{
		byID:     make(map[string]*Descriptor, len(descriptors)),
		byKey:    make(map[mapKey]*Descriptor, len(descriptors)),
		byStatus: make(map[mapKey]*Descriptor),
		ordered:  make([]*Descriptor, 0, len(descriptors)),
	}

	for i := range descriptors {
		d := &descriptors[i]

		if d.EntityID == "" {
			return nil, fmt.Errorf("%w: entity with empty id", ErrInvalidMapping)
		}
		if _, dup := t.byID[d.EntityID]; dup {
			return nil, fmt.Errorf("%w: duplicate entity_id %q", ErrInvalidMapping, d.EntityID)
		}
		if !validClass[d.Class] {
			return nil, fmt.Errorf("%w: %s: class %q", ErrInvalidClass, d.EntityID, d.Class)
		}
		for _, c := range d.Capabilities {
			if !validCap[c] {
				return nil, fmt.Errorf("%w: %s: capability %q", ErrInvalidCapability, d.EntityID, c)
			}
		}
		if d.DGN == 0 || d.DGN > rvc.MaxDGN {
			return nil, fmt.Errorf("%w: %s: DGN 0x%X", ErrInvalidMapping, d.EntityID, d.DGN)
		}
		if d.StatusDGN > rvc.MaxDGN {
			return nil, fmt.Errorf("%w: %s: status DGN 0x%X", ErrInvalidMapping, d.EntityID, d.StatusDGN)
		}
		if _, err := parseInstance(d.Instance); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, d.EntityID, err)
		}

		key := mapKey{dgn: d.DGN, instance: d.Instance}
		if prev, dup := t.byKey[key]; dup {
			return nil, fmt.Errorf("%w: entities %q and %q share key (0x%05X, %s)",
				ErrInvalidMapping, prev.EntityID, d.EntityID, d.DGN, d.Instance)
		}

		t.byID[d.EntityID] = d
		t.byKey[key] = d
		t.ordered = append(t.ordered, d)

		if d.StatusDGN != 0 && d.StatusDGN != d.DGN {
			statusKey := mapKey{dgn: d.StatusDGN, instance: d.Instance}
			if prev, dup := t.byStatus[statusKey]; dup {
				return nil, fmt.Errorf("%w: entities %q and %q share status key (0x%05X, %s)",
					ErrInvalidMapping, prev.EntityID, d.EntityID, d.StatusDGN, d.Instance)
			}
			t.byStatus[statusKey] = d
		}
	}

	return t, nil
}

// parseInstance converts an instance key to its numeric form.
// "default" has no numeric form and returns (0, nil).
func parseInstance(s string) (uint8, error) {
	if s == InstanceDefault {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("instance %q is not a number or %q", s, InstanceDefault)
	}
	return uint8(n), nil
}

// InstanceKey formats a numeric instance as a mapping key.
func InstanceKey(instance uint8) string {
	return strconv.FormatUint(uint64(instance), 10)
}

// ValidateAgainst checks that every DGN the mapping references exists
// in the protocol specification table. A dangling reference is a
// configuration error and fatal at startup.
func (t *Table) ValidateAgainst(spec *rvc.SpecTable) error {
	for _, d := range t.ordered {
		if !spec.Has(d.DGN) {
			return fmt.Errorf("%w: %s: DGN 0x%05X not in protocol spec",
				ErrInvalidMapping, d.EntityID, d.DGN)
		}
		if d.StatusDGN != 0 && !spec.Has(d.StatusDGN) {
			return fmt.Errorf("%w: %s: status DGN 0x%05X not in protocol spec",
				ErrInvalidMapping, d.EntityID, d.StatusDGN)
		}
	}
	return nil
}

// Get returns the descriptor for an entity ID.
func (t *Table) Get(entityID string) (*Descriptor, bool) {
	d, ok := t.byID[entityID]
	return d, ok
}

// All returns every descriptor in mapping-file order.
func (t *Table) All() []*Descriptor {
	return t.ordered
}

// Len returns the number of entities in the table.
func (t *Table) Len() int {
	return len(t.ordered)
}
