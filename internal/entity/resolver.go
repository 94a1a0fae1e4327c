package entity

// Resolve finds the descriptor owning a decoded frame.
//
// Lookup order:
//  1. exact (DGN, instance) on the primary index
//  2. exact (DGN, instance) on the companion status index
//  3. (DGN, "default") on the primary index
//  4. (DGN, "default") on the companion status index
//
// hasInstance is false for messages whose definition carries no
// instance signal (or whose instance decoded as unknown); those can
// only match "default" keyed descriptors. A frame matching nothing
// returns (nil, false) and is counted as unmapped by the caller.
func (t *Table) Resolve(dgn uint32, instance uint8, hasInstance bool) (*Descriptor, bool) {
	if hasInstance {
		key := mapKey{dgn: dgn, instance: InstanceKey(instance)}
		if d, ok := t.byKey[key]; ok {
			return d, true
		}
		if d, ok := t.byStatus[key]; ok {
			return d, true
		}
	}

	key := mapKey{dgn: dgn, instance: InstanceDefault}
	if d, ok := t.byKey[key]; ok {
		return d, true
	}
	if d, ok := t.byStatus[key]; ok {
		return d, true
	}

	return nil, false
}
