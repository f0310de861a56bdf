package fieldconfig

// ChangeKind classifies one entry of a sequence diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change describes how one descriptor differs between two sequences.
// Fields maps attribute -> {old, new} for modified descriptors.
type Change struct {
	Key    string                    `json:"key"`
	Kind   ChangeKind                `json:"kind"`
	Fields map[string]map[string]any `json:"fields,omitempty"`
}

// Diff lists the changes that turn base into current. Added and modified
// entries follow current's order; removed entries follow base's order and
// come last.
func Diff(base, current Sequence) []Change {
	baseByKey := make(map[string]Descriptor, len(base))
	for _, d := range base {
		baseByKey[d.Key] = d
	}

	var changes []Change
	seen := make(map[string]bool, len(current))
	for _, cur := range current {
		seen[cur.Key] = true
		old, ok := baseByKey[cur.Key]
		if !ok {
			changes = append(changes, Change{Key: cur.Key, Kind: ChangeAdded})
			continue
		}
		if fields := computeChanges(old, cur); len(fields) > 0 {
			changes = append(changes, Change{Key: cur.Key, Kind: ChangeModified, Fields: fields})
		}
	}
	for _, old := range base {
		if !seen[old.Key] {
			changes = append(changes, Change{Key: old.Key, Kind: ChangeRemoved})
		}
	}
	return changes
}

// Equal reports whether two sequences hold the same descriptors in the same
// order, ignoring derived grouping.
func Equal(a, b Sequence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || len(computeChanges(a[i], b[i])) > 0 {
			return false
		}
	}
	return true
}

func computeChanges(old, cur Descriptor) map[string]map[string]any {
	changes := map[string]map[string]any{}
	add := func(name string, o, n any) {
		changes[name] = map[string]any{"old": o, "new": n}
	}
	if old.Label != cur.Label {
		add(string(AttrLabel), old.Label, cur.Label)
	}
	if !old.Default.Equal(cur.Default) {
		add(string(AttrDefaultValue), old.Default, cur.Default)
	}
	if old.ValueType != cur.ValueType {
		add("valueType", old.ValueType, cur.ValueType)
	}
	if old.Display != cur.Display {
		add(string(AttrDisplay), old.Display, cur.Display)
	}
	if old.Mandatory != cur.Mandatory {
		add(string(AttrMandatory), old.Mandatory, cur.Mandatory)
	}
	if old.Section != cur.Section {
		add(string(AttrSection), old.Section, cur.Section)
	}
	return changes
}
