package fieldconfig

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// coreFields must always exist, stay visible and keep their default value.
var coreFields = map[string]bool{
	"itemXid":    true,
	"domainName": true,
	"itemGid":    true,
	"itemName":   true,
}

// IsCore reports whether key belongs to the fixed core-field allow-list.
func IsCore(key string) bool {
	return coreFields[key]
}

// CoreFields returns the core-field identifiers in a stable order.
func CoreFields() []string {
	return []string{"itemXid", "domainName", "itemGid", "itemName"}
}

// Enforce restores the per-field invariants on d in place:
// mandatory or core fields are disabled and displayed, and array fields
// always carry at least one default slot.
func Enforce(d *Descriptor) {
	d.Disabled = d.Mandatory || IsCore(d.Key)
	if d.Disabled {
		d.Display = true
	}

	switch d.ValueType {
	case Array:
		if !d.Default.IsList {
			if d.Default.Text != "" {
				d.Default = ListValue(d.Default.Text)
			} else {
				d.Default = ListValue()
			}
		}
		if len(d.Default.Slots) == 0 {
			d.Default.Slots = []string{""}
		}
	default:
		d.ValueType = Scalar
		if d.Default.IsList {
			d.Default = ScalarValue(d.Default.String())
		}
	}
}

// Validate checks a single descriptor's shape.
func (d Descriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Key, validation.Required, validation.Length(1, 100)),
		validation.Field(&d.Label, validation.Length(0, 255)),
		validation.Field(&d.ValueType, validation.In(Scalar, Array)),
	)
}

// Sequence is an ordered list of descriptors with unique keys.
type Sequence []Descriptor

// Clone returns a deep copy; a nil sequence clones to an empty one.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, d := range s {
		out[i] = d.Clone()
	}
	return out
}

// Keys returns the descriptor keys in order.
func (s Sequence) Keys() []string {
	keys := make([]string, len(s))
	for i, d := range s {
		keys[i] = d.Key
	}
	return keys
}

// Index returns the position of key, or -1.
func (s Sequence) Index(key string) int {
	for i := range s {
		if s[i].Key == key {
			return i
		}
	}
	return -1
}

// Enforced returns a deep copy with every descriptor's invariants restored.
func (s Sequence) Enforced() Sequence {
	out := s.Clone()
	for i := range out {
		Enforce(&out[i])
	}
	return out
}

// Dedupe drops every descriptor whose key already appeared earlier.
func (s Sequence) Dedupe() Sequence {
	seen := make(map[string]bool, len(s))
	out := make(Sequence, 0, len(s))
	for _, d := range s {
		if seen[d.Key] {
			continue
		}
		seen[d.Key] = true
		out = append(out, d)
	}
	return out
}

// Validate reports per-descriptor problems and duplicate keys, keyed by
// position.
func (s Sequence) Validate() error {
	errs := validation.Errors{}
	seen := make(map[string]int, len(s))
	for i, d := range s {
		if err := d.Validate(); err != nil {
			errs[fmt.Sprintf("%d", i)] = err
			continue
		}
		if first, ok := seen[d.Key]; ok {
			errs[fmt.Sprintf("%d", i)] = fmt.Errorf("duplicate key %q (first at %d)", d.Key, first)
			continue
		}
		seen[d.Key] = i
	}
	return errs.Filter()
}

// Filter returns the descriptors whose key or label contains term,
// case-insensitively. An empty term matches everything.
func (s Sequence) Filter(term string) Sequence {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return s.Clone()
	}
	out := Sequence{}
	for _, d := range s {
		if strings.Contains(strings.ToLower(d.Key), term) || strings.Contains(strings.ToLower(d.Label), term) {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Displayed returns the display==true subset in order.
func (s Sequence) Displayed() Sequence {
	out := Sequence{}
	for _, d := range s {
		if d.Display {
			out = append(out, d.Clone())
		}
	}
	return out
}
