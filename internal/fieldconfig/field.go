package fieldconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ValueType string

const (
	Scalar ValueType = "scalar"
	Array  ValueType = "array"
)

// DefaultValue is either a single string or, for array fields, an ordered
// list of string slots.
type DefaultValue struct {
	Text   string
	Slots  []string
	IsList bool
}

func ScalarValue(s string) DefaultValue { return DefaultValue{Text: s} }

func ListValue(slots ...string) DefaultValue {
	if len(slots) == 0 {
		slots = []string{""}
	}
	return DefaultValue{Slots: append([]string(nil), slots...), IsList: true}
}

// String renders the value for flat outputs: list slots are joined with "; "
// and blank slots are skipped.
func (v DefaultValue) String() string {
	if !v.IsList {
		return v.Text
	}
	parts := make([]string, 0, len(v.Slots))
	for _, s := range v.Slots {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func (v DefaultValue) Clone() DefaultValue {
	if v.IsList {
		v.Slots = append([]string(nil), v.Slots...)
	}
	return v
}

func (v DefaultValue) Equal(o DefaultValue) bool {
	if v.IsList != o.IsList {
		return false
	}
	if !v.IsList {
		return v.Text == o.Text
	}
	if len(v.Slots) != len(o.Slots) {
		return false
	}
	for i := range v.Slots {
		if v.Slots[i] != o.Slots[i] {
			return false
		}
	}
	return true
}

func (v DefaultValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		slots := v.Slots
		if slots == nil {
			slots = []string{}
		}
		return json.Marshal(slots)
	}
	return json.Marshal(v.Text)
}

func (v DefaultValue) MarshalYAML() (any, error) {
	if v.IsList {
		return append([]string{}, v.Slots...), nil
	}
	return v.Text, nil
}

func (v *DefaultValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = DefaultValue{}
		return nil
	}
	if data[0] == '[' {
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("default value list: %w", err)
		}
		slots := make([]string, len(raw))
		for i, item := range raw {
			slots[i] = stringify(item)
		}
		*v = DefaultValue{Slots: slots, IsList: true}
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("default value: %w", err)
	}
	if _, ok := raw.(map[string]any); ok {
		return fmt.Errorf("default value must be a string or a list of strings")
	}
	*v = DefaultValue{Text: stringify(raw)}
	return nil
}

// ValueFrom converts a decoded JSON value (string, number, bool, list) into a
// DefaultValue.
func ValueFrom(raw any) (DefaultValue, bool) {
	switch val := raw.(type) {
	case DefaultValue:
		return val.Clone(), true
	case string:
		return ScalarValue(val), true
	case []string:
		return DefaultValue{Slots: append([]string(nil), val...), IsList: true}, true
	case []any:
		slots := make([]string, len(val))
		for i, item := range val {
			slots[i] = stringify(item)
		}
		return DefaultValue{Slots: slots, IsList: true}, true
	case nil:
		return ScalarValue(""), true
	case float64, bool, int, int64:
		return ScalarValue(stringify(val)), true
	default:
		return DefaultValue{}, false
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Descriptor is one configurable form field.
type Descriptor struct {
	Key       string       `json:"key" yaml:"key"`
	Label     string       `json:"label" yaml:"label"`
	Default   DefaultValue `json:"defaultValue" yaml:"defaultValue"`
	ValueType ValueType    `json:"valueType" yaml:"valueType"`
	Display   bool         `json:"display" yaml:"display"`
	Mandatory bool         `json:"mandatory" yaml:"mandatory"`
	Disabled  bool         `json:"disabled" yaml:"disabled"`
	Section   string       `json:"section,omitempty" yaml:"section,omitempty"`
	DataType  string       `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	Group     string       `json:"group,omitempty" yaml:"group,omitempty"`
}

// wireDescriptor accepts the spellings used by the canonical config table,
// the schema-derived template format and hand-written upload files.
type wireDescriptor struct {
	Key          *string       `json:"key"`
	ID           *string       `json:"id"`
	FieldName    *string       `json:"field_name"`
	Name         *string       `json:"name"`
	Label        *string       `json:"label"`
	DisplayText  *string       `json:"displayText"`
	DisplayText2 *string       `json:"display_text"`
	Title        *string       `json:"title"`
	Default      *DefaultValue `json:"defaultValue"`
	Default2     *DefaultValue `json:"default_value"`
	ValueType    *string       `json:"valueType"`
	Type         *string       `json:"type"`
	DataType     *string       `json:"dataType"`
	DataType2    *string       `json:"data_type"`
	Display      *bool         `json:"display"`
	Visible      *bool         `json:"visible"`
	Mandatory    *bool         `json:"mandatory"`
	Required     *bool         `json:"required"`
	Section      *string       `json:"section"`
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Descriptor{
		Key:       firstString(w.Key, w.ID, w.FieldName, w.Name),
		Label:     firstString(w.Label, w.DisplayText, w.DisplayText2, w.Title),
		Display:   firstBool(w.Display, w.Visible),
		Mandatory: firstBool(w.Mandatory, w.Required),
		Section:   firstString(w.Section),
		DataType:  firstString(w.DataType, w.DataType2),
	}
	switch {
	case w.Default != nil:
		out.Default = *w.Default
	case w.Default2 != nil:
		out.Default = *w.Default2
	}

	vt := firstString(w.ValueType)
	if vt == "" && w.Type != nil && *w.Type == string(Array) {
		vt = string(Array)
	}
	if out.DataType == "" && w.Type != nil {
		out.DataType = *w.Type
	}
	switch {
	case vt == string(Array) || out.Default.IsList:
		out.ValueType = Array
	default:
		out.ValueType = Scalar
	}

	*d = out
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	d.Default = d.Default.Clone()
	return d
}
