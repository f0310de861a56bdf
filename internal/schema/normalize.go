package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/buger/jsonparser"

	"fieldconfig-backend/internal/fieldconfig"
)

// Property is the dialect-independent view of one field, before it becomes a
// descriptor.
type Property struct {
	ID       string
	Name     string
	Title    string
	Type     string
	Required bool
	IsArray  bool
}

// Result is a normalized document: the recognised dialect, the schema that
// was picked (for collection dialects) and the descriptor sequence.
type Result struct {
	Kind   Kind
	Schema string
	Fields fieldconfig.Sequence
}

var capitalRe = regexp.MustCompile(`([A-Z])`)

// FormatFieldName turns an identifier into a caption: "invoiceXid" becomes
// "Invoice Xid".
func FormatFieldName(key string) string {
	spaced := strings.Join(strings.Fields(capitalRe.ReplaceAllString(key, " $1")), " ")
	if spaced == "" {
		return ""
	}
	return strings.ToUpper(spaced[:1]) + spaced[1:]
}

// Normalize converts an arbitrary schema document into an ordered descriptor
// sequence. On any failure the returned sequence is empty.
func Normalize(raw []byte) (fieldconfig.Sequence, error) {
	res, err := NormalizeResult(raw)
	if err != nil {
		return fieldconfig.Sequence{}, err
	}
	return res.Fields, nil
}

// NormalizeResult is Normalize plus the dialect details. When the document
// holds several schemas, prefer names the ones to read; with no names the
// invoice schema is preferred.
func NormalizeResult(raw []byte, prefer ...string) (Result, error) {
	doc, err := Classify(raw)
	if err != nil {
		return Result{Fields: fieldconfig.Sequence{}}, err
	}
	switch d := doc.(type) {
	case SchemaCollection:
		d.Prefer = prefer
		doc = d
	case FlatDefinitions:
		d.Prefer = prefer
		doc = d
	}
	props, err := doc.Properties()
	if err != nil {
		return Result{Kind: doc.Kind(), Fields: fieldconfig.Sequence{}}, err
	}
	res := Result{Kind: doc.Kind(), Fields: Descriptors(props)}
	switch d := doc.(type) {
	case SchemaCollection:
		if s, ok := selectSchema(d.Schemas, d.Prefer); ok {
			res.Schema = s.Name
		}
	case FlatDefinitions:
		if s, ok := selectSchema(d.Schemas, d.Prefer); ok {
			res.Schema = s.Name
		}
	}
	return res, nil
}

// Descriptors maps properties to descriptors with deterministic defaults.
// Later duplicates of a key are dropped.
func Descriptors(props []Property) fieldconfig.Sequence {
	seq := make(fieldconfig.Sequence, 0, len(props))
	for _, p := range props {
		key := p.ID
		if key == "" {
			key = p.Name
		}
		if key == "" {
			continue
		}
		name := p.Name
		if name == "" {
			name = key
		}
		label := p.Title
		if label == "" {
			label = FormatFieldName(name)
		}

		d := fieldconfig.Descriptor{
			Key:       key,
			Label:     label,
			Display:   p.Required,
			Mandatory: p.Required,
			Disabled:  p.Required,
			DataType:  p.Type,
		}
		if p.IsArray {
			d.ValueType = fieldconfig.Array
			d.Default = fieldconfig.ListValue("")
			d.DataType = string(fieldconfig.Array)
		} else {
			d.ValueType = fieldconfig.Scalar
			d.Default = fieldconfig.ScalarValue("")
			if d.DataType == "" {
				d.DataType = "string"
			}
		}
		seq = append(seq, d)
	}
	return seq.Dedupe().Enforced()
}

func (d SchemaCollection) Properties() ([]Property, error) {
	s, ok := selectSchema(d.Schemas, d.Prefer)
	if !ok {
		return nil, nil
	}
	return schemaProperties(s.Raw)
}

func (d FlatDefinitions) Properties() ([]Property, error) {
	s, ok := selectSchema(d.Schemas, d.Prefer)
	if !ok {
		return nil, nil
	}
	return schemaProperties(s.Raw)
}

func (d ArrayList) Properties() ([]Property, error) {
	return entryProperties(d.Entries)
}

func (d ItemsWrapper) Properties() ([]Property, error) {
	return entryProperties(d.Entries)
}

func (d PropertiesMap) Properties() ([]Property, error) {
	return schemaProperties(d.Schema)
}

func (d RawKeyMap) Properties() ([]Property, error) {
	props := make([]Property, 0, len(d.Keys))
	for _, k := range d.Keys {
		props = append(props, Property{ID: k, Name: k})
	}
	return props, nil
}

// schemaProperties reads an object schema's properties map in document
// order. A key is required when the property says so or when it is listed
// in the schema's required array.
func schemaProperties(schema []byte) ([]Property, error) {
	if _, dt, _, err := jsonparser.Get(schema, "properties"); err != nil || dt != jsonparser.Object {
		return nil, nil
	}

	required := map[string]bool{}
	if _, dt, _, err := jsonparser.Get(schema, "required"); err == nil && dt == jsonparser.Array {
		_, _ = jsonparser.ArrayEach(schema, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType != jsonparser.String {
				return
			}
			if s, err := jsonparser.ParseString(value); err == nil {
				required[s] = true
			}
		}, "required")
	}

	var props []Property
	err := jsonparser.ObjectEach(schema, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		p := Property{ID: string(key), Name: string(key)}
		if dataType == jsonparser.Object {
			readAttributes(&p, value)
		}
		if required[p.ID] {
			p.Required = true
		}
		props = append(props, p)
		return nil
	}, "properties")
	if err != nil {
		return nil, fmt.Errorf("%w: properties: %v", ErrMalformedDocument, err)
	}
	return props, nil
}

// entryProperties converts field-list entries. Bare strings are identifiers;
// objects are read for id/key/name and schema attributes.
func entryProperties(entries [][]byte) ([]Property, error) {
	props := make([]Property, 0, len(entries))
	for _, e := range entries {
		if len(e) > 0 && e[0] == '"' {
			id, err := jsonparser.ParseString(e[1 : len(e)-1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
			}
			props = append(props, Property{ID: id, Name: id})
			continue
		}

		p := Property{
			ID:   firstString(e, "id", "key"),
			Name: firstString(e, "name"),
		}
		readAttributes(&p, e)
		if lbl := firstString(e, "label", "displayText"); p.Title == "" && lbl != "" {
			p.Title = lbl
		}
		if p.ID == "" {
			p.ID = p.Name
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		props = append(props, p)
	}
	return props, nil
}

func readAttributes(p *Property, value []byte) {
	p.Title = firstString(value, "title")
	p.Type = firstString(value, "type")
	if req, err := jsonparser.GetBoolean(value, "required"); err == nil {
		p.Required = req
	}
	p.IsArray = isArrayLike(value)
}

// isArrayLike is an inclusive OR of three signals: an explicit array type,
// an items sub-schema, or a nested properties.items that is itself
// array-like.
func isArrayLike(value []byte) bool {
	if t, err := jsonparser.GetString(value, "type"); err == nil && t == "array" {
		return true
	}
	if present(value, "items") {
		return true
	}
	nested, dt, _, err := jsonparser.Get(value, "properties", "items")
	if err != nil || dt != jsonparser.Object {
		return false
	}
	if t, err := jsonparser.GetString(nested, "type"); err == nil && t == "array" {
		return true
	}
	return present(nested, "items")
}

// present reports whether key exists with a truthy value.
func present(value []byte, key string) bool {
	v, dt, _, err := jsonparser.Get(value, key)
	if err != nil {
		return false
	}
	switch dt {
	case jsonparser.NotExist, jsonparser.Null:
		return false
	case jsonparser.Boolean:
		return string(v) == "true"
	case jsonparser.String:
		return len(v) > 0
	case jsonparser.Number:
		return string(v) != "0"
	default:
		return true
	}
}

func firstString(value []byte, keys ...string) string {
	for _, k := range keys {
		if s, err := jsonparser.GetString(value, k); err == nil && s != "" {
			return s
		}
	}
	return ""
}
