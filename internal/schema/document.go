package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

var (
	ErrMalformedDocument = errors.New("malformed schema document")
	ErrUnrecognizedShape = errors.New("unrecognized schema document shape")
)

// DefaultSchemaNames are the schema names preferred when a document holds
// several schemas and the caller names none.
var DefaultSchemaNames = []string{"invoice", "invoices"}

// Kind tags the dialect a schema document was recognised as.
type Kind int

const (
	KindSchemaCollection Kind = iota + 1
	KindFlatDefinitions
	KindArrayList
	KindItemsWrapper
	KindPropertiesMap
	KindRawKeyMap
)

func (k Kind) String() string {
	switch k {
	case KindSchemaCollection:
		return "schema_collection"
	case KindFlatDefinitions:
		return "flat_definitions"
	case KindArrayList:
		return "array_list"
	case KindItemsWrapper:
		return "items_wrapper"
	case KindPropertiesMap:
		return "properties_map"
	case KindRawKeyMap:
		return "raw_key_map"
	default:
		return "unknown"
	}
}

// Document is one of the closed set of recognised schema dialects. Each
// variant converts itself into an ordered list of properties.
type Document interface {
	Kind() Kind
	Properties() ([]Property, error)
}

// NamedSchema is one entry of a schema collection, kept in document order.
type NamedSchema struct {
	Name string
	Raw  []byte
}

// SchemaCollection is an OpenAPI 3 style components.schemas map. Prefer
// names the schemas to read, in order; empty means DefaultSchemaNames.
type SchemaCollection struct {
	Schemas []NamedSchema
	Prefer  []string
}

// FlatDefinitions is a Swagger 2 style definitions map.
type FlatDefinitions struct {
	Schemas []NamedSchema
	Prefer  []string
}

// ArrayList is a document that is itself the field list.
type ArrayList struct {
	Entries [][]byte
}

// ItemsWrapper is an object whose items array is the field list.
type ItemsWrapper struct {
	Entries [][]byte
}

// PropertiesMap is a single object schema with a properties map.
type PropertiesMap struct {
	Schema []byte
}

// RawKeyMap treats every top-level key as a field identifier.
type RawKeyMap struct {
	Keys []string
}

func (SchemaCollection) Kind() Kind { return KindSchemaCollection }
func (FlatDefinitions) Kind() Kind  { return KindFlatDefinitions }
func (ArrayList) Kind() Kind        { return KindArrayList }
func (ItemsWrapper) Kind() Kind     { return KindItemsWrapper }
func (PropertiesMap) Kind() Kind    { return KindPropertiesMap }
func (RawKeyMap) Kind() Kind        { return KindRawKeyMap }

// Classify recognises the dialect of raw, trying each shape in fixed
// priority order; the first match wins.
func Classify(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, ErrMalformedDocument
	}

	switch raw[0] {
	case '[':
		entries, err := arrayEntries(raw)
		if err != nil {
			return nil, err
		}
		return ArrayList{Entries: entries}, nil
	case '{':
	default:
		return nil, fmt.Errorf("%w: top-level value is not an object or array", ErrUnrecognizedShape)
	}

	if schemas, ok, err := namedSchemas(raw, "components", "schemas"); err != nil {
		return nil, err
	} else if ok {
		return SchemaCollection{Schemas: schemas}, nil
	}

	if schemas, ok, err := namedSchemas(raw, "definitions"); err != nil {
		return nil, err
	} else if ok {
		return FlatDefinitions{Schemas: schemas}, nil
	}

	if items, dt, _, err := jsonparser.Get(raw, "items"); err == nil {
		if dt != jsonparser.Array {
			return nil, fmt.Errorf("%w: items is %s, not a field list", ErrUnrecognizedShape, dt)
		}
		entries, err := arrayEntries(items)
		if err != nil {
			return nil, err
		}
		return ItemsWrapper{Entries: entries}, nil
	}

	if _, dt, _, err := jsonparser.Get(raw, "properties"); err == nil && dt == jsonparser.Object {
		return PropertiesMap{Schema: raw}, nil
	}

	keys, err := objectKeys(raw)
	if err != nil {
		return nil, err
	}
	return RawKeyMap{Keys: keys}, nil
}

func namedSchemas(raw []byte, path ...string) ([]NamedSchema, bool, error) {
	_, dt, _, err := jsonparser.Get(raw, path...)
	if err != nil || dt != jsonparser.Object {
		return nil, false, nil
	}
	var schemas []NamedSchema
	err = jsonparser.ObjectEach(raw, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Object {
			return nil
		}
		schemas = append(schemas, NamedSchema{Name: string(key), Raw: value})
		return nil
	}, path...)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, strings.Join(path, "."), err)
	}
	return schemas, true, nil
}

func arrayEntries(raw []byte) ([][]byte, error) {
	var entries [][]byte
	var iterErr error
	_, err := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil {
			iterErr = err
			return
		}
		switch dataType {
		case jsonparser.Object:
			entries = append(entries, value)
		case jsonparser.String:
			// a bare identifier; re-quote so it decodes like any other entry
			id, perr := jsonparser.ParseString(value)
			if perr != nil {
				iterErr = perr
				return
			}
			quoted, _ := json.Marshal(id)
			entries = append(entries, quoted)
		}
	})
	if err == nil {
		err = iterErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return entries, nil
}

func objectKeys(raw []byte, path ...string) ([]string, error) {
	var keys []string
	err := jsonparser.ObjectEach(raw, func(key, _ []byte, _ jsonparser.ValueType, _ int) error {
		keys = append(keys, string(key))
		return nil
	}, path...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return keys, nil
}

// selectSchema picks the first schema whose name matches one of prefer
// (case-insensitive, earlier names win), or the first one in document order.
func selectSchema(schemas []NamedSchema, prefer []string) (NamedSchema, bool) {
	if len(schemas) == 0 {
		return NamedSchema{}, false
	}
	if len(prefer) == 0 {
		prefer = DefaultSchemaNames
	}
	for _, want := range prefer {
		for _, s := range schemas {
			if strings.EqualFold(s.Name, want) {
				return s, true
			}
		}
	}
	return schemas[0], true
}
