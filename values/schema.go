package values

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Field is one named value of a Schema.
type Field struct {
	Name string
	Type Type
}

// Schema is the ordered list of values making up one instance.
//
// It is encoded as a JSON/YAML mapping from value name to type tag, and the
// order of the mapping is preserved.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a Schema from fields. Names must be unique.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if err := s.add(f.Name, f.Type); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseSchema creates a Schema from alternating name and type tag pairs.
func ParseSchema(pairs ...string) (*Schema, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.Errorf("ParseSchema needs name/tag pairs, got %d strings", len(pairs))
	}
	s := &Schema{index: make(map[string]int, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		if err := s.addTag(pairs[i], pairs[i+1]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustParseSchema is ParseSchema that panics on error. Meant for schemas
// fixed at compile time.
func MustParseSchema(pairs ...string) *Schema {
	s, err := ParseSchema(pairs...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) add(name string, t Type) error {
	if name == "" {
		return errors.New("schema value with empty name")
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, found := s.index[name]; found {
		return errors.Errorf("schema value %q declared twice", name)
	}
	s.index[name] = len(s.fields)
	s.fields = append(s.fields, Field{Name: name, Type: t})
	return nil
}

func (s *Schema) addTag(name, tag string) error {
	t, err := ParseType(tag)
	if err != nil {
		return errors.Wrapf(err, "schema value %q", name)
	}
	return s.add(name, t)
}

// Len returns the number of values.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields returns the values in declaration order.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Lookup returns the type of value name.
func (s *Schema) Lookup(name string) (Type, bool) {
	i, found := s.index[name]
	if !found {
		return Type{}, false
	}
	return s.fields[i].Type, true
}

// Equal reports whether both schemas declare the same values, in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i, f := range s.fields {
		if other.fields[i] != f {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler, writing the values in order.
func (s *Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		tag, _ := json.Marshal(f.Type.String())
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(tag)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the document order.
func (s *Schema) UnmarshalJSON(data []byte) error {
	*s = Schema{index: make(map[string]int)}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "decoding values schema")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("values schema must be an object, got %v", tok)
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return errors.Wrap(err, "decoding values schema")
		}
		name := tok.(string)
		var tag string
		if err = dec.Decode(&tag); err != nil {
			return errors.Wrapf(err, "decoding type of value %q", name)
		}
		if err = s.addTag(name, tag); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// MarshalYAML implements yaml.Marshaler, writing the values in order.
func (s *Schema) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range s.fields {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Type.String()})
	}
	return node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler, keeping the document order.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	*s = Schema{index: make(map[string]int)}
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("values schema must be a mapping (line %d)", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := s.addTag(node.Content[i].Value, node.Content[i+1].Value); err != nil {
			return err
		}
	}
	return nil
}
