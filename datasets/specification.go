package datasets

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// WorldSize is the size of the "world" images. It is encoded as a single
// integer for square worlds, or as [height, width].
type WorldSize struct {
	Height, Width int
}

// Square reports whether height and width are equal.
func (s WorldSize) Square() bool {
	return s.Height == s.Width
}

func (s WorldSize) encode() any {
	if s.Square() {
		return s.Height
	}
	return []int{s.Height, s.Width}
}

func (s *WorldSize) decode(sizes []int) error {
	switch len(sizes) {
	case 1:
		s.Height, s.Width = sizes[0], sizes[0]
	case 2:
		s.Height, s.Width = sizes[0], sizes[1]
	default:
		return errors.Errorf("world_size must be an integer or [height, width], got %v", sizes)
	}
	if s.Height < 0 || s.Width < 0 {
		return errors.Errorf("negative world_size %v", sizes)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s WorldSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.encode())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *WorldSize) UnmarshalJSON(data []byte) error {
	var size int
	if err := json.Unmarshal(data, &size); err == nil {
		return s.decode([]int{size})
	}
	var sizes []int
	if err := json.Unmarshal(data, &sizes); err != nil {
		return errors.Wrapf(err, "world_size must be an integer or [height, width]")
	}
	return s.decode(sizes)
}

// MarshalYAML implements yaml.Marshaler.
func (s WorldSize) MarshalYAML() (any, error) {
	return s.encode(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *WorldSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var size int
		if err := node.Decode(&size); err != nil {
			return err
		}
		return s.decode([]int{size})
	}
	var sizes []int
	if err := node.Decode(&sizes); err != nil {
		return err
	}
	return s.decode(sizes)
}

// Specification describes a dataset fully enough to reconstruct it from
// persisted state: what it produces, the sizes of its values, its
// vocabularies and where its pre-generated parts live.
type Specification struct {
	Type         string              `json:"type" yaml:"type"`
	Name         string              `json:"name" yaml:"name"`
	Values       *values.Schema      `json:"values" yaml:"values"`
	WorldSize    WorldSize           `json:"world_size" yaml:"world_size"`
	Vectors      map[string]int      `json:"vectors,omitempty" yaml:"vectors,omitempty"`
	Vocabularies map[string][]string `json:"vocabularies,omitempty" yaml:"vocabularies,omitempty"`
	Language     string              `json:"language,omitempty" yaml:"language,omitempty"`

	// Directory holds the train/validation/test parts of a loaded dataset.
	// Relative paths are resolved against the specification file.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`

	// Archive is the archive.Kind of the parts, empty for plain directories.
	Archive string `json:"archive,omitempty" yaml:"archive,omitempty"`

	// IncludeMetadata tells whether the parts hold the "model" values.
	IncludeMetadata bool `json:"include_metadata,omitempty" yaml:"include_metadata,omitempty"`

	// NumConcatImages is the number of images tiled into each image record
	// of a part, 0 if images are stored one per record.
	NumConcatImages int `json:"num_concat_images,omitempty" yaml:"num_concat_images,omitempty"`

	// Extra holds any other field of the document, for dataset specific
	// options. It is written back unchanged.
	Extra map[string]any `json:"-" yaml:"-"`
}

// Older documents use these names.
const (
	legacyIncludeMetadata = "include_model"
	legacyNumConcat       = "num_concat_worlds"
)

var specificationFields = []string{
	"type", "name", "values", "world_size", "vectors", "vocabularies", "language",
	"directory", "archive", "include_metadata", "num_concat_images",
	legacyIncludeMetadata, legacyNumConcat,
}

// specificationDocument is the YAML form, with the legacy field names.
type specificationDocument struct {
	Specification   `yaml:",inline"`
	IncludeModel    bool `yaml:"include_model"`
	NumConcatWorlds int  `yaml:"num_concat_worlds"`
}

func (doc *specificationDocument) resolve(extra map[string]any) *Specification {
	s := doc.Specification
	s.IncludeMetadata = s.IncludeMetadata || doc.IncludeModel
	if s.NumConcatImages == 0 {
		s.NumConcatImages = doc.NumConcatWorlds
	}
	for _, field := range specificationFields {
		delete(extra, field)
	}
	if len(extra) > 0 {
		s.Extra = extra
	}
	return &s
}

// ParseSpecification decodes a JSON specification document.
func ParseSpecification(data []byte) (*Specification, error) {
	// Decoding into Specification itself would recurse into UnmarshalJSON.
	var doc struct {
		plainSpecification
		IncludeModel    bool `json:"include_model"`
		NumConcatWorlds int  `json:"num_concat_worlds"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding dataset specification")
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, errors.Wrap(err, "decoding dataset specification")
	}
	s := (&specificationDocument{
		Specification:   Specification(doc.plainSpecification),
		IncludeModel:    doc.IncludeModel,
		NumConcatWorlds: doc.NumConcatWorlds,
	}).resolve(extra)
	return s, s.Validate()
}

// ParseSpecificationYAML decodes a YAML specification document.
func ParseSpecificationYAML(data []byte) (*Specification, error) {
	var doc specificationDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding dataset specification")
	}
	var extra map[string]any
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, errors.Wrap(err, "decoding dataset specification")
	}
	s := doc.resolve(extra)
	return s, s.Validate()
}

// plainSpecification has the fields of Specification without its methods.
type plainSpecification Specification

// MarshalJSON implements json.Marshaler, merging in the Extra fields.
func (s *Specification) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal((*plainSpecification)(s))
	if err != nil || len(s.Extra) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err = json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.Extra {
		if _, found := merged[key]; found {
			continue
		}
		if merged[key], err = json.Marshal(value); err != nil {
			return nil, errors.Wrapf(err, "encoding specification field %q", key)
		}
	}
	// Keep the known fields first and in declaration order.
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := make([]string, 0, len(merged))
	for _, key := range specificationFields {
		if _, found := merged[key]; found {
			keys = append(keys, key)
		}
	}
	var extraKeys []string
	for key := range merged {
		if !slices.Contains(specificationFields, key) {
			extraKeys = append(extraKeys, key)
		}
	}
	slices.Sort(extraKeys)
	for i, key := range append(keys, extraKeys...) {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(key)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(merged[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Specification) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSpecification(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// LoadSpecification reads a JSON or YAML (by extension) specification file.
// A relative Directory is resolved against the file's directory, and an
// empty one defaults to it.
func LoadSpecification(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading dataset specification")
	}
	var s *Specification
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = ParseSpecificationYAML(data)
	default:
		s, err = ParseSpecification(data)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	dir := filepath.Dir(path)
	if s.Directory == "" {
		s.Directory = dir
	} else if !filepath.IsAbs(s.Directory) {
		s.Directory = filepath.Join(dir, s.Directory)
	}
	return s, nil
}

// Save writes the specification as JSON, or as YAML if path ends in .yaml
// or .yml.
func (s *Specification) Save(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = s.marshalYAML()
	default:
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return errors.Wrapf(err, "encoding dataset specification %q", path)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "saving dataset specification")
}

func (s *Specification) marshalYAML() ([]byte, error) {
	var node yaml.Node
	if err := node.Encode((*plainSpecification)(s)); err != nil {
		return nil, err
	}
	var keys []string
	for key := range s.Extra {
		if !slices.Contains(specificationFields, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		var value yaml.Node
		if err := value.Encode(s.Extra[key]); err != nil {
			return nil, errors.Wrapf(err, "encoding specification field %q", key)
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &value)
	}
	return yaml.Marshal(&node)
}

// Validate checks the specification is consistent with its values schema:
// every vector value has a length, every token value a vocabulary and values
// with alternatives come with an "alternatives" count of type int.
func (s *Specification) Validate() error {
	if s.Type == "" || s.Name == "" {
		return errors.Errorf("dataset specification needs a type and a name, got %q and %q", s.Type, s.Name)
	}
	if s.Values == nil || s.Values.Len() == 0 {
		return errors.Errorf("dataset %s %s declares no values", s.Type, s.Name)
	}
	if s.Archive != "" {
		if _, err := archive.ParseKind(s.Archive); err != nil {
			return err
		}
	}
	hasAlternatives := false
	for _, f := range s.Values.Fields() {
		t := f.Type
		hasAlternatives = hasAlternatives || t.Alternatives
		switch {
		case f.Name == AlternativesValue && t != values.MustParseType("int"):
			return errors.Errorf("value %q must be of type int, got %s", AlternativesValue, t)
		case t.Kind == values.KindTokens:
			if _, found := s.Vocabularies[t.Vocabulary]; !found {
				return errors.Errorf("value %q uses vocabulary %q, which is not given", f.Name, t.Vocabulary)
			}
			fallthrough
		case t.IsVector():
			if length, found := s.Vectors[f.Name]; !found || length <= 0 {
				return errors.Errorf("vector value %q has no valid length in vectors", f.Name)
			}
		}
	}
	if _, found := s.Values.Lookup(AlternativesValue); hasAlternatives && !found {
		return errors.Errorf("values with alternatives need a %q value of type int", AlternativesValue)
	}
	return nil
}

// Shapes returns the sizes needed to allocate batches.
func (s *Specification) Shapes() values.Shapes {
	return values.Shapes{ImageHeight: s.WorldSize.Height, ImageWidth: s.WorldSize.Width, Vectors: s.Vectors}
}

// Clone returns a deep enough copy to be modified independently.
func (s *Specification) Clone() *Specification {
	c := *s
	if s.Vectors != nil {
		c.Vectors = make(map[string]int, len(s.Vectors))
		for name, length := range s.Vectors {
			c.Vectors[name] = length
		}
	}
	if s.Vocabularies != nil {
		c.Vocabularies = make(map[string][]string, len(s.Vocabularies))
		for name, words := range s.Vocabularies {
			c.Vocabularies[name] = slices.Clone(words)
		}
	}
	if s.Extra != nil {
		c.Extra = make(map[string]any, len(s.Extra))
		for key, value := range s.Extra {
			c.Extra[key] = value
		}
	}
	return &c
}
