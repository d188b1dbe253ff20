// Package values describes the per-instance values a dataset produces and
// how they are laid out in batches and encoded into records.
//
// A value is declared by a Type tag such as "int", "vector(float)", "world"
// or the name of a vocabulary. Wrapping any tag but "skip" and "model" as
// "alts(<tag>)" turns each instance into a variable-length list of
// alternatives of that type.
package values

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the value shapes.
type Kind uint8

const (
	KindSkip Kind = iota
	KindInt
	KindFloat
	KindIntVector
	KindFloatVector
	KindImage
	KindTokens
	KindStrings
	KindStringLists
	KindStringListLists
	KindMetadata
)

var kindTags = map[Kind]string{
	KindSkip:            "skip",
	KindInt:             "int",
	KindFloat:           "float",
	KindIntVector:       "vector(int)",
	KindFloatVector:     "vector(float)",
	KindImage:           "world",
	KindStrings:         "str_list",
	KindStringLists:     "str_list_list",
	KindStringListLists: "str_list_list_list",
	KindMetadata:        "model",
}

var tagKinds = map[string]Kind{
	"image":    KindImage,
	"metadata": KindMetadata,
}

func init() {
	for kind, tag := range kindTags {
		tagKinds[tag] = kind
	}
}

// String returns the canonical tag of the kind. KindTokens has no tag of its
// own: its tag is the vocabulary name.
func (k Kind) String() string {
	if tag, found := kindTags[k]; found {
		return tag
	}
	if k == KindTokens {
		return "tokens"
	}
	return "invalid"
}

// Type is a parsed value tag.
type Type struct {
	Kind Kind

	// Vocabulary names the vocabulary used by KindTokens values.
	Vocabulary string

	// Alternatives marks a value holding a list of instances per slot.
	Alternatives bool
}

const (
	altsPrefix = "alts("
	altsSuffix = ")"
)

// ParseType parses a value tag. Any tag that is not one of the built-in ones
// names a vocabulary and yields a KindTokens type.
func ParseType(tag string) (Type, error) {
	var t Type
	if len(tag) > len(altsPrefix) && strings.HasPrefix(tag, altsPrefix) && strings.HasSuffix(tag, altsSuffix) {
		t.Alternatives = true
		tag = tag[len(altsPrefix) : len(tag)-len(altsSuffix)]
	}
	if tag == "" {
		return Type{}, errors.New("empty value type tag")
	}
	if kind, found := tagKinds[tag]; found {
		t.Kind = kind
	} else {
		t.Kind = KindTokens
		t.Vocabulary = tag
	}
	if t.Alternatives && (t.Kind == KindSkip || t.Kind == KindMetadata) {
		return Type{}, errors.Errorf("value type %q cannot take alternatives", tag)
	}
	return t, nil
}

// MustParseType is ParseType for tags known to be valid. It panics otherwise.
func MustParseType(tag string) Type {
	t, err := ParseType(tag)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the tag that parses back into t.
func (t Type) String() string {
	tag := t.Kind.String()
	if t.Kind == KindTokens {
		tag = t.Vocabulary
	}
	if t.Alternatives {
		return altsPrefix + tag + altsSuffix
	}
	return tag
}

// IsVector reports whether instances are fixed-length numeric vectors,
// sized by the dataset's vector table.
func (t Type) IsVector() bool {
	return t.Kind == KindIntVector || t.Kind == KindFloatVector || t.Kind == KindTokens
}
