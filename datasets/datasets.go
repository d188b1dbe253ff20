// Package datasets produces batches of typed training instances.
//
// A Dataset generates batches for a mode (train, validation or test). The
// variants provided here are:
//
//   - LoadedDataset replays instances pre-generated into on-disk parts,
//     drawing them without replacement.
//   - Mixer composes several datasets with the same schema into one, sampling
//     among them under a categorical distribution.
//   - Classification and CaptionAgreement generate instances from external
//     world, caption and realizer providers.
//
// Batches can be written back to disk with Serialize, and converted to gomlx
// tensors for training loops with Stream.
//
// Notes on shared tables:
//   - Every dataset owns its Tables (vector lengths and vocabularies) through
//     its Base. A Mixer replaces the Tables of its children, once, with the
//     union of all of them, so that their batches are interchangeable.
package datasets

import (
	"fmt"
	"maps"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/pkg/errors"
)

// AlternativesValue is the int value counting the alternatives of an instance.
const AlternativesValue = values.AlternativesName

// Mode selects the split a batch is generated for.
type Mode string

const (
	// ModeNone is the mode of datasets without splits. Loaded datasets serve
	// it from the train split.
	ModeNone       Mode = ""
	ModeTrain      Mode = "train"
	ModeValidation Mode = "validation"
	ModeTest       Mode = "test"
)

// Modes lists the modes with their own split.
var Modes = []Mode{ModeTrain, ModeValidation, ModeTest}

// ParseMode parses a mode name. "" and "none" yield ModeNone.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeNone, "none":
		return ModeNone, nil
	case ModeTrain, ModeValidation, ModeTest:
		return Mode(name), nil
	}
	return ModeNone, errors.Errorf("unknown mode %q, valid modes are train, validation and test", name)
}

// ErrBatchSize is returned by Generate for a negative number of instances.
var ErrBatchSize = errors.New("negative batch size")

func checkBatchSize(n int) error {
	if n < 0 {
		return errors.Wrapf(ErrBatchSize, "%d instances", n)
	}
	return nil
}

// GenerateOptions configures Dataset.Generate.
type GenerateOptions struct {
	Mode Mode

	// NoiseRange is the scale of the Gaussian noise added to images. Zero
	// disables noise.
	NoiseRange float64

	// IncludeMetadata fills the "model" values.
	IncludeMetadata bool

	// Alternatives keeps all alternatives of "alts(...)" values. Otherwise a
	// single one is kept per instance.
	Alternatives bool
}

func (o GenerateOptions) zeroOptions() values.ZeroOptions {
	return values.ZeroOptions{IncludeMetadata: o.IncludeMetadata, Alternatives: o.Alternatives}
}

// Dataset generates batches of instances.
//
// Implementations embed a *Base, which provides all methods but Generate.
// Generate must always return batches shaped by Base.ZeroBatch.
type Dataset interface {
	Descriptor() Descriptor
	Specification() *Specification
	Tables() *Tables
	Share(tables *Tables) error
	Shared() bool
	Generate(n int, opts GenerateOptions) (*values.Batch, error)
	String() string
}

// Descriptor identifies what a dataset produces.
type Descriptor struct {
	Type     string
	Name     string
	Language string
	Schema   *values.Schema
}

// String returns "type name" or "type name (language)".
func (d Descriptor) String() string {
	if d.Language == "" {
		return fmt.Sprintf("%s %s", d.Type, d.Name)
	}
	return fmt.Sprintf("%s %s (%s)", d.Type, d.Name, d.Language)
}

// Tables holds the vector lengths and vocabularies a dataset encodes with.
// It is not modified after construction and can be shared among datasets.
type Tables struct {
	WorldSize    WorldSize
	Vectors      map[string]int
	Vocabularies map[string]*vocab.Vocabulary
}

// NewTables builds the tables described by a specification.
func NewTables(spec *Specification) *Tables {
	t := &Tables{
		WorldSize:    spec.WorldSize,
		Vectors:      maps.Clone(spec.Vectors),
		Vocabularies: make(map[string]*vocab.Vocabulary, len(spec.Vocabularies)),
	}
	if t.Vectors == nil {
		t.Vectors = make(map[string]int)
	}
	for name, words := range spec.Vocabularies {
		t.Vocabularies[name] = vocab.New(words)
	}
	return t
}

// Shapes returns the sizes used to allocate batches.
func (t *Tables) Shapes() values.Shapes {
	return values.Shapes{ImageHeight: t.WorldSize.Height, ImageWidth: t.WorldSize.Width, Vectors: t.Vectors}
}

// Base carries what every Dataset has in common: its descriptor and tables.
type Base struct {
	descriptor Descriptor
	spec       *Specification
	tables     *Tables
	shared     bool
}

// NewBase creates the Base of a dataset described by spec. spec is validated
// and owned by the Base from then on.
func NewBase(spec *Specification) (*Base, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Base{
		descriptor: Descriptor{Type: spec.Type, Name: spec.Name, Language: spec.Language, Schema: spec.Values},
		spec:       spec,
		tables:     NewTables(spec),
	}, nil
}

// Descriptor returns what the dataset produces.
func (b *Base) Descriptor() Descriptor { return b.descriptor }

// Schema returns the values of one instance.
func (b *Base) Schema() *values.Schema { return b.descriptor.Schema }

// Tables returns the vector lengths and vocabularies in use.
func (b *Base) Tables() *Tables { return b.tables }

// String implements fmt.Stringer.
func (b *Base) String() string { return b.descriptor.String() }

// Vocabulary returns the vocabulary used by values of the given type, or nil
// for values that are not token sequences.
func (b *Base) Vocabulary(t values.Type) *vocab.Vocabulary {
	if t.Kind != values.KindTokens {
		return nil
	}
	return b.tables.Vocabularies[t.Vocabulary]
}

// ZeroBatch allocates an empty batch of n instances.
func (b *Base) ZeroBatch(n int, opts GenerateOptions) *values.Batch {
	return values.ZeroBatch(b.descriptor.Schema, n, b.tables.Shapes(), opts.zeroOptions())
}

// Specification returns the specification of the dataset, reflecting the
// tables currently in use.
func (b *Base) Specification() *Specification {
	spec := b.spec.Clone()
	spec.WorldSize = b.tables.WorldSize
	spec.Vectors = maps.Clone(b.tables.Vectors)
	if len(b.tables.Vocabularies) > 0 {
		spec.Vocabularies = make(map[string][]string, len(b.tables.Vocabularies))
		for name, v := range b.tables.Vocabularies {
			spec.Vocabularies[name] = v.Words()
		}
	}
	return spec
}

// Shared returns whether the dataset already encodes with shared tables.
func (b *Base) Shared() bool { return b.shared }

// Share makes the dataset encode with tables from now on. It can only be
// called once per dataset: a dataset can be part of a single Mixer.
func (b *Base) Share(tables *Tables) error {
	if b.shared {
		return errors.Errorf("dataset %s already uses shared tables", b)
	}
	if tables.WorldSize != b.tables.WorldSize {
		return errors.Errorf("shared tables world size %v differs from %v of dataset %s",
			tables.WorldSize, b.tables.WorldSize, b)
	}
	b.tables = tables
	b.shared = true
	return nil
}
