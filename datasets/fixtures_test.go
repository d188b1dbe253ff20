package datasets

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/stretchr/testify/require"
)

func init() {
	Register("sequence", "registered", func(spec *Specification) (Dataset, error) {
		return newSequenceDataset("registered", 0, []string{"blue", "red", "square"})
	})
}

// sequenceDataset numbers its instances from a starting id, and derives
// every other value from the id.
type sequenceDataset struct {
	*Base

	words []string
	next  int32
}

var sequenceSchema = values.MustParseSchema(
	"id", "int",
	"vec", "vector(float)",
	"words", "language",
	"world", "world",
	"world_model", "model",
	"ignored", "skip",
)

func newSequenceDataset(name string, start int32, words []string) (*sequenceDataset, error) {
	base, err := NewBase(&Specification{
		Type:         "sequence",
		Name:         name,
		Values:       sequenceSchema,
		WorldSize:    WorldSize{Height: 4, Width: 4},
		Vectors:      map[string]int{"vec": 2, "words": 2},
		Vocabularies: map[string][]string{"language": words},
	})
	if err != nil {
		return nil, err
	}
	return &sequenceDataset{Base: base, words: words, next: start}, nil
}

func mustSequenceDataset(t *testing.T, name string, start int32, words ...string) *sequenceDataset {
	t.Helper()
	if len(words) == 0 {
		words = []string{"blue", "red", "square"}
	}
	ds, err := newSequenceDataset(name, start, words)
	require.NoError(t, err)
	return ds
}

// wordOf is the word stored in the "words" value of instance id.
func (s *sequenceDataset) wordOf(id int32) string {
	return s.words[int(id)%len(s.words)]
}

func (s *sequenceDataset) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	batch := s.ZeroBatch(n, opts)
	ids := values.Get[int32](batch, "id")
	vecs := values.Get[[]float32](batch, "vec")
	words := values.Get[[]int32](batch, "words")
	worlds := values.Get[*values.Image](batch, "world")
	models := values.Get[any](batch, "world_model")
	language := s.Tables().Vocabularies["language"]
	for i := 0; i < n; i++ {
		id := s.next
		s.next++
		ids[i] = id
		vecs[i][0] = float32(id)
		wordID, _ := language.ID(s.wordOf(id))
		words[i][0] = int32(wordID)
		for p := range worlds[i].Pix {
			worlds[i].Pix[p] = float32(int(id)%256) / 255
		}
		if opts.IncludeMetadata {
			models[i] = map[string]any{"id": float64(id)}
		}
	}
	return batch, nil
}

// altsDataset has a value with two alternatives per instance.
type altsDataset struct {
	*Base
	next int32
}

func newAltsDataset(t *testing.T) *altsDataset {
	t.Helper()
	base, err := NewBase(&Specification{
		Type:   "alts",
		Name:   "test",
		Values: values.MustParseSchema("id", "int", AlternativesValue, "int", "scores", "alts(float)"),
	})
	require.NoError(t, err)
	return &altsDataset{Base: base}
}

func (a *altsDataset) Generate(n int, opts GenerateOptions) (*values.Batch, error) {
	batch := a.ZeroBatch(n, opts)
	ids := values.Get[int32](batch, "id")
	for i := 0; i < n; i++ {
		id := a.next
		a.next++
		ids[i] = id
		if opts.Alternatives {
			values.Get[int32](batch, AlternativesValue)[i] = 2
			values.Get[[]float32](batch, "scores")[i] = []float32{float32(id), float32(id) + 0.5}
		} else {
			values.Get[float32](batch, "scores")[i] = float32(id)
		}
	}
	return batch, nil
}

// partsLayout describes the parts writeParts creates.
type partsLayout struct {
	// Splits maps a mode to its number of parts. ModeNone writes parts at the
	// root of the directory.
	Splits   map[Mode]int
	PartSize int
	Archive  archive.Kind

	IncludeMetadata bool
	ConcatImages    bool
	Alternatives    bool
}

// writeParts generates parts of ds into dir, with a specification file, and
// returns dir.
func writeParts(t *testing.T, ds Dataset, dir string, layout partsLayout) string {
	t.Helper()
	for mode, count := range layout.Splits {
		for k := 0; k < count; k++ {
			batch, err := ds.Generate(layout.PartSize, GenerateOptions{
				Mode:            mode,
				IncludeMetadata: layout.IncludeMetadata,
				Alternatives:    layout.Alternatives,
			})
			require.NoError(t, err)
			path := filepath.Join(dir, string(mode), fmt.Sprintf("part%d", k))
			require.NoError(t, Serialize(path, ds, batch, SerializeOptions{
				Archive:      layout.Archive,
				ConcatImages: layout.ConcatImages,
			}))
		}
	}
	spec := ds.Specification()
	spec.Archive = string(layout.Archive)
	spec.IncludeMetadata = layout.IncludeMetadata
	if layout.ConcatImages {
		spec.NumConcatImages = layout.PartSize
	}
	require.NoError(t, spec.Save(filepath.Join(dir, "specification.json")))
	return dir
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}
