package datasets

import (
	"testing"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/Noofbiz/shapeworld/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixerUnion(t *testing.T) {
	first := mustSequenceDataset(t, "first", 0, "a", "b")
	second := mustSequenceDataset(t, "second", 0, "b", "c")
	second.Base.tables.Vectors["vec"] = 5
	m, err := NewMixer([]Dataset{first, second}, MixerOptions{Rand: seeded(7)})
	require.NoError(t, err)

	shared := m.Tables().Vocabularies["language"]
	assert.Equal(t, []string{vocab.Padding, "a", "b", "c", vocab.Unknown}, shared.Words())
	assert.Same(t, shared, first.Tables().Vocabularies["language"])
	assert.Same(t, shared, second.Tables().Vocabularies["language"])
	assert.Equal(t, 5, first.Tables().Vectors["vec"])
	assert.Equal(t, MixerName, m.Descriptor().Name)
	assert.Equal(t, []string{vocab.Padding, "a", "b", "c", vocab.Unknown}, m.Specification().Vocabularies["language"])

	// Instance 1 of the first dataset and instance 0 of the second are "b".
	b, _ := shared.ID("b")
	_, err = first.Generate(1, GenerateOptions{})
	require.NoError(t, err)
	fromFirst, err := first.Generate(1, GenerateOptions{})
	require.NoError(t, err)
	fromSecond, err := second.Generate(1, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int32{int32(b), 0}, values.Get[[]int32](fromFirst, "words")[0])
	assert.Equal(t, []int32{int32(b), 0}, values.Get[[]int32](fromSecond, "words")[0])
	assert.Len(t, values.Get[[]float32](fromFirst, "vec")[0], 5)

	_, err = NewMixer([]Dataset{first}, MixerOptions{})
	assert.Error(t, err, "a dataset can only be mixed once")
	_, err = NewMixer([]Dataset{m}, MixerOptions{})
	assert.Error(t, err, "mixers cannot be nested")
}

func TestMixerLeavesChildrenOnFailure(t *testing.T) {
	fresh := mustSequenceDataset(t, "fresh", 0, "a", "b")
	taken := mustSequenceDataset(t, "taken", 0, "b", "c")
	_, err := NewMixer([]Dataset{taken, mustSequenceDataset(t, "other", 0, "c")}, MixerOptions{})
	require.NoError(t, err)
	own := fresh.Tables()

	_, err = NewMixer([]Dataset{fresh, taken}, MixerOptions{})
	require.Error(t, err)
	assert.False(t, fresh.Shared())
	assert.Same(t, own, fresh.Tables(), "a failed mixer keeps the tables of its children")
	assert.Equal(t, []string{vocab.Padding, "a", "b", vocab.Unknown}, fresh.Tables().Vocabularies["language"].Words())

	_, err = NewMixer([]Dataset{fresh, fresh}, MixerOptions{})
	require.Error(t, err)
	assert.False(t, fresh.Shared())

	_, err = NewMixer([]Dataset{fresh}, MixerOptions{})
	require.NoError(t, err)
	assert.True(t, fresh.Shared())
}

func TestMixerSchemaMismatch(t *testing.T) {
	first := mustSequenceDataset(t, "first", 0)
	other, err := NewBase(&Specification{
		Type:      "sequence",
		Name:      "other",
		Values:    values.MustParseSchema("id", "int"),
		WorldSize: WorldSize{Height: 4, Width: 4},
	})
	require.NoError(t, err)
	_, err = NewMixer([]Dataset{first, &sequenceDataset{Base: other}}, MixerOptions{})
	assert.True(t, errors.Is(err, ErrSchemaMismatch), "got %v", err)

	bigger, err := newSequenceDataset("bigger", 0, []string{"a"})
	require.NoError(t, err)
	bigger.Base.tables.WorldSize = WorldSize{Height: 8, Width: 8}
	_, err = NewMixer([]Dataset{first, bigger}, MixerOptions{})
	assert.True(t, errors.Is(err, ErrSchemaMismatch), "got %v", err)
}

func TestMixerDistribution(t *testing.T) {
	first := mustSequenceDataset(t, "first", 0)
	second := mustSequenceDataset(t, "second", 1000)
	m, err := NewMixer([]Dataset{first, second}, MixerOptions{Weights: []float64{1, 3}, Rand: seeded(8)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, m.Distribution(ModeTrain).Probabilities(), 1e-12)

	const draws = 10000
	count := 0
	for i := 0; i < draws; i++ {
		count += m.Sample(ModeTrain)
	}
	assert.InDelta(t, 0.75, float64(count)/draws, 0.02)
}

func TestMixerGenerate(t *testing.T) {
	first := mustSequenceDataset(t, "first", 0)
	second := mustSequenceDataset(t, "second", 1000)
	m, err := NewMixer([]Dataset{first, second}, MixerOptions{Rand: seeded(9)})
	require.NoError(t, err)

	batch, sources, err := m.GenerateWithSources(20, GenerateOptions{Mode: ModeTrain, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, sources, 20)
	for i, id := range values.Get[int32](batch, "id") {
		assert.Equal(t, sources[i] == 1, id >= 1000, "instance %d", i)
		assert.Equal(t, []float32{float32(id), 0}, values.Get[[]float32](batch, "vec")[i])
		assert.Equal(t, map[string]any{"id": float64(id)}, values.Get[any](batch, "world_model")[i])
	}
	assert.Contains(t, sources, 0)
	assert.Contains(t, sources, 1)

	_, err = m.Generate(1, GenerateOptions{Mode: "training"})
	assert.Error(t, err)
}

func TestMixerConsistentBatches(t *testing.T) {
	first := mustSequenceDataset(t, "first", 0)
	second := mustSequenceDataset(t, "second", 1000)
	m, err := NewMixer([]Dataset{first, second}, MixerOptions{ConsistentBatches: true, Rand: seeded(10)})
	require.NoError(t, err)
	for range 10 {
		batch, sources, err := m.GenerateWithSources(5, GenerateOptions{})
		require.NoError(t, err)
		for i, id := range values.Get[int32](batch, "id") {
			assert.Equal(t, sources[0], sources[i])
			assert.Equal(t, sources[0] == 1, id >= 1000)
		}
	}
}

func TestMixerModeWeights(t *testing.T) {
	newPair := func() []Dataset {
		return []Dataset{mustSequenceDataset(t, "first", 0), mustSequenceDataset(t, "second", 1000)}
	}
	m, err := NewMixer(newPair(), MixerOptions{ModeWeights: map[Mode][]float64{
		ModeTrain:      {1, 0},
		ModeValidation: {0, 1},
		ModeTest:       {1, 1},
	}})
	require.NoError(t, err)
	for range 20 {
		assert.Equal(t, 0, m.Sample(ModeTrain))
		assert.Equal(t, 1, m.Sample(ModeValidation))
	}
	assert.Equal(t, []float64{0.5, 0.5}, m.Distribution(ModeNone).Probabilities())

	_, err = NewMixer(newPair(), MixerOptions{ModeWeights: map[Mode][]float64{ModeTrain: {1, 0}}})
	assert.Error(t, err)
	_, err = NewMixer(newPair(), MixerOptions{Weights: []float64{1}})
	assert.Error(t, err)
	_, err = NewMixer(newPair(), MixerOptions{Weights: []float64{0, 0}})
	assert.Error(t, err)
}

func TestDistribution(t *testing.T) {
	d, err := NewDistribution([]float64{2, 0, 6})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.InDeltaSlice(t, []float64{0.25, 0, 0.75}, d.Probabilities(), 1e-12)
	rng := seeded(11)
	for range 1000 {
		assert.NotEqual(t, 1, d.Sample(rng))
	}

	for _, weights := range [][]float64{nil, {-1, 2}, {0}} {
		_, err = NewDistribution(weights)
		assert.Error(t, err, "weights %v", weights)
	}
}
