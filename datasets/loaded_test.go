package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/shapeworld/archive"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadedDatasetPoolExhaustion(t *testing.T) {
	source := mustSequenceDataset(t, "source", 0)
	dir := writeParts(t, source, t.TempDir(), partsLayout{
		Splits:   map[Mode]int{ModeTrain: 2},
		PartSize: 5,
	})
	ds, err := Load(dir, LoadOptions{PartOnce: true, Rand: seeded(1)})
	require.NoError(t, err)
	assert.Len(t, ds.Parts(ModeTrain), 2)

	seen := make(map[int32]bool)
	draw := func(n int) {
		batch, err := ds.Generate(n, GenerateOptions{Mode: ModeTrain})
		require.NoError(t, err)
		require.Equal(t, n, batch.Size())
		for _, id := range values.Get[int32](batch, "id") {
			require.False(t, seen[id], "instance %d served twice", id)
			seen[id] = true
		}
	}

	draw(4)
	assert.Equal(t, 1, ds.PoolSize())
	assert.Len(t, ds.Parts(ModeTrain), 1)
	draw(1)
	assert.Equal(t, 0, ds.PoolSize())
	draw(4)
	assert.Equal(t, 1, ds.PoolSize())
	assert.Empty(t, ds.Parts(ModeTrain))

	_, err = ds.Generate(4, GenerateOptions{Mode: ModeTrain})
	assert.True(t, errors.Is(err, ErrNoParts), "got %v", err)
	assert.Len(t, seen, 9)
}

func TestLoadedDatasetNegativeSize(t *testing.T) {
	source := mustSequenceDataset(t, "source", 0)
	dir := writeParts(t, source, t.TempDir(), partsLayout{
		Splits:   map[Mode]int{ModeTrain: 1},
		PartSize: 3,
	})
	ds, err := Load(dir, LoadOptions{Rand: seeded(1)})
	require.NoError(t, err)

	_, err = ds.Generate(-1, GenerateOptions{Mode: ModeTrain})
	assert.True(t, errors.Is(err, ErrBatchSize), "got %v", err)
	assert.Equal(t, 0, ds.PoolSize())

	batch, err := ds.Generate(0, GenerateOptions{Mode: ModeTrain})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Size())

	mixer, err := NewMixer([]Dataset{ds}, MixerOptions{Rand: seeded(2)})
	require.NoError(t, err)
	_, err = mixer.Generate(-3, GenerateOptions{Mode: ModeTrain})
	assert.True(t, errors.Is(err, ErrBatchSize), "got %v", err)
}

func TestLoadedDatasetValues(t *testing.T) {
	for _, kind := range archive.Kinds {
		t.Run("archive="+string(kind), func(t *testing.T) {
			source := mustSequenceDataset(t, "source", 0)
			dir := writeParts(t, source, t.TempDir(), partsLayout{
				Splits:          map[Mode]int{ModeNone: 1},
				PartSize:        6,
				Archive:         kind,
				IncludeMetadata: true,
				ConcatImages:    kind == archive.TarZstd,
			})
			ds, err := Load(dir, LoadOptions{Rand: seeded(2)})
			require.NoError(t, err)

			batch, err := ds.Generate(6, GenerateOptions{IncludeMetadata: true})
			require.NoError(t, err)
			language := ds.Tables().Vocabularies["language"]
			ids := values.Get[int32](batch, "id")
			assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5}, ids)
			for i, id := range ids {
				assert.Equal(t, []float32{float32(id), 0}, values.Get[[]float32](batch, "vec")[i])
				wordID, _ := language.ID(source.wordOf(id))
				assert.Equal(t, []int32{int32(wordID), 0}, values.Get[[]int32](batch, "words")[i])
				world := values.Get[*values.Image](batch, "world")[i]
				require.Equal(t, 4, world.Height)
				assert.Equal(t, float32(id)/255, world.At(3, 3, 2))
				assert.Equal(t, map[string]any{"id": float64(id)}, values.Get[any](batch, "world_model")[i])
			}
			_, found := batch.Column("ignored")
			assert.False(t, found)
		})
	}
}

func TestLoadedDatasetModes(t *testing.T) {
	source := mustSequenceDataset(t, "source", 0)
	dir := writeParts(t, source, t.TempDir(), partsLayout{
		Splits:   map[Mode]int{ModeTrain: 1, ModeValidation: 1},
		PartSize: 3,
	})
	ds, err := Load(dir, LoadOptions{Rand: seeded(3)})
	require.NoError(t, err)
	assert.Empty(t, ds.Parts(ModeTest))

	train, err := ds.Generate(1, GenerateOptions{Mode: ModeTrain})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.PoolSize())

	// Switching mode drops the train pool.
	validation, err := ds.Generate(1, GenerateOptions{Mode: ModeValidation})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.PoolSize())
	trainID := values.Get[int32](train, "id")[0]
	validationID := values.Get[int32](validation, "id")[0]
	assert.NotEqual(t, trainID < 3, validationID < 3, "train and validation parts hold different instances")

	// None reads the train split.
	_, err = ds.Generate(3, GenerateOptions{})
	require.NoError(t, err)

	_, err = ds.Generate(1, GenerateOptions{Mode: ModeTest})
	assert.True(t, errors.Is(err, ErrNoParts))

	_, err = ds.Generate(1, GenerateOptions{IncludeMetadata: true})
	assert.Error(t, err, "metadata was not stored")
}

func TestLoadedDatasetAlternatives(t *testing.T) {
	source := newAltsDataset(t)
	dir := writeParts(t, source, t.TempDir(), partsLayout{
		Splits:       map[Mode]int{ModeTrain: 1},
		PartSize:     4,
		Alternatives: true,
	})

	ds, err := Load(dir, LoadOptions{Rand: seeded(4)})
	require.NoError(t, err)
	batch, err := ds.Generate(2, GenerateOptions{Alternatives: true})
	require.NoError(t, err)
	for i, id := range values.Get[int32](batch, "id") {
		assert.Equal(t, int32(2), values.Get[int32](batch, AlternativesValue)[i])
		assert.Equal(t, []float32{float32(id), float32(id) + 0.5}, values.Get[[]float32](batch, "scores")[i])
	}

	batch, err = ds.Generate(2, GenerateOptions{})
	require.NoError(t, err)
	_, found := batch.Column(AlternativesValue)
	assert.False(t, found)
	for i, id := range values.Get[int32](batch, "id") {
		assert.Contains(t, []float32{float32(id), float32(id) + 0.5}, values.Get[float32](batch, "scores")[i])
	}
}

func TestLoadedDatasetNoise(t *testing.T) {
	source := mustSequenceDataset(t, "source", 128)
	dir := writeParts(t, source, t.TempDir(), partsLayout{Splits: map[Mode]int{ModeTrain: 1}, PartSize: 2})
	ds, err := Load(dir, LoadOptions{Rand: seeded(5)})
	require.NoError(t, err)

	batch, err := ds.Generate(2, GenerateOptions{NoiseRange: 0.05})
	require.NoError(t, err)
	for i, id := range values.Get[int32](batch, "id") {
		clean := float32(id) / 255
		changed := false
		for _, v := range values.Get[*values.Image](batch, "world")[i].Pix {
			assert.InDelta(t, clean, v, 0.1+1e-6)
			changed = changed || v != clean
		}
		assert.True(t, changed)
	}
}

func TestDiscoverParts(t *testing.T) {
	t.Run("loose file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "train", "part0"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
		_, _, err := discoverParts(dir, archive.Directory)
		assert.ErrorContains(t, err, "notes.txt")
	})
	t.Run("split and root parts", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "train", "part0"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "part0"), 0o755))
		_, _, err := discoverParts(dir, archive.Directory)
		assert.Error(t, err)
	})
	t.Run("invalid part name", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "test", "partial"), 0o755))
		_, _, err := discoverParts(dir, archive.Directory)
		assert.ErrorContains(t, err, "partial")
	})
	t.Run("records", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "validation", "part3"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, RecordsDir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsDir, "part0.tfrecords"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "specification.json"), nil, 0o644))
		parts, records, err := discoverParts(dir, archive.Directory)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "validation", "part3")}, parts[ModeValidation])
		assert.Equal(t, []string{filepath.Join(dir, RecordsDir, "part0.tfrecords")}, records)
	})
	t.Run("empty", func(t *testing.T) {
		_, _, err := discoverParts(t.TempDir(), archive.Directory)
		assert.Error(t, err)
	})
}

func TestAddNoise(t *testing.T) {
	schema := values.MustParseSchema("world", "world", "views", "alts(world)")
	batch := values.ZeroBatch(schema, 3, values.Shapes{ImageHeight: 8, ImageWidth: 8}, values.ZeroOptions{Alternatives: true})
	views := values.Get[[]*values.Image](batch, "views")
	for i := range views {
		views[i] = []*values.Image{values.NewImage(8, 8)}
	}
	for _, img := range values.Get[*values.Image](batch, "world") {
		for p := range img.Pix {
			img.Pix[p] = 0.5
		}
	}

	require.NoError(t, AddNoise(batch, schema, 0.1, seeded(6)))
	for _, img := range values.Get[*values.Image](batch, "world") {
		for _, v := range img.Pix {
			assert.InDelta(t, 0.5, v, 0.2+1e-6)
		}
	}
	for _, alts := range views {
		for _, v := range alts[0].Pix {
			assert.GreaterOrEqual(t, v, float32(0), "noise is clamped")
			assert.LessOrEqual(t, v, float32(0.2+1e-6))
		}
	}

	assert.Error(t, AddNoise(batch, schema, -1, seeded(6)))
	before := values.Get[*values.Image](batch, "world")[0].Clone()
	require.NoError(t, AddNoise(batch, schema, 0, seeded(6)))
	assert.True(t, before.Equal(values.Get[*values.Image](batch, "world")[0]))
}
