package main

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterDS numbers its instances.
type counterDS struct {
	*datasets.Base
	next int32
}

func newCounterDS(t *testing.T, name string) *counterDS {
	t.Helper()
	base, err := datasets.NewBase(&datasets.Specification{
		Type:      "counter",
		Name:      name,
		Values:    values.MustParseSchema("id", "int", "world", "world"),
		WorldSize: datasets.WorldSize{Height: 3, Width: 3},
	})
	require.NoError(t, err)
	return &counterDS{Base: base}
}

func (c *counterDS) Generate(n int, opts datasets.GenerateOptions) (*values.Batch, error) {
	batch := c.ZeroBatch(n, opts)
	for i := range n {
		values.Get[int32](batch, "id")[i] = c.next
		c.next++
	}
	return batch, nil
}

func TestWriteParts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "counter")
	*flagParts, *flagPartSize, *flagArchive = 2, 5, "zip"
	require.NoError(t, writeParts(newCounterDS(t, "parts"), out, datasets.GenerateOptions{}))

	spec, err := datasets.LoadSpecification(filepath.Join(out, "specification.json"))
	require.NoError(t, err)
	assert.Equal(t, "zip", spec.Archive)
	assert.NotEmpty(t, spec.Extra[GenerationIDField])

	ds, err := datasets.FromConfig("load(" + out + ")")
	require.NoError(t, err)
	batch, err := ds.Generate(10, datasets.GenerateOptions{Mode: datasets.ModeTest})
	require.NoError(t, err)
	// Test parts were generated last, from instance 20 on.
	for _, id := range values.Get[int32](batch, "id") {
		assert.GreaterOrEqual(t, id, int32(20))
		assert.Less(t, id, int32(30))
	}

	*flagArchive = "rar"
	assert.Error(t, writeParts(newCounterDS(t, "bad"), out, datasets.GenerateOptions{}))
}

func TestPlotSources(t *testing.T) {
	mixer, err := datasets.NewMixer(
		[]datasets.Dataset{newCounterDS(t, "a"), newCounterDS(t, "b")},
		datasets.MixerOptions{Weights: []float64{1, 3}, Rand: rand.New(rand.NewPCG(3, 4))},
	)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "plots", "sources.png")
	require.NoError(t, plotSources(path, mixer, datasets.ModeTrain, []float64{0.26, 0.74}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, plotSources(path, mixer, datasets.ModeTrain, []float64{1}))
}

func TestHasAlternatives(t *testing.T) {
	assert.False(t, hasAlternatives(values.MustParseSchema("id", "int")))
	assert.True(t, hasAlternatives(values.MustParseSchema("id", "int", "scores", "alts(float)")))
}
