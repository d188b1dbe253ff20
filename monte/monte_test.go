package monte

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/shapeworld/datasets"
	"github.com/Noofbiz/shapeworld/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constantDS generates instances whose values are all derived from value.
type constantDS struct {
	*datasets.Base
	value int32
}

func newConstantDS(t *testing.T, name string, value int32) *constantDS {
	t.Helper()
	base, err := datasets.NewBase(&datasets.Specification{
		Type: "constant",
		Name: name,
		Values: values.MustParseSchema(
			"n", "int",
			"scores", "vector(float)",
			"world", "world",
			"caption", "language",
			"model", "model",
		),
		WorldSize:    datasets.WorldSize{Height: 2, Width: 2},
		Vectors:      map[string]int{"scores": 2, "caption": 3},
		Vocabularies: map[string][]string{"language": {"a", "b"}},
	})
	require.NoError(t, err)
	return &constantDS{Base: base, value: value}
}

func (c *constantDS) Generate(n int, opts datasets.GenerateOptions) (*values.Batch, error) {
	batch := c.ZeroBatch(n, opts)
	language := c.Tables().Vocabularies["language"]
	a, _ := language.ID("a")
	b, _ := language.ID("b")
	for i := 0; i < n; i++ {
		values.Get[int32](batch, "n")[i] = c.value
		values.Get[[]float32](batch, "scores")[i][0] = float32(c.value)
		values.Get[[]int32](batch, "caption")[i][0] = int32(a)
		values.Get[[]int32](batch, "caption")[i][1] = int32(a)
		values.Get[[]int32](batch, "caption")[i][2] = int32(b)
		img := values.Get[*values.Image](batch, "world")[i]
		for p := range img.Pix {
			img.Pix[p] = 0.5
		}
	}
	return batch, nil
}

func TestNewMonteErrors(t *testing.T) {
	_, err := NewMonte(nil, 4)
	assert.Error(t, err)
	_, err = NewMonte(newConstantDS(t, "c", 1), 0)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	m, err := NewMonte(newConstantDS(t, "c", 3), 4)
	require.NoError(t, err)
	batches := 0
	report, err := m.Run(5, func(*values.Batch) { batches++ })
	require.NoError(t, err)
	assert.Equal(t, 5, batches)
	assert.Equal(t, 20, report.Instances)
	assert.Equal(t, "constant c", report.Dataset)

	require.Len(t, report.Summaries, 3)
	assert.Equal(t, Summary{Name: "n", Count: 20, Mean: 3, StdDev: 0, Min: 3, Max: 3}, report.Summaries[0])
	scores := report.Summaries[1]
	assert.Equal(t, "scores", scores.Name)
	assert.Equal(t, 40, scores.Count)
	assert.InDelta(t, 1.5, scores.Mean, 1e-9)
	assert.Equal(t, 0.0, scores.Min)
	assert.Equal(t, 3.0, scores.Max)
	assert.InDelta(t, 0.5, report.Summaries[2].Mean, 1e-6)

	assert.Equal(t, []WordCount{{Word: "a", Count: 40}, {Word: "b", Count: 20}}, report.Words["caption"])
	assert.Nil(t, report.Sources)

	_, err = m.Run(0, nil)
	assert.Error(t, err)
}

func TestRunMixer(t *testing.T) {
	mixer, err := datasets.NewMixer(
		[]datasets.Dataset{newConstantDS(t, "low", 0), newConstantDS(t, "high", 10)},
		datasets.MixerOptions{Weights: []float64{1, 4}, Rand: rand.New(rand.NewPCG(1, 2))},
	)
	require.NoError(t, err)
	m, err := NewMonte(mixer, 50)
	require.NoError(t, err)
	m.SetMode(datasets.ModeTrain)
	report, err := m.Run(40, nil)
	require.NoError(t, err)

	require.Len(t, report.Sources, 2)
	assert.InDelta(t, 0.2, report.Sources[0], 0.03)
	assert.InDelta(t, 1, report.Sources[0]+report.Sources[1], 1e-9)
	// The mean of "n" follows the source frequencies.
	assert.InDelta(t, 10*report.Sources[1], report.Summaries[0].Mean, 1e-9)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var reloaded Report
	require.NoError(t, json.Unmarshal(data, &reloaded))
	assert.Equal(t, report.Sources, reloaded.Sources)
}
