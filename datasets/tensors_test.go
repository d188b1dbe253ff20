package datasets

import (
	"io"
	"testing"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTensor(t *testing.T) {
	ds := mustSequenceDataset(t, "source", 5)
	batch, err := ds.Generate(3, GenerateOptions{})
	require.NoError(t, err)

	ids, err := BatchTensor(batch, "id")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids.Shape().Dimensions)
	assert.Equal(t, []int32{5, 6, 7}, ids.Value())

	vecs, err := BatchTensor(batch, "vec")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, vecs.Shape().Dimensions)
	assert.Equal(t, [][]float32{{5, 0}, {6, 0}, {7, 0}}, vecs.Value())

	worlds, err := BatchTensor(batch, "world")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 4, 3}, worlds.Shape().Dimensions)

	_, err = BatchTensor(batch, "missing")
	assert.Error(t, err)

	alts := values.ZeroBatch(values.MustParseSchema("names", "str_list"), 1, values.Shapes{}, values.ZeroOptions{})
	_, err = BatchTensor(alts, "names")
	assert.Error(t, err)
}

func TestMakeBatchFlat(t *testing.T) {
	flat, err := MakeBatchFlat([][]float32{{1, 2}, {3, 4}, {5, 6}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat.Data)
	assert.Equal(t, []int{3, 2}, flat.Dimensions)

	_, err = MakeBatchFlat([][]int32{{1, 2}, {3}}, 2)
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	s := &Stream{
		Dataset:    mustSequenceDataset(t, "source", 0),
		BatchSize:  4,
		Inputs:     []string{"world", "words"},
		Labels:     []string{"id"},
		NumBatches: 2,
	}
	assert.Equal(t, "sequence source", s.Name())
	for range 2 {
		spec, inputs, labels, err := s.Yield()
		require.NoError(t, err)
		assert.Equal(t, 4, spec.(*values.Batch).Size())
		require.Len(t, inputs, 2)
		require.Len(t, labels, 1)
		assert.Equal(t, []int{4, 2}, inputs[1].Shape().Dimensions)
	}
	_, _, _, err := s.Yield()
	assert.Equal(t, io.EOF, err)

	s.Reset()
	_, _, labels, err := s.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int32{8, 9, 10, 11}, labels[0].Value())
}
