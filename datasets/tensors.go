package datasets

import (
	"io"

	"github.com/Noofbiz/shapeworld/values"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Stream yields batches of a Dataset as gomlx tensors. It implements the
// gomlx train.Dataset interface.
type Stream struct {
	Dataset Dataset

	// BatchSize is the number of instances per batch.
	BatchSize int

	// Options are passed to each Dataset.Generate call.
	Options GenerateOptions

	// Inputs and Labels name the values returned as inputs and labels, in
	// order.
	Inputs, Labels []string

	// NumBatches is the number of batches of an epoch, after which Yield
	// returns io.EOF. Zero means unbounded.
	NumBatches int

	yielded int
}

// Name returns the name of the underlying dataset.
func (s *Stream) Name() string {
	return s.Dataset.String()
}

// Reset starts a new epoch.
func (s *Stream) Reset() {
	s.yielded = 0
}

// Yield generates the next batch and converts its Inputs and Labels values.
// The batch itself is returned as the gomlx spec value.
func (s *Stream) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if s.NumBatches > 0 && s.yielded >= s.NumBatches {
		return nil, nil, nil, io.EOF
	}
	batch, err := s.Dataset.Generate(s.BatchSize, s.Options)
	if err != nil {
		return nil, nil, nil, err
	}
	s.yielded++
	if inputs, err = BatchTensors(batch, s.Inputs...); err != nil {
		return nil, nil, nil, err
	}
	if labels, err = BatchTensors(batch, s.Labels...); err != nil {
		return nil, nil, nil, err
	}
	return batch, inputs, labels, nil
}

// BatchTensors converts the named values of batch.
func BatchTensors(batch *values.Batch, names ...string) ([]*tensors.Tensor, error) {
	out := make([]*tensors.Tensor, len(names))
	for i, name := range names {
		var err error
		if out[i], err = BatchTensor(batch, name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// BatchFlat stores the instances of one value in a flat contiguous buffer.
type BatchFlat[T int32 | float32] struct {
	Data       []T
	Dimensions []int
}

// Tensor converts the buffer to a gomlx tensor.
func (b *BatchFlat[T]) Tensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(b.Data, b.Dimensions...)
}

// MakeBatchFlat flattens instances of equal length into a buffer of shape
// (len(items), dims...).
func MakeBatchFlat[T int32 | float32](items [][]T, dims ...int) (*BatchFlat[T], error) {
	size := 1
	for _, d := range dims {
		size *= d
	}
	flat := make([]T, len(items)*size)
	for i, item := range items {
		if len(item) != size {
			return nil, errors.Errorf("inconsistent dimensions at instance %d: expected %d, got %d", i, size, len(item))
		}
		copy(flat[i*size:], item)
	}
	return &BatchFlat[T]{Data: flat, Dimensions: append([]int{len(items)}, dims...)}, nil
}

// BatchTensor converts value name of batch to a tensor:
//
//	int, float: (n)
//	vectors, tokens: (n, length)
//	world: (n, height, width, 3)
//
// Other values, and alternatives, have no tensor form.
func BatchTensor(batch *values.Batch, name string) (*tensors.Tensor, error) {
	column, found := batch.Column(name)
	if !found {
		return nil, errors.Errorf("batch has no value %q", name)
	}
	switch c := column.(type) {
	case *values.Column[int32]:
		return tensors.FromFlatDataAndDimensions(append([]int32(nil), c.Items()...), c.Len()), nil
	case *values.Column[float32]:
		return tensors.FromFlatDataAndDimensions(append([]float32(nil), c.Items()...), c.Len()), nil
	case *values.Column[[]int32]:
		return flatTensor(c.Items(), vectorLength(c.Items()))
	case *values.Column[[]float32]:
		return flatTensor(c.Items(), vectorLength(c.Items()))
	case *values.Column[*values.Image]:
		images := c.Items()
		pixels := make([][]float32, len(images))
		var height, width int
		for i, img := range images {
			if i == 0 {
				height, width = img.Height, img.Width
			} else if img.Height != height || img.Width != width {
				return nil, errors.Errorf("value %q: image %d is %dx%d, image 0 is %dx%d", name, i, img.Height, img.Width, height, width)
			}
			pixels[i] = img.Pix
		}
		return flatTensor(pixels, height, width, 3)
	}
	return nil, errors.Errorf("value %q of %T has no tensor form", name, column)
}

func vectorLength[T any](items [][]T) int {
	if len(items) == 0 {
		return 0
	}
	return len(items[0])
}

func flatTensor[T int32 | float32](items [][]T, dims ...int) (*tensors.Tensor, error) {
	flat, err := MakeBatchFlat(items, dims...)
	if err != nil {
		return nil, err
	}
	return flat.Tensor(), nil
}
