package values

// Shapes carries the dataset-level sizes needed to allocate a batch.
type Shapes struct {
	// ImageHeight and ImageWidth size the "world" images.
	ImageHeight, ImageWidth int

	// Vectors maps a vector or token value name to its length.
	Vectors map[string]int
}

// AlternativesName is the int value holding the number of alternatives of
// each instance. It is only part of batches built with alternatives.
const AlternativesName = "alternatives"

// ZeroOptions selects the optional parts of a zero batch.
type ZeroOptions struct {
	// IncludeMetadata allocates "model" values, which are skipped otherwise.
	IncludeMetadata bool

	// Alternatives allocates "alts(...)" values as lists of alternatives.
	// Otherwise they get the shape of a single instance.
	Alternatives bool
}

// NewColumnFor returns an empty Values of the Go type instances of t have.
// Alternatives are a list of that type.
//
//	int -> int32               vector(int), tokens -> []int32
//	float -> float32           vector(float) -> []float32
//	world -> *Image            model -> any
//	str_list -> string         str_list_list -> []string
//	str_list_list_list -> [][]string
func NewColumnFor(t Type) Values {
	if t.Alternatives {
		switch t.Kind {
		case KindInt:
			return &Column[[]int32]{}
		case KindFloat:
			return &Column[[]float32]{}
		case KindIntVector, KindTokens:
			return &Column[[][]int32]{}
		case KindFloatVector:
			return &Column[[][]float32]{}
		case KindImage:
			return &Column[[]*Image]{}
		case KindStrings:
			return &Column[[]string]{}
		case KindStringLists:
			return &Column[[][]string]{}
		case KindStringListLists:
			return &Column[[][][]string]{}
		}
		return nil
	}
	switch t.Kind {
	case KindInt:
		return &Column[int32]{}
	case KindFloat:
		return &Column[float32]{}
	case KindIntVector, KindTokens:
		return &Column[[]int32]{}
	case KindFloatVector:
		return &Column[[]float32]{}
	case KindImage:
		return &Column[*Image]{}
	case KindMetadata:
		return &Column[any]{}
	case KindStrings:
		return &Column[string]{}
	case KindStringLists:
		return &Column[[]string]{}
	case KindStringListLists:
		return &Column[[][]string]{}
	}
	return nil
}

// ZeroBatch allocates a batch of n instances for schema, with every value
// zero or empty. It is the single source of batch shapes: batches produced
// by different datasets with the same schema and shapes are interchangeable.
//
// Values typed "skip" get no column, nor do "model" values unless
// opts.IncludeMetadata is set, nor the AlternativesName value unless
// opts.Alternatives is set.
func ZeroBatch(schema *Schema, n int, shapes Shapes, opts ZeroOptions) *Batch {
	b := NewBatch(n)
	for _, f := range schema.Fields() {
		if f.Type.Kind == KindSkip || (f.Type.Kind == KindMetadata && !opts.IncludeMetadata) {
			continue
		}
		if f.Name == AlternativesName && !opts.Alternatives {
			continue
		}
		t := f.Type
		if t.Alternatives && !opts.Alternatives {
			t.Alternatives = false
		}
		b.columns[f.Name] = zeroColumn(t, n, shapes.Vectors[f.Name], shapes)
	}
	return b
}

func zeroColumn(t Type, n, vectorLength int, shapes Shapes) Values {
	if t.Alternatives {
		switch t.Kind {
		case KindIntVector, KindTokens:
			return NewColumn(fill(n, func() [][]int32 { return [][]int32{make([]int32, vectorLength)} }))
		case KindFloatVector:
			return NewColumn(fill(n, func() [][]float32 { return [][]float32{make([]float32, vectorLength)} }))
		case KindInt:
			return NewColumn(fill(n, func() []int32 { return []int32{} }))
		case KindFloat:
			return NewColumn(fill(n, func() []float32 { return []float32{} }))
		case KindImage:
			return NewColumn(fill(n, func() []*Image { return []*Image{} }))
		case KindStrings:
			return NewColumn(fill(n, func() []string { return []string{} }))
		case KindStringLists:
			return NewColumn(fill(n, func() [][]string { return [][]string{} }))
		case KindStringListLists:
			return NewColumn(fill(n, func() [][][]string { return [][][]string{} }))
		}
		return nil
	}
	switch t.Kind {
	case KindInt:
		return NewColumn(make([]int32, n))
	case KindFloat:
		return NewColumn(make([]float32, n))
	case KindIntVector, KindTokens:
		return NewColumn(fill(n, func() []int32 { return make([]int32, vectorLength) }))
	case KindFloatVector:
		return NewColumn(fill(n, func() []float32 { return make([]float32, vectorLength) }))
	case KindImage:
		return NewColumn(fill(n, func() *Image { return NewImage(shapes.ImageHeight, shapes.ImageWidth) }))
	case KindMetadata:
		return NewColumn(make([]any, n))
	case KindStrings:
		return NewColumn(make([]string, n))
	case KindStringLists:
		return NewColumn(fill(n, func() []string { return []string{} }))
	case KindStringListLists:
		return NewColumn(fill(n, func() [][]string { return [][]string{} }))
	}
	return nil
}

func fill[T any](n int, zero func() T) []T {
	items := make([]T, n)
	for i := range items {
		items[i] = zero()
	}
	return items
}
