package values

import (
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// Values holds one value per instance, for one named value of a batch.
//
// The concrete type is always a *Column[T], with T determined by the value
// Type (see ZeroBatch). Values exists so batches and instance pools can move
// instances around without knowing T.
type Values interface {
	// Len returns the number of instances.
	Len() int

	// At returns instance i.
	At(i int) any

	// Set stores v as instance i. Fixed-length vector slots are filled by
	// copying v into the slot, leaving any remaining components zero.
	Set(i int, v any) error

	// Remove splices instance i out and returns it.
	Remove(i int) any

	// Append appends all instances of other, which must hold the same type.
	Append(other Values) error

	// Empty returns a new Values of the same type, without instances.
	Empty() Values
}

// Column is the Values implementation for instances of type T.
type Column[T any] struct {
	items []T
}

// NewColumn wraps items in a Column. The slice is not copied.
func NewColumn[T any](items []T) *Column[T] {
	return &Column[T]{items: items}
}

// Items returns the underlying instances. Writes through it are visible to
// the column.
func (c *Column[T]) Items() []T {
	return c.items
}

// Len implements Values.
func (c *Column[T]) Len() int { return len(c.items) }

// At implements Values.
func (c *Column[T]) At(i int) any { return c.items[i] }

// Set implements Values.
func (c *Column[T]) Set(i int, v any) error {
	value, ok := v.(T)
	if !ok {
		var zero T
		return errors.Errorf("a column of %T cannot hold a %T", zero, v)
	}
	switch slot := any(c.items[i]).(type) {
	case []int32:
		if len(slot) > 0 {
			return copyIntoSlot(slot, any(value).([]int32))
		}
	case []float32:
		if len(slot) > 0 {
			return copyIntoSlot(slot, any(value).([]float32))
		}
	}
	c.items[i] = value
	return nil
}

func copyIntoSlot[T int32 | float32](slot, value []T) error {
	if len(value) > len(slot) {
		return errors.Errorf("vector of length %d does not fit a slot of length %d", len(value), len(slot))
	}
	n := copy(slot, value)
	clear(slot[n:])
	return nil
}

// Remove implements Values.
func (c *Column[T]) Remove(i int) any {
	v := c.items[i]
	c.items = slices.Delete(c.items, i, i+1)
	return v
}

// Append implements Values.
func (c *Column[T]) Append(other Values) error {
	o, ok := other.(*Column[T])
	if !ok {
		return errors.Errorf("cannot append %T to %T", other, c)
	}
	c.items = append(c.items, o.items...)
	return nil
}

// Empty implements Values.
func (c *Column[T]) Empty() Values {
	return &Column[T]{}
}

// Batch maps value names to their per-instance values. Every column holds
// exactly Size instances.
type Batch struct {
	size    int
	columns map[string]Values
}

// NewBatch creates an empty batch of n instances. Columns are added with Put.
func NewBatch(n int) *Batch {
	return &Batch{size: n, columns: make(map[string]Values)}
}

// Size returns the number of instances.
func (b *Batch) Size() int {
	return b.size
}

// Names returns the names of the columns, sorted.
func (b *Batch) Names() []string {
	names := make([]string, 0, len(b.columns))
	for name := range b.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the values of name.
func (b *Batch) Column(name string) (Values, bool) {
	c, found := b.columns[name]
	return c, found
}

// Put stores the values of name, replacing any existing column.
func (b *Batch) Put(name string, c Values) error {
	if c.Len() != b.size {
		return errors.Errorf("column %q has %d instances, batch has %d", name, c.Len(), b.size)
	}
	b.columns[name] = c
	return nil
}

// SetInstance stores v as instance i of value name.
func (b *Batch) SetInstance(name string, i int, v any) error {
	c, found := b.columns[name]
	if !found {
		return errors.Errorf("batch has no value %q", name)
	}
	return errors.Wrapf(c.Set(i, v), "value %q, instance %d", name, i)
}

// Get returns the instances of value name as a []T, or nil if the batch has
// no such value or it holds another type.
func Get[T any](b *Batch, name string) []T {
	c, ok := b.columns[name].(*Column[T])
	if !ok {
		return nil
	}
	return c.items
}
