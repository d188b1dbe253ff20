package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkReserved(t *testing.T, v *Vocabulary) {
	t.Helper()
	words := v.Words()
	require.Equal(t, Padding, words[0])
	require.Equal(t, Unknown, words[len(words)-1])
	paddings, unknowns := 0, 0
	for _, w := range words {
		switch w {
		case Padding:
			paddings++
		case Unknown:
			unknowns++
		}
	}
	require.Equal(t, 1, paddings)
	require.Equal(t, 1, unknowns)
}

func TestNew_ReservedEntries(t *testing.T) {
	for _, tc := range []struct {
		name  string
		words []string
	}{
		{"empty", nil},
		{"plain", []string{"a", "square", "red"}},
		{"reserved inside", []string{"a", "", "b", Unknown, "c"}},
		{"reserved at ends", []string{"", "x", "y", Unknown}},
		{"duplicates", []string{"x", "x", "", "", "y", Unknown, Unknown}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := New(tc.words)
			checkReserved(t, v)
			id, ok := v.ID(Padding)
			require.True(t, ok)
			require.Equal(t, 0, id)
			id, ok = v.ID(Unknown)
			require.True(t, ok)
			require.Equal(t, v.Len()-1, id)
		})
	}
}

func TestNew_Indices(t *testing.T) {
	v := New([]string{"", "a", "b", Unknown})
	assert.Equal(t, []string{"", "a", "b", Unknown}, v.Words())
	id, ok := v.ID("b")
	assert.True(t, ok)
	assert.Equal(t, 2, id)

	id, ok = v.ID("zebra")
	assert.False(t, ok)
	assert.Equal(t, 3, id)
	assert.Equal(t, Unknown, v.Word(17))
	assert.Equal(t, Unknown, v.Word(-1))

	// Rebuilding from the persisted word list keeps every index.
	require.True(t, v.Equal(New(v.Words())))
}

func TestUnion(t *testing.T) {
	ab := New([]string{"a", "b"})
	bc := New([]string{"b", "c"})
	u := Union(ab, bc)
	checkReserved(t, u)
	assert.Equal(t, []string{"", "a", "b", "c", Unknown}, u.Words())
	assert.False(t, u.Equal(ab))
}
