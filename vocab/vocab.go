// Package vocab provides the word <-> index tables used to encode token
// sequences.
//
// Every Vocabulary reserves two entries: the empty word at index 0, which is
// used as padding, and Unknown at the largest index, which absorbs every word
// or index the table does not know about.
package vocab

import (
	"slices"
	"sort"
)

// Unknown is the reserved word stored at the top index of every Vocabulary.
const Unknown = "[UNKNOWN]"

// Padding is the reserved word stored at index 0 of every Vocabulary.
const Padding = ""

// Vocabulary is an immutable bidirectional word <-> index table.
//
// It is safe for concurrent use: nothing mutates it after New returns, which
// is what allows a dataset mixer to hand one table to several datasets.
type Vocabulary struct {
	wordToID map[string]int
	idToWord []string
}

// New builds a Vocabulary from words.
//
// The reserved words are filtered out of the input, duplicates keep their
// first position, and the remaining words are numbered from 1 in input order.
// Padding is then assigned index 0 and Unknown the index after the last word.
func New(words []string) *Vocabulary {
	v := &Vocabulary{
		wordToID: make(map[string]int, len(words)+2),
		idToWord: make([]string, 1, len(words)+2),
	}
	v.idToWord[0] = Padding
	v.wordToID[Padding] = 0
	for _, word := range words {
		if word == Padding || word == Unknown {
			continue
		}
		if _, found := v.wordToID[word]; found {
			continue
		}
		v.wordToID[word] = len(v.idToWord)
		v.idToWord = append(v.idToWord, word)
	}
	v.wordToID[Unknown] = len(v.idToWord)
	v.idToWord = append(v.idToWord, Unknown)
	return v
}

// Union builds a Vocabulary over the sorted union of the words of all the
// given vocabularies.
func Union(vocabularies ...*Vocabulary) *Vocabulary {
	set := make(map[string]struct{})
	for _, v := range vocabularies {
		for _, word := range v.idToWord {
			set[word] = struct{}{}
		}
	}
	words := make([]string, 0, len(set))
	for word := range set {
		words = append(words, word)
	}
	sort.Strings(words)
	return New(words)
}

// Len returns the number of entries, reserved ones included.
func (v *Vocabulary) Len() int {
	return len(v.idToWord)
}

// UnknownID returns the index of Unknown.
func (v *Vocabulary) UnknownID() int {
	return len(v.idToWord) - 1
}

// ID returns the index of word and whether the word is known.
// Unknown words map to UnknownID.
func (v *Vocabulary) ID(word string) (int, bool) {
	id, found := v.wordToID[word]
	if !found {
		return v.UnknownID(), false
	}
	return id, true
}

// Word returns the word at index id. Indices outside the table map to Unknown.
func (v *Vocabulary) Word(id int) string {
	if id < 0 || id >= len(v.idToWord) {
		return Unknown
	}
	return v.idToWord[id]
}

// Contains reports whether word has an entry.
func (v *Vocabulary) Contains(word string) bool {
	_, found := v.wordToID[word]
	return found
}

// Words returns all words ordered by index, reserved ones included.
// The returned slice is a copy.
func (v *Vocabulary) Words() []string {
	return slices.Clone(v.idToWord)
}

// Equal reports whether both vocabularies assign the same index to every word.
func (v *Vocabulary) Equal(other *Vocabulary) bool {
	if v == other {
		return true
	}
	if v == nil || other == nil {
		return false
	}
	return slices.Equal(v.idToWord, other.idToWord)
}
