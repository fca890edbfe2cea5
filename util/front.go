package util

import (
	"slices"
	"sort"
)

// Entry is an element of a Front.
type Entry[E any] interface {
	Departure() int

	// Covers reports whether the receiver is at least as good as o
	// in everything but departure time.
	Covers(o E) bool
}

// Front is a list of journey alternatives departing one stop, sorted
// by decreasing departure, in which no entry dominates another. An
// entry dominates another if it departs no earlier and covers it.
//
// The first entry is always the sentinel, departing and arriving at
// infinity.
type Front[E Entry[E]] struct {
	Entries []E
}

func NewFront[E Entry[E]](sentinel E) Front[E] {
	return Front[E]{Entries: []E{sentinel}}
}

// Insert adds e unless it is dominated, removing the entries e
// dominates. Reports whether e was added.
func (f *Front[E]) Insert(e E) bool {
	dep := e.Departure()
	p := sort.Search(len(f.Entries), func(i int) bool {
		return f.Entries[i].Departure() < dep
	})
	if p > 0 && f.Entries[p-1].Covers(e) {
		return false
	}

	start := p
	if p > 0 && f.Entries[p-1].Departure() == dep {
		start = p - 1
	}
	end := p
	for end < len(f.Entries) && e.Covers(f.Entries[end]) {
		end++
	}

	f.Entries = slices.Replace(f.Entries, start, end, e)
	return true
}

// Dominated reports whether e would be rejected by Insert.
func (f *Front[E]) Dominated(e E) bool {
	dep := e.Departure()
	p := sort.Search(len(f.Entries), func(i int) bool {
		return f.Entries[i].Departure() < dep
	})
	return p > 0 && f.Entries[p-1].Covers(e)
}

// Lookup returns the index of the earliest entry departing at or
// after t. This is the best choice for someone ready to depart at t.
// Index 0 is the sentinel.
func (f *Front[E]) Lookup(t int) int {
	p := sort.Search(len(f.Entries), func(i int) bool {
		return f.Entries[i].Departure() < t
	})
	return p - 1
}

// Len is the number of entries, sentinel excluded.
func (f *Front[E]) Len() int {
	return len(f.Entries) - 1
}

// Clone returns a front that can be modified independently of f.
func (f *Front[E]) Clone() Front[E] {
	return Front[E]{Entries: slices.Clone(f.Entries)}
}
