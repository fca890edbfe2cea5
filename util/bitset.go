package util

import "math/bits"

// BitSet is a fixed size set of dense ids. Set remembers insertion
// order so that Items lists ids in the order they were added.
type BitSet struct {
	words []uint64
	order []int
}

func NewBitSet(size int) *BitSet {
	return &BitSet{
		words: make([]uint64, (size+63)/64),
	}
}

func (b *BitSet) Has(i int) bool {
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Set adds i, returning false if it was already present.
func (b *BitSet) Set(i int) bool {
	w, m := i>>6, uint64(1)<<(uint(i)&63)
	if b.words[w]&m != 0 {
		return false
	}
	b.words[w] |= m
	b.order = append(b.order, i)
	return true
}

func (b *BitSet) Len() int {
	return len(b.order)
}

// Items returns the ids in insertion order. The slice is only valid
// until the next Set or Clear.
func (b *BitSet) Items() []int {
	return b.order
}

func (b *BitSet) Clear() {
	for _, i := range b.order {
		b.words[i>>6] = 0
	}
	b.order = b.order[:0]
}

// Count returns the number of set bits. Equal to Len, but computed
// from the words.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
