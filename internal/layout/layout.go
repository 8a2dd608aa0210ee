// Package layout describes the physical seat arrangement of the study room.
// The set of valid seat numbers is configuration, not logic: every other
// package asks a Layout whether a number exists instead of hard coding ranges.
package layout

import (
	"fmt"
	"sort"
	"strings"
)

// Block is a group of seats rendered together, listed in display order.
type Block struct {
	Name  string `json:"name"`
	Seats []int  `json:"seats"`
}

// Layout is a named arrangement of blocks.
type Layout struct {
	Name   string  `json:"name"`
	Blocks []Block `json:"blocks"`

	index map[int]struct{}
}

// Layout names accepted by ByName.
const (
	NameFull    = "full"
	NameReduced = "reduced"
)

func wallBlocks() []Block {
	return []Block{
		{Name: "left-top", Seats: []int{1, 2, 3, 4, 5, 6, 7, 8}},
		{Name: "left-bottom", Seats: []int{9, 10, 11, 12, 13, 14, 15, 16}},
		{Name: "right-top", Seats: []int{42, 41, 40, 39, 38, 37, 36, 35}},
		{Name: "right-bottom", Seats: []int{34, 33, 32, 31, 30, 29, 28, 27, 26, 25, 24, 23}},
		{Name: "bottom", Seats: []int{17, 18, 19, 20, 21, 22}},
	}
}

// centerGrid builds a block of rows of four seats.  Rows advance by eight
// because the left and right halves of the center tables interleave.
func centerGrid(name string, first, rows int) Block {
	seats := make([]int, 0, rows*4)
	for r := 0; r < rows; r++ {
		start := first + r*8
		seats = append(seats, start, start+1, start+2, start+3)
	}
	return Block{Name: name, Seats: seats}
}

// Reduced returns the 42 seat wall-only arrangement.
func Reduced() Layout {
	return build(NameReduced, wallBlocks())
}

// Full returns the 130 seat arrangement: the wall seats plus the two center
// table blocks (43-98 and 99-130).
func Full() Layout {
	blocks := wallBlocks()
	blocks = append(blocks,
		centerGrid("center-top-left", 43, 7),
		centerGrid("center-top-right", 47, 7),
		centerGrid("center-bottom-left", 99, 4),
		centerGrid("center-bottom-right", 103, 4),
	)
	return build(NameFull, blocks)
}

// ByName resolves a configured layout name.
func ByName(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameFull:
		return Full(), nil
	case NameReduced:
		return Reduced(), nil
	}
	return Layout{}, fmt.Errorf("unknown seat layout %q", name)
}

func build(name string, blocks []Block) Layout {
	l := Layout{Name: name, Blocks: blocks, index: make(map[int]struct{})}
	for _, b := range blocks {
		for _, n := range b.Seats {
			l.index[n] = struct{}{}
		}
	}
	return l
}

// Contains reports whether n is a seat of this layout.
func (l Layout) Contains(n int) bool {
	_, ok := l.index[n]
	return ok
}

// Len is the number of seats in the layout.
func (l Layout) Len() int { return len(l.index) }

// Seats lists every seat number in ascending order.
func (l Layout) Seats() []int {
	out := make([]int, 0, len(l.index))
	for n := range l.index {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
