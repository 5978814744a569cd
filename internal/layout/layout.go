// Package layout arranges outputs on a shared desktop. Outputs are grouped
// into rows by their vertical hint; each row runs left to right in order of
// the horizontal hint and rows stack top to bottom.
package layout

import "sort"

// Item is an output to place. HintX and HintY only order the items; the
// final position is computed from the sizes.
type Item struct {
	ID     string
	Width  uint32
	Height uint32
	HintX  int32
	HintY  int32
}

// Position is the top-left corner of an output
type Position struct {
	X, Y int32
}

// Arrangement maps output identities to positions
type Arrangement map[string]Position

// Placement implements the pipeline's layout lookup
func (a Arrangement) Placement(id string) (x, y int32, ok bool) {
	p, ok := a[id]
	return p.X, p.Y, ok
}

// Bounds returns the size of the rectangle enclosing every output
func (a Arrangement) Bounds(items []Item) (width, height uint32) {
	for _, it := range items {
		p, ok := a[it.ID]
		if !ok {
			continue
		}
		width = max(width, uint32(p.X)+it.Width)
		height = max(height, uint32(p.Y)+it.Height)
	}
	return width, height
}

// Arrange packs items into rows without gaps or overlap
func Arrange(items []Item) Arrangement {
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.HintY != b.HintY {
			return a.HintY < b.HintY
		}
		if a.HintX != b.HintX {
			return a.HintX < b.HintX
		}
		return a.ID < b.ID
	})

	out := make(Arrangement, len(sorted))
	var x, y int32
	var rowHeight uint32
	for i, it := range sorted {
		if i > 0 && it.HintY > sorted[i-1].HintY {
			y += int32(rowHeight)
			x, rowHeight = 0, 0
		}
		out[it.ID] = Position{X: x, Y: y}
		x += int32(it.Width)
		rowHeight = max(rowHeight, it.Height)
	}
	return out
}
