package geom

// CellBounds is a box of whole cells. Origin is the global coordinate of its
// lowest corner. Boxes never wrap around the volume edges.
type CellBounds struct {
	Origin, Width [3]int
}

// Grid maps global cell coordinates inside a CellBounds onto offsets into a
// flat slice with x varying fastest. A worker's local grid and the assembled
// global grid share this layout, so rows along x can be copied between them
// directly.
type Grid struct {
	CellBounds
	// Length and Area are the strides of y and z. Size is the number of
	// cells.
	Length, Area, Size int
	hi                 [3]int
}

// NewGrid returns a Grid covering the box at origin with the given width.
func NewGrid(origin, width [3]int) *Grid {
	g := &Grid{}
	g.Init(origin, width)
	return g
}

// Init sets up g in place. A zero width along any axis gives an empty grid.
func (g *Grid) Init(origin, width [3]int) {
	g.Origin, g.Width = origin, width
	g.Length = width[0]
	g.Area = width[0] * width[1]
	g.Size = g.Area * width[2]
	for k := range g.hi {
		g.hi[k] = origin[k] + width[k]
	}
}

// Idx returns the slice offset of the cell at global coordinates (x, y, z).
// The coordinates must lie inside g.
func (g *Grid) Idx(x, y, z int) int {
	x, y, z = x-g.Origin[0], y-g.Origin[1], z-g.Origin[2]
	return x + y*g.Length + z*g.Area
}

// IdxCheck is Idx for coordinates that may lie outside g, in which case ok
// is false.
func (g *Grid) IdxCheck(x, y, z int) (idx int, ok bool) {
	if !g.BoundsCheck(x, y, z) {
		return -1, false
	}
	return g.Idx(x, y, z), true
}

// BoundsCheck reports whether the global coordinates (x, y, z) lie inside g.
func (g *Grid) BoundsCheck(x, y, z int) bool {
	c := [3]int{x, y, z}
	for k := range c {
		if c[k] < g.Origin[k] || c[k] >= g.hi[k] {
			return false
		}
	}
	return true
}

// Coords is the inverse of Idx.
func (g *Grid) Coords(idx int) (x, y, z int) {
	x = idx%g.Length + g.Origin[0]
	y = (idx%g.Area)/g.Length + g.Origin[1]
	z = idx/g.Area + g.Origin[2]
	return x, y, z
}

// Cells returns the number of cells in the bounding box.
func (cb *CellBounds) Cells() int {
	return cb.Width[0] * cb.Width[1] * cb.Width[2]
}

// Range returns the extent of the bounding box along the given axis.
func (cb *CellBounds) Range(axis int) Range {
	return Range{cb.Origin[axis], cb.Origin[axis] + cb.Width[axis]}
}

// Contains returns true if cb2 lies entirely inside cb1.
func (cb1 *CellBounds) Contains(cb2 *CellBounds) bool {
	for i := 0; i < 3; i++ {
		if cb2.Width[i] == 0 {
			continue
		}
		if cb2.Origin[i] < cb1.Origin[i] ||
			cb2.Origin[i]+cb2.Width[i] > cb1.Origin[i]+cb1.Width[i] {
			return false
		}
	}
	return true
}

// Intersect returns true if the two bounding boxes share at least one cell.
// Boxes are not periodic.
func (cb1 *CellBounds) Intersect(cb2 *CellBounds) bool {
	for i := 0; i < 3; i++ {
		if !cb1.Range(i).Overlaps(cb2.Range(i)) {
			return false
		}
	}
	return true
}
