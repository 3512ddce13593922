package geom

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOutOfBounds is returned when a coordinate maps to a cell outside
	// of the grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrInvalidSlab is returned when a slab cannot be computed from the
	// requested decomposition.
	ErrInvalidSlab = errors.New("invalid slab decomposition")
)

// Range is a half-open interval of cell indices, [Lo, Hi).
type Range struct {
	Lo, Hi int
}

// Len returns the number of cells in r.
func (r Range) Len() int {
	if r.Hi < r.Lo {
		return 0
	}
	return r.Hi - r.Lo
}

// Contains returns true if i is in [Lo, Hi).
func (r Range) Contains(i int) bool { return r.Lo <= i && i < r.Hi }

// Overlaps returns true if the two ranges share at least one cell.
func (r Range) Overlaps(r2 Range) bool {
	return r.Len() > 0 && r2.Len() > 0 && r.Lo < r2.Hi && r2.Lo < r.Hi
}

// Pad widens r by pad cells on each side and clips the result to
// [0, dim).
func (r Range) Pad(pad, dim int) Range {
	lo, hi := r.Lo-pad, r.Hi+pad
	if lo < 0 {
		lo = 0
	}
	if hi > dim {
		hi = dim
	}
	return Range{lo, hi}
}

func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.Lo, r.Hi) }

// CellIndex returns the index of the cell containing coord along a single
// axis: floor((coord - origin) / cellWidth). An error wrapping
// ErrOutOfBounds is returned if the index is not in [0, dim).
func CellIndex(coord, origin, cellWidth float64, dim int) (int, error) {
	f := math.Floor((coord - origin) / cellWidth)
	if math.IsNaN(f) || f < 0 || f >= float64(dim) {
		return -1, fmt.Errorf(
			"%w: %g maps to cell %g of %d (origin = %g, width = %g)",
			ErrOutOfBounds, coord, f, dim, origin, cellWidth,
		)
	}
	return int(f), nil
}

// CellIndex3 applies CellIndex to each axis of pos.
func CellIndex3(
	pos, origin [3]float64, cellWidth float64, dims [3]int,
) ([3]int, error) {
	idx := [3]int{}
	for i := 0; i < 3; i++ {
		j, err := CellIndex(pos[i], origin[i], cellWidth, dims[i])
		if err != nil {
			return idx, fmt.Errorf("axis %d: %w", i, err)
		}
		idx[i] = j
	}
	return idx, nil
}

// SlabBounds returns the cells owned by rank when totalDim cells are split
// between workers contiguous slabs. The first totalDim % workers ranks get
// one extra cell. Ranks beyond totalDim own an empty range at the end of the
// axis.
func SlabBounds(totalDim, workers, rank int) (Range, error) {
	switch {
	case workers < 1:
		return Range{}, fmt.Errorf("%w: %d workers", ErrInvalidSlab, workers)
	case rank < 0 || rank >= workers:
		return Range{}, fmt.Errorf(
			"%w: rank %d with %d workers", ErrInvalidSlab, rank, workers,
		)
	case totalDim < 0:
		return Range{}, fmt.Errorf(
			"%w: axis length %d", ErrInvalidSlab, totalDim,
		)
	}

	base, extra := totalDim/workers, totalDim%workers
	lo := rank*base + minInt(rank, extra)
	hi := lo + base
	if rank < extra {
		hi++
	}
	return Range{lo, hi}, nil
}

func minInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}
