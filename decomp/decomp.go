/*package decomp splits a simulation volume into contiguous slabs of grid
cells, one per worker.

Every worker runs Decompose with the same arguments and its own rank, so all
workers derive the same partition without communicating.
*/
package decomp

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/flaresimulations/zoom-region-selection/geom"
)

// ErrInvalidConfiguration is returned for decomposition parameters which
// cannot produce a valid partition.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// dimSlack is the relative tolerance applied before rounding the number of
// cells up, so exact multiples of the cell width survive rounding noise.
const dimSlack = 1e-9

// Axis identifies the axis a volume is sliced along.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	// AxisLongest selects the axis with the most cells. Ties go to the lowest
	// axis.
	AxisLongest Axis = -1
)

// ParseAxis converts a config value ("X", "Y", "Z" or "Longest") into an
// Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	case "longest", "":
		return AxisLongest, nil
	}
	return AxisLongest, fmt.Errorf(
		"%w: unrecognized axis '%s'", ErrInvalidConfiguration, s,
	)
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	case AxisLongest:
		return "Longest"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Resolve returns the concrete axis index for a grid with the given
// dimensions.
func (a Axis) Resolve(dims [3]int) int {
	if a != AxisLongest {
		return int(a)
	}
	axis := 0
	for i := 1; i < 3; i++ {
		if dims[i] > dims[axis] {
			axis = i
		}
	}
	return axis
}

// Volume is the axis-aligned bounding box of the simulation.
type Volume struct {
	Origin, Extent [3]float64
}

// Check returns an error if any extent is not strictly positive.
func (vol Volume) Check() error {
	for i := 0; i < 3; i++ {
		e := vol.Extent[i]
		if !(e > 0) || math.IsInf(e, 0) ||
			math.IsNaN(vol.Origin[i]) || math.IsInf(vol.Origin[i], 0) {
			return fmt.Errorf(
				"%w: volume has origin %g and extent %g along axis %d",
				ErrInvalidConfiguration, vol.Origin[i], e, i,
			)
		}
	}
	return nil
}

// Contains returns true if pos lies inside [Origin, Origin + Extent).
func (vol Volume) Contains(pos [3]float64) bool {
	for i := 0; i < 3; i++ {
		x := pos[i] - vol.Origin[i]
		if !(x >= 0 && x < vol.Extent[i]) {
			return false
		}
	}
	return true
}

// CheckVolumes returns an error if two workers disagree about the volume.
func CheckVolumes(a, b Volume) error {
	if a != b {
		return fmt.Errorf(
			"%w: mismatched volumes, origin %v extent %v vs origin %v extent %v",
			ErrInvalidConfiguration, a.Origin, a.Extent, b.Origin, b.Extent,
		)
	}
	return nil
}

// Region is a physical box, [Lo, Hi) along every axis.
type Region struct {
	Lo, Hi [3]float64
}

// Contains returns true if pos lies inside the region.
func (r Region) Contains(pos [3]float64) bool {
	for i := 0; i < 3; i++ {
		if !(pos[i] >= r.Lo[i] && pos[i] < r.Hi[i]) {
			return false
		}
	}
	return true
}

// GridSpec describes the global grid laid over a Volume.
type GridSpec struct {
	Volume
	CellWidth float64
	Dims      [3]int
}

// NewGridSpec computes the number of cells along each axis as
// ceil(extent / cellWidth).
func NewGridSpec(vol Volume, cellWidth float64) (GridSpec, error) {
	if err := vol.Check(); err != nil {
		return GridSpec{}, err
	}
	if !(cellWidth > 0) || math.IsInf(cellWidth, 0) {
		return GridSpec{}, fmt.Errorf(
			"%w: cell width %g", ErrInvalidConfiguration, cellWidth,
		)
	}

	spec := GridSpec{Volume: vol, CellWidth: cellWidth}
	for i := 0; i < 3; i++ {
		n := vol.Extent[i] / cellWidth
		spec.Dims[i] = int(math.Ceil(n - n*dimSlack))
		if spec.Dims[i] < 1 {
			spec.Dims[i] = 1
		}
	}
	return spec, nil
}

// Cells returns the total number of cells in the grid.
func (spec *GridSpec) Cells() int {
	return spec.Dims[0] * spec.Dims[1] * spec.Dims[2]
}

// Bounds returns the cell bounds of the whole grid.
func (spec *GridSpec) Bounds() geom.CellBounds {
	return geom.CellBounds{Width: spec.Dims}
}

// Cell returns the global cell containing pos and true, or false if pos is
// outside the volume. Positions inside the volume which round onto the upper
// edge are put in the last cell.
func (spec *GridSpec) Cell(pos [3]float64) ([3]int, bool) {
	if !spec.Contains(pos) {
		return [3]int{}, false
	}
	idx := [3]int{}
	for i := 0; i < 3; i++ {
		j, err := geom.CellIndex(pos[i], spec.Origin[i],
			spec.CellWidth, spec.Dims[i])
		if err != nil {
			if pos[i] < spec.Origin[i] {
				return idx, false
			}
			j = spec.Dims[i] - 1
		}
		idx[i] = j
	}
	return idx, true
}

// Equal returns true if the two specs describe the same grid.
func (spec *GridSpec) Equal(spec2 *GridSpec) bool {
	return *spec == *spec2
}
