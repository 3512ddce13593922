package decomp

import (
	"fmt"

	"github.com/flaresimulations/zoom-region-selection/geom"
)

// Slab is the part of the global grid assigned to a single worker.
type Slab struct {
	Spec          GridSpec
	Rank, Workers int
	// Axis is the index of the axis the grid is sliced along.
	Axis int
	Pad  int

	// Owned is the range of cells along Axis this worker is responsible for.
	// Padded is Owned widened by Pad cells and clipped to the grid.
	Owned, Padded geom.Range
}

// Decompose returns the slab owned by rank when the volume is divided into
// workers slabs along axis, each padded by pad cells on both sides.
func Decompose(
	vol Volume, cellWidth float64, workers, pad, rank int, axis Axis,
) (*Slab, error) {
	switch {
	case workers <= 0:
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidConfiguration,
			workers)
	case pad < 0:
		return nil, fmt.Errorf("%w: %d padding cells",
			ErrInvalidConfiguration, pad)
	case rank < 0 || rank >= workers:
		return nil, fmt.Errorf("%w: rank %d is outside [0, %d)",
			ErrInvalidConfiguration, rank, workers)
	case axis < AxisLongest || axis > AxisZ:
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfiguration, axis)
	}

	spec, err := NewGridSpec(vol, cellWidth)
	if err != nil {
		return nil, err
	}

	s := &Slab{
		Spec: spec, Rank: rank, Workers: workers, Pad: pad,
		Axis: axis.Resolve(spec.Dims),
	}
	dim := spec.Dims[s.Axis]
	s.Owned, err = geom.SlabBounds(dim, workers, rank)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfiguration, err)
	}
	s.Padded = s.Owned.Pad(pad, dim)

	return s, nil
}

// DecomposeAll returns the slabs of every rank in order.
func DecomposeAll(
	vol Volume, cellWidth float64, workers, pad int, axis Axis,
) ([]*Slab, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidConfiguration,
			workers)
	}
	slabs := make([]*Slab, workers)
	for rank := range slabs {
		s, err := Decompose(vol, cellWidth, workers, pad, rank, axis)
		if err != nil {
			return nil, err
		}
		slabs[rank] = s
	}
	return slabs, nil
}

func (s *Slab) box(r geom.Range) geom.CellBounds {
	cb := s.Spec.Bounds()
	cb.Origin[s.Axis] = r.Lo
	cb.Width[s.Axis] = r.Len()
	return cb
}

// OwnedBox returns the cell bounds of the owned part of the slab.
func (s *Slab) OwnedBox() geom.CellBounds { return s.box(s.Owned) }

// PaddedBox returns the cell bounds of the padded slab.
func (s *Slab) PaddedBox() geom.CellBounds { return s.box(s.Padded) }

// Region returns the physical box covered by the padded slab, widened by
// half a cell along the slicing axis so that no particle the depositor would
// accept falls outside of it.
func (s *Slab) Region() Region {
	r := Region{Lo: s.Spec.Origin}
	for i := 0; i < 3; i++ {
		r.Hi[i] = s.Spec.Origin[i] + s.Spec.Extent[i]
	}
	k, w := s.Axis, s.Spec.CellWidth
	if s.Padded.Lo > 0 {
		r.Lo[k] = s.Spec.Origin[k] + (float64(s.Padded.Lo)-0.5)*w
	}
	if s.Padded.Hi < s.Spec.Dims[k] {
		r.Hi[k] = s.Spec.Origin[k] + (float64(s.Padded.Hi)+0.5)*w
	}
	return r
}

func (s *Slab) String() string {
	return fmt.Sprintf("slab %d/%d: axis %d, owned %s, padded %s",
		s.Rank, s.Workers, s.Axis, s.Owned, s.Padded)
}
