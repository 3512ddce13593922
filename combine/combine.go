/*package combine merges the partial grids written by every worker into a
single global grid.
*/
package combine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/geom"
	"github.com/flaresimulations/zoom-region-selection/io"
)

// ErrDecompositionMismatch is returned when the partial grids do not tile
// the global grid exactly or disagree with the expected grid.
var ErrDecompositionMismatch = errors.New("decomposition mismatch")

// removeFile is replaced by tests.
var removeFile = os.Remove

// Options control how partial files are combined.
type Options struct {
	// Readers is the number of partial files read concurrently.
	Readers int
	// DeletePartials removes the partial files after the combined grid has
	// been written.
	DeletePartials bool
	// Compress zstd compresses the body of the combined grid.
	Compress bool
}

// Result is an assembled global grid.
type Result struct {
	Header    io.GridHeader
	Grid      []float64
	TotalMass float64
	// RankMass is the mass owned by each rank.
	RankMass []float64
	// Warnings holds errors which did not prevent the grid from being
	// written.
	Warnings []error
}

// Combine reads the partial files at paths, assembles them into the global
// grid described by spec and writes it to output. Nothing is written to
// output unless every partial file is valid and the partials tile the grid.
func Combine(
	paths []string, spec decomp.GridSpec, output string, opt Options,
) (*Result, error) {
	partials, err := ReadPartials(paths, opt.Readers)
	if err != nil {
		return nil, err
	}

	res, err := Assemble(partials, spec)
	if err != nil {
		return nil, err
	}

	err = io.WriteGrid(output, &res.Header, res.Grid, opt.Compress)
	if err != nil {
		return nil, err
	}
	log.Printf("Wrote %d partial grids with a total mass of %g to %s",
		len(paths), res.TotalMass, output)

	if opt.DeletePartials {
		for _, path := range paths {
			if err := removeFile(path); err != nil {
				w := fmt.Errorf("%w: could not delete partial file: %s",
					io.ErrIOFailure, err)
				log.Printf("Warning: %s", w)
				res.Warnings = append(res.Warnings, w)
			}
		}
	}

	return res, nil
}

// ReadPartials reads the partial files at paths with up to readers files
// read at once.
func ReadPartials(paths []string, readers int) ([]*io.Partial, error) {
	if readers < 1 {
		readers = 1
	}
	partials := make([]*io.Partial, len(paths))

	g := &errgroup.Group{}
	g.SetLimit(readers)
	for i := range paths {
		i := i
		g.Go(func() error {
			p, err := io.ReadPartial(paths[i])
			partials[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return partials, nil
}

// Assemble copies the owned cells of every partial into a new global grid.
func Assemble(partials []*io.Partial, spec decomp.GridSpec) (*Result, error) {
	if err := checkPartials(partials, spec); err != nil {
		return nil, err
	}
	axis := int(partials[0].Header.Axis)

	res := &Result{
		Grid:     make([]float64, spec.Cells()),
		RankMass: make([]float64, len(partials)),
	}
	bounds := spec.Bounds()
	global := geom.NewGrid(bounds.Origin, bounds.Width)

	for _, p := range partials {
		owned := p.Header.OwnedBox()
		local := p.Grid()
		mass := 0.0

		// Rows along x are contiguous in both grids.
		lo, hi := owned.Origin, owned.Width
		for z := lo[2]; z < lo[2]+hi[2]; z++ {
			for y := lo[1]; y < lo[1]+hi[1]; y++ {
				if hi[0] == 0 {
					continue
				}
				src := p.Cells[local.Idx(lo[0], y, z):][:hi[0]]
				dst := res.Grid[global.Idx(lo[0], y, z):][:hi[0]]
				copy(dst, src)
				mass += floats.Sum(src)
			}
		}
		res.RankMass[p.Header.Rank] = mass
	}

	res.TotalMass = floats.Sum(res.Grid)
	res.Header.Loc = io.NewLocationInfo(spec)
	res.Header.Mass = io.MassInfo{
		TotalMass: res.TotalMass,
		Workers:   int64(len(partials)),
		PadCells:  partials[0].Header.PadCells,
		Axis:      int64(axis),
	}
	return res, nil
}

// checkPartials verifies that the partials describe the grid of spec and
// that their owned ranges tile it exactly.
func checkPartials(partials []*io.Partial, spec decomp.GridSpec) error {
	if len(partials) == 0 {
		return fmt.Errorf("%w: no partial grids", ErrDecompositionMismatch)
	}

	axis := partials[0].Header.Axis
	ranks := map[int64]string{}
	for _, p := range partials {
		hd := &p.Header
		switch {
		case hd.Workers != int64(len(partials)):
			return mismatch(p, "written by %d workers, but %d partials given",
				hd.Workers, len(partials))
		case hd.Axis != axis:
			return mismatch(p, "sliced along axis %d, but %s along %d",
				hd.Axis, partials[0].Path, axis)
		case hd.CellWidth != spec.CellWidth:
			return mismatch(p, "cell width %g, expected %g",
				hd.CellWidth, spec.CellWidth)
		}
		for i := 0; i < 3; i++ {
			if hd.Dims[i] != int64(spec.Dims[i]) {
				return mismatch(p, "grid dimensions %v, expected %v",
					hd.Dims, spec.Dims)
			}
		}
		if err := decomp.CheckVolumes(hd.Volume(), spec.Volume); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecompositionMismatch,
				p.Path, err)
		}
		if prev, ok := ranks[hd.Rank]; ok {
			return mismatch(p, "rank %d was already read from %s",
				hd.Rank, prev)
		}
		ranks[hd.Rank] = p.Path
	}

	sorted := make([]*io.Partial, len(partials))
	copy(sorted, partials)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Header.OwnedRange(), sorted[j].Header.OwnedRange()
		if ri.Lo != rj.Lo {
			return ri.Lo < rj.Lo
		}
		return ri.Hi < rj.Hi
	})

	next, last := 0, (*io.Partial)(nil)
	for _, p := range sorted {
		r := p.Header.OwnedRange()
		if r.Len() == 0 {
			continue
		}
		switch {
		case r.Lo > next && last == nil:
			return mismatch(p, "cells [0, %d) are not owned by any rank",
				r.Lo)
		case r.Lo > next:
			return fmt.Errorf(
				"%w: gap [%d, %d) between rank %d %s and rank %d %s",
				ErrDecompositionMismatch, next, r.Lo,
				last.Header.Rank, last.Header.OwnedRange(), p.Header.Rank, r,
			)
		case r.Lo < next:
			return fmt.Errorf(
				"%w: rank %d %s overlaps rank %d %s",
				ErrDecompositionMismatch, last.Header.Rank,
				last.Header.OwnedRange(), p.Header.Rank, r,
			)
		}
		next, last = r.Hi, p
	}

	if dim := spec.Dims[axis]; next != dim {
		return fmt.Errorf("%w: cells [%d, %d) are not owned by any rank",
			ErrDecompositionMismatch, next, dim)
	}
	return nil
}

func mismatch(p *io.Partial, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrDecompositionMismatch, p.Path,
		fmt.Sprintf(format, args...))
}
