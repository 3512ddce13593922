/*package plot draws diagnostic figures of combined mass grids.
*/
package plot

import (
	"fmt"

	plt "github.com/phil-mansfield/pyplot"

	"github.com/flaresimulations/zoom-region-selection/geom"
	"github.com/flaresimulations/zoom-region-selection/io"
)

// Profile returns the mass in each slice of the grid perpendicular to the
// axis it was decomposed along. xs are the slice centers.
func Profile(hd *io.GridHeader, cells []float64) (xs, ms []float64, err error) {
	if len(cells) != hd.Cells() {
		return nil, nil, fmt.Errorf(
			"grid has %d cells, but its header describes %d",
			len(cells), hd.Cells(),
		)
	}

	axis := int(hd.Mass.Axis)
	if axis < 0 || axis > 2 {
		return nil, nil, fmt.Errorf("unrecognized axis %d", axis)
	}

	spec := hd.Spec()
	g := geom.NewGrid([3]int{}, spec.Dims)
	n := spec.Dims[axis]
	xs, ms = make([]float64, n), make([]float64, n)
	for i := range xs {
		xs[i] = spec.Origin[axis] + (float64(i)+0.5)*spec.CellWidth
	}

	for idx, m := range cells {
		x, y, z := g.Coords(idx)
		ms[[3]int{x, y, z}[axis]] += m
	}
	return xs, ms, nil
}

// SlabEdges returns the physical positions of the boundaries between the
// slabs owned by each worker.
func SlabEdges(hd *io.GridHeader) ([]float64, error) {
	spec := hd.Spec()
	axis, workers := int(hd.Mass.Axis), int(hd.Mass.Workers)

	edges := []float64{}
	for rank := 1; rank < workers; rank++ {
		r, err := geom.SlabBounds(spec.Dims[axis], workers, rank)
		if err != nil {
			return nil, err
		}
		if r.Len() == 0 {
			break
		}
		edges = append(edges,
			spec.Origin[axis]+float64(r.Lo)*spec.CellWidth)
	}
	return edges, nil
}

// WriteProfile plots the profile of a combined grid to fname, with the slab
// boundaries drawn as vertical lines.
func WriteProfile(fname string, hd *io.GridHeader, cells []float64) error {
	xs, ms, err := Profile(hd, cells)
	if err != nil {
		return err
	}
	edges, err := SlabEdges(hd)
	if err != nil {
		return err
	}

	lo, hi := 0.0, 0.0
	for _, m := range ms {
		if m > hi {
			hi = m
		}
	}
	if hi == 0 {
		hi = 1
	}
	hi *= 1.1

	plt.Figure()
	for _, x := range edges {
		plt.Plot([]float64{x, x}, []float64{lo, hi}, plt.C("r"))
	}
	plt.Plot(xs, ms, "k", plt.LW(2))

	axisName := [3]string{"X", "Y", "Z"}[hd.Mass.Axis]
	plt.Title(fmt.Sprintf("%d workers, %d padding cells, total mass %.4g",
		hd.Mass.Workers, hd.Mass.PadCells, hd.Mass.TotalMass))
	plt.XLabel(fmt.Sprintf("$%s$", axisName), plt.FontSize(16))
	plt.YLabel(`$M$`, plt.FontSize(16))
	plt.YLim(lo, hi)
	plt.Grid(plt.Axis("y"))
	plt.SaveFig(fname)

	plt.Execute()
	return nil
}
