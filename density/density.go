/*package density deposits particle masses onto a worker's local grid using a
nearest grid point scheme.
*/
package density

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/geom"
	"github.com/flaresimulations/zoom-region-selection/snapio"
)

// LocalGrid is the mass histogram of a single worker's padded slab. Cells are
// addressed with global coordinates.
type LocalGrid struct {
	Slab *decomp.Slab
	geom.Grid
	Cells []float64
}

// NewLocalGrid returns an empty grid covering the padded box of slab.
func NewLocalGrid(slab *decomp.Slab) *LocalGrid {
	g := &LocalGrid{Slab: slab}
	box := slab.PaddedBox()
	g.Grid.Init(box.Origin, box.Width)
	g.Cells = make([]float64, g.Size)
	return g
}

// At returns the mass in the cell with the given global coordinates.
func (g *LocalGrid) At(x, y, z int) float64 { return g.Cells[g.Idx(x, y, z)] }

// Mass returns the total mass in the grid, padding included.
func (g *LocalGrid) Mass() float64 { return floats.Sum(g.Cells) }

// OwnedMass returns the mass in the cells owned by the slab.
func (g *LocalGrid) OwnedMass() float64 {
	owned := g.Slab.OwnedBox()
	sum := 0.0
	for z := owned.Origin[2]; z < owned.Origin[2]+owned.Width[2]; z++ {
		for y := owned.Origin[1]; y < owned.Origin[1]+owned.Width[1]; y++ {
			for x := owned.Origin[0]; x < owned.Origin[0]+owned.Width[0]; x++ {
				sum += g.At(x, y, z)
			}
		}
	}
	return sum
}

// Stats counts what happened to the particles passed to a Depositor.
type Stats struct {
	// Deposited particles landed in the padded slab.
	Deposited int
	// Skipped particles were inside the volume but outside the padded slab.
	Skipped int
	// OutsideVolume particles were outside of the simulation volume.
	OutsideVolume int
	// BadMass particles had a non-positive, NaN or infinite mass.
	BadMass int

	DepositedMass float64
}

func (st *Stats) add(st2 *Stats) {
	st.Deposited += st2.Deposited
	st.Skipped += st2.Skipped
	st.OutsideVolume += st2.OutsideVolume
	st.BadMass += st2.BadMass
}

// Depositor accumulates blocks of particles into a LocalGrid. With more than
// one thread each thread fills its own buffer and Finish merges the buffers
// in thread order, so results are reproducible for a fixed thread count.
type Depositor struct {
	grid  *LocalGrid
	bufs  [][]float64
	stats []Stats
}

// NewDepositor returns a Depositor for slab using the given number of
// threads.
func NewDepositor(slab *decomp.Slab, threads int) *Depositor {
	if threads < 1 {
		threads = 1
	}
	d := &Depositor{
		grid:  NewLocalGrid(slab),
		bufs:  make([][]float64, threads),
		stats: make([]Stats, threads),
	}
	d.bufs[0] = d.grid.Cells
	for i := 1; i < threads; i++ {
		d.bufs[i] = make([]float64, len(d.grid.Cells))
	}
	return d
}

// Add deposits a block of particles.
func (d *Depositor) Add(ps []snapio.Particle) {
	threads := len(d.bufs)
	if threads == 1 || len(ps) < threads {
		d.deposit(ps, d.bufs[0], &d.stats[0])
		return
	}

	wg := &sync.WaitGroup{}
	chunk := (len(ps) + threads - 1) / threads
	for i := 0; i < threads; i++ {
		lo, hi := i*chunk, (i+1)*chunk
		if hi > len(ps) {
			hi = len(ps)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(i, lo, hi int) {
			d.deposit(ps[lo:hi], d.bufs[i], &d.stats[i])
			wg.Done()
		}(i, lo, hi)
	}
	wg.Wait()
}

func (d *Depositor) deposit(ps []snapio.Particle, buf []float64, st *Stats) {
	s := d.grid.Slab
	for i := range ps {
		m := ps[i].Mass
		if !(m > 0) || math.IsInf(m, 0) {
			st.BadMass++
			continue
		}

		c, ok := s.Spec.Cell(ps[i].Pos)
		if !ok {
			st.OutsideVolume++
			continue
		}
		if !s.Padded.Contains(c[s.Axis]) {
			st.Skipped++
			continue
		}

		buf[d.grid.Idx(c[0], c[1], c[2])] += m
		st.Deposited++
	}
}

// Finish merges the thread buffers and returns the grid and its statistics.
// The Depositor must not be used afterwards.
func (d *Depositor) Finish() (*LocalGrid, *Stats) {
	st := &Stats{}
	st.add(&d.stats[0])
	for i := 1; i < len(d.bufs); i++ {
		floats.Add(d.grid.Cells, d.bufs[i])
		st.add(&d.stats[i])
	}
	d.bufs = nil
	st.DepositedMass = d.grid.Mass()
	return d.grid, st
}

// Deposit adds the mass of every particle in the padded part of slab to a new
// LocalGrid. Particles outside of it are skipped.
func Deposit(ps []snapio.Particle, slab *decomp.Slab) *LocalGrid {
	g, _ := DepositParallel(ps, slab, 1)
	return g
}

// DepositParallel is Deposit split over the given number of threads.
func DepositParallel(
	ps []snapio.Particle, slab *decomp.Slab, threads int,
) (*LocalGrid, *Stats) {
	d := NewDepositor(slab, threads)
	d.Add(ps)
	return d.Finish()
}
