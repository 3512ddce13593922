/*package gridding builds the mass histogram of a particle snapshot with a
fixed group of workers.

Each worker deposits the particles in its own slab of the volume and writes a
partial grid. After a barrier, rank 0 combines the partial grids into a single
file:

    res, err := gridding.Run(group.Single(), gridding.DefaultConfig(), src)
*/
package gridding

import (
	"log"

	"github.com/flaresimulations/zoom-region-selection/combine"
	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/density"
	"github.com/flaresimulations/zoom-region-selection/group"
	"github.com/flaresimulations/zoom-region-selection/io"
	"github.com/flaresimulations/zoom-region-selection/snapio"
)

// Config controls a gridding run.
type Config struct {
	CellWidth float64
	PadCells  int
	Axis      decomp.Axis
	// Output is the path of the combined grid. Partial files are written
	// next to it.
	Output         string
	DeletePartials bool
	// Threads is the number of deposition threads per worker and Readers is
	// the number of partial files the combiner reads at once.
	Threads, Readers int
	Compress         bool
	// Volume replaces the volume of the particle source if non-nil.
	Volume *decomp.Volume
}

// DefaultConfig returns the default settings. Output must still be set.
func DefaultConfig() Config {
	return Config{
		CellWidth: 2, PadCells: 5, Axis: decomp.AxisLongest,
		Threads: 1, Readers: 1,
	}
}

// NewConfig converts a [Grid] config file section into a Config.
func NewConfig(con *io.GridConfig) (Config, error) {
	if err := con.Check(); err != nil {
		return Config{}, err
	}
	axis, err := decomp.ParseAxis(con.Axis)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		CellWidth: con.CellWidth, PadCells: con.PadCells, Axis: axis,
		Output: con.Output, DeletePartials: con.DeleteDistributed,
		Threads: con.Threads, Readers: con.Readers, Compress: con.Compress,
	}
	if vol, ok := con.Volume(); ok {
		cfg.Volume = &vol
	}
	return cfg, nil
}

// Decompose returns the slab of rank, sliced along the longest axis.
func Decompose(
	vol decomp.Volume, cellWidth float64, workers, pad, rank int,
) (*decomp.Slab, error) {
	return decomp.Decompose(vol, cellWidth, workers, pad, rank,
		decomp.AxisLongest)
}

// DecomposeAxis returns the slab of rank, sliced along axis.
func DecomposeAxis(
	vol decomp.Volume, cellWidth float64, workers, pad, rank int,
	axis decomp.Axis,
) (*decomp.Slab, error) {
	return decomp.Decompose(vol, cellWidth, workers, pad, rank, axis)
}

// WriteOptions control how a worker deposits and writes its partial grid.
type WriteOptions struct {
	Threads  int
	Compress bool
}

// DepositAndWrite deposits the particles of src which fall in slab and
// writes the result to the partial file of slab's rank.
func DepositAndWrite(
	slab *decomp.Slab, src snapio.Source, output string, opt WriteOptions,
) (*density.Stats, error) {
	d := density.NewDepositor(slab, opt.Threads)
	err := src.Particles(slab.Region(), func(ps []snapio.Particle) error {
		d.Add(ps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	g, st := d.Finish()

	path := io.PartialPath(output, slab.Rank)
	if err := io.WritePartial(path, g, slab, opt.Compress); err != nil {
		return nil, err
	}

	log.Printf("[rank %d] Deposited %d particles with mass %g into %s "+
		"(%d outside the slab, %d outside the volume, %d with invalid mass)",
		slab.Rank, st.Deposited, st.DepositedMass, path,
		st.Skipped, st.OutsideVolume, st.BadMass)
	return st, nil
}

// Combine merges the partial files at paths into output.
func Combine(
	paths []string, spec decomp.GridSpec, output string, deletePartials bool,
) error {
	_, err := combine.Combine(paths, spec, output,
		combine.Options{DeletePartials: deletePartials})
	return err
}

// Volume returns the volume a run with cfg will grid.
func Volume(cfg Config, src snapio.Source) (decomp.Volume, error) {
	if cfg.Volume != nil {
		return *cfg.Volume, nil
	}
	return src.Volume()
}

// Spec returns the global grid a run with cfg will produce.
func Spec(cfg Config, src snapio.Source) (decomp.GridSpec, error) {
	vol, err := Volume(cfg, src)
	if err != nil {
		return decomp.GridSpec{}, err
	}
	return decomp.NewGridSpec(vol, cfg.CellWidth)
}

// Run builds the grid with the calling worker's share of g. Every worker
// deposits and writes its partial grid, waits for the others, and then rank 0
// combines the partial grids. Only rank 0 returns a Result.
func Run(g group.Group, cfg Config, src snapio.Source) (*combine.Result, error) {
	vol, err := Volume(cfg, src)
	if err != nil {
		return nil, err
	}

	slab, err := decomp.Decompose(vol, cfg.CellWidth, g.Size(),
		cfg.PadCells, g.Rank(), cfg.Axis)
	if err != nil {
		return nil, err
	}
	log.Printf("[rank %d] Gridding %s", g.Rank(), slab)

	opt := WriteOptions{Threads: cfg.Threads, Compress: cfg.Compress}
	if _, err = DepositAndWrite(slab, src, cfg.Output, opt); err != nil {
		return nil, err
	}

	if err = g.Barrier(); err != nil {
		return nil, err
	}
	if g.Rank() != 0 {
		return nil, nil
	}

	return combine.Combine(
		io.PartialPaths(cfg.Output, g.Size()), slab.Spec, cfg.Output,
		combine.Options{
			Readers: cfg.Readers, DeletePartials: cfg.DeletePartials,
			Compress: cfg.Compress,
		},
	)
}
