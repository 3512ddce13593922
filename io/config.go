package io

import (
	"fmt"
	"strings"

	"gopkg.in/gcfg.v1"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

const (
	ExampleGridFile = `[Grid]

#######################
# Required Parameters #
#######################

# Snapshot file, or a directory containing the snapshot files.
Input = path/to/snapshot/dir
# Path of the combined grid. Per-worker partial files are written next to it
# as <name>.part0000, <name>.part0001, etc.
Output = path/to/output/grid.gtet

# The format of the input files. Must be one of [ Gadget-2 | Text ].
InputFormat = Gadget-2

# Width of one grid cell, in the units of the particle positions.
CellWidth = 2

# Number of cells added on each side of a worker's slab.
PadCells = 5

#######################
# Optional Parameters #
#######################

# Remove the partial files once the combined grid has been written.
# DeleteDistributed = false

# Axis the volume is sliced along. Must be one of [ X | Y | Z | Longest ].
# Axis = Longest

# Deposition threads per worker and concurrent partial file readers used by
# the combiner.
# Threads = 1
# Readers = 1

# Compress partial and combined files with zstd.
# Compress = false

# Columns of Text catalogs. A negative MassColumn gives every particle a mass
# of ParticleMass.
# XColumn = 0
# YColumn = 1
# ZColumn = 2
# MassColumn = 3
# ParticleMass = 1

# Overrides the volume read from the input. Location of the lowermost corner
# and width of the volume in each dimension:
# X = 0
# Y = 0
# Z = 0
# XWidth = 100
# YWidth = 100
# ZWidth = 100

# Output files which are useful for profiling and debugging. Generally, there
# isn't a reason to use these unless something goes wrong.
# ProfileFile = prof.out
# LogFile = log.out`
)

type SharedConfig struct {
	// Required
	Input, Output string
	// Optional
	LogFile, ProfileFile string
}

func (con *SharedConfig) ValidInput() bool {
	return con.Input != ""
}
func (con *SharedConfig) ValidOutput() bool {
	return con.Output != ""
}
func (con *SharedConfig) ValidLogFile() bool {
	return con.LogFile != ""
}
func (con *SharedConfig) ValidProfileFile() bool {
	return con.ProfileFile != ""
}

type GridConfig struct {
	SharedConfig

	// Required
	InputFormat string
	CellWidth   float64
	PadCells    int

	// Optional
	DeleteDistributed bool
	Axis              string
	Threads, Readers  int
	Compress          bool

	XColumn, YColumn, ZColumn, MassColumn int
	ParticleMass                          float64

	X, Y, Z                float64
	XWidth, YWidth, ZWidth float64
}

type GridWrapper struct {
	Grid GridConfig
}

func DefaultGridWrapper() *GridWrapper {
	con := GridConfig{}
	con.InputFormat = "Gadget-2"
	con.CellWidth = 2
	con.PadCells = 5
	con.Axis = "Longest"
	con.Threads = 1
	con.Readers = 1
	con.XColumn, con.YColumn, con.ZColumn, con.MassColumn = 0, 1, 2, 3
	con.ParticleMass = 1
	return &GridWrapper{con}
}

// ReadGridConfig reads the [Grid] section of fname on top of the defaults.
func ReadGridConfig(fname string) (*GridConfig, error) {
	wrap := DefaultGridWrapper()
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	return &wrap.Grid, nil
}

func (con *GridConfig) ValidInputFormat() bool {
	f := strings.ToLower(con.InputFormat)
	return f == "gadget-2" || f == "text"
}
func (con *GridConfig) ValidCellWidth() bool {
	return con.CellWidth > 0
}
func (con *GridConfig) ValidPadCells() bool {
	return con.PadCells >= 0
}
func (con *GridConfig) ValidAxis() bool {
	_, err := decomp.ParseAxis(con.Axis)
	return err == nil
}
func (con *GridConfig) ValidThreads() bool {
	return con.Threads > 0
}
func (con *GridConfig) ValidReaders() bool {
	return con.Readers > 0
}
func (con *GridConfig) ValidColumns() bool {
	return con.XColumn >= 0 && con.YColumn >= 0 && con.ZColumn >= 0
}
func (con *GridConfig) ValidParticleMass() bool {
	return con.ParticleMass > 0
}

// ValidVolume returns true if all three widths are set.
func (con *GridConfig) ValidVolume() bool {
	return con.XWidth > 0 && con.YWidth > 0 && con.ZWidth > 0
}

// IsText returns true if the input is an ASCII catalog.
func (con *GridConfig) IsText() bool {
	return strings.ToLower(con.InputFormat) == "text"
}

// Volume returns the volume override given in the config file and true, or
// false if no override was given.
func (con *GridConfig) Volume() (decomp.Volume, bool) {
	if !con.ValidVolume() {
		return decomp.Volume{}, false
	}
	return decomp.Volume{
		Origin: [3]float64{con.X, con.Y, con.Z},
		Extent: [3]float64{con.XWidth, con.YWidth, con.ZWidth},
	}, true
}

// Check returns an error describing the first invalid variable in the
// config.
func (con *GridConfig) Check() error {
	anyWidth := con.XWidth != 0 || con.YWidth != 0 || con.ZWidth != 0

	switch {
	case !con.ValidInput():
		return configError("Input must be set.")
	case !con.ValidOutput():
		return configError("Output must be set.")
	case !con.ValidInputFormat():
		return configError("InputFormat '%s' not recognized.", con.InputFormat)
	case !con.ValidCellWidth():
		return configError("CellWidth must be positive, but is %g.",
			con.CellWidth)
	case !con.ValidPadCells():
		return configError("PadCells must be non-negative, but is %d.",
			con.PadCells)
	case !con.ValidAxis():
		return configError("Axis must be one of [X | Y | Z | Longest]. "+
			"'%s' is not recognized.", con.Axis)
	case !con.ValidThreads():
		return configError("Threads must be positive, but is %d.",
			con.Threads)
	case !con.ValidReaders():
		return configError("Readers must be positive, but is %d.",
			con.Readers)
	case con.IsText() && !con.ValidColumns():
		return configError("XColumn, YColumn and ZColumn must be " +
			"non-negative.")
	case con.IsText() && con.MassColumn < 0 && !con.ValidParticleMass():
		return configError("ParticleMass must be positive, but is %g.",
			con.ParticleMass)
	case anyWidth && !con.ValidVolume():
		return configError("XWidth, YWidth and ZWidth must all be positive "+
			"if any is set, but are %g, %g and %g.",
			con.XWidth, con.YWidth, con.ZWidth)
	}
	return nil
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", decomp.ErrInvalidConfiguration,
		fmt.Sprintf(format, args...))
}
