package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"

	gridding "github.com/flaresimulations/zoom-region-selection"
	"github.com/flaresimulations/zoom-region-selection/combine"
	"github.com/flaresimulations/zoom-region-selection/group"
	"github.com/flaresimulations/zoom-region-selection/io"
	"github.com/flaresimulations/zoom-region-selection/plot"
	"github.com/flaresimulations/zoom-region-selection/snapio"
)

// FileGroup contains utility files for logging and writing profiles to.
type FileGroup struct {
	log, prof *os.File
}

// Close closes the files inside FileGroup.
func (fg *FileGroup) Close() {
	if fg.log != nil {
		err := fg.log.Close()
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	if fg.prof != nil {
		pprof.StopCPUProfile()
		err := fg.prof.Close()
		if err != nil {
			log.Fatal(err.Error())
		}
	}
}

func main() {
	var (
		gridStr, combineStr, infoStr, plotStr string
		exampleConfig                         string
		workers, threads                      int
	)
	vars := map[string]*string{
		"Grid":          &gridStr,
		"Combine":       &combineStr,
		"Info":          &infoStr,
		"Plot":          &plotStr,
		"ExampleConfig": &exampleConfig,
	}

	flag.IntVar(
		&workers, "Workers", 1,
		"Number of in-process workers. Ignored in MPI builds, where every "+
			"MPI process is one worker.",
	)
	flag.IntVar(
		&threads, "Threads", 0,
		"Deposition threads per worker. Overrides 'Threads' in the config "+
			"file when set.",
	)
	flag.StringVar(
		&gridStr, "Grid", "",
		"Configuration file for [Grid] mode.",
	)
	flag.StringVar(
		&combineStr, "Combine", "",
		"Configuration file of a [Grid] run whose partial files should be "+
			"combined. -Workers must match the original run.",
	)
	flag.StringVar(
		&infoStr, "Info", "",
		"Prints the header of a combined grid file.",
	)
	flag.StringVar(
		&plotStr, "Plot", "",
		"Plots the mass profile of a combined grid file along its "+
			"decomposition axis.",
	)
	flag.StringVar(
		&exampleConfig,
		"ExampleConfig", "", "Prints an example configuration file of the "+
			"specified type to stdout. The only accepted argument is 'Grid'.",
	)

	flag.Parse()

	modeName, err := getModeName(vars)
	if err != nil {
		log.Fatal(err.Error())
	}

	switch modeName {
	case "Grid", "Combine":
		fname := gridStr
		if modeName == "Combine" {
			fname = combineStr
		}
		con, err := io.ReadGridConfig(fname)
		if err != nil {
			log.Fatal(err.Error())
		}
		if threads > 0 {
			con.Threads = threads
		}
		cfg, err := gridding.NewConfig(con)
		if err != nil {
			log.Fatal(err.Error())
		}

		fg := setupFiles(con)
		defer fg.Close()

		src, err := source(con)
		if err != nil {
			log.Fatal(err.Error())
		}

		if modeName == "Grid" {
			gridMain(cfg, src, workers)
		} else {
			combineMain(cfg, src, workers)
		}

	case "Info":
		infoMain(infoStr)

	case "Plot":
		plotMain(plotStr)

	case "ExampleConfig":
		switch exampleConfig {
		case "Grid":
			fmt.Println(io.ExampleGridFile)
		default:
			log.Fatal(
				"Unrecognized 'ExampleConfig' argument. The only recognized " +
					"argument is 'Grid'.",
			)
		}
	default:
		panic("Impossible")
	}
}

// getModeName returns the name of the mode and fails with a descriptive error
// if the user provided less or more than one mode flag.
func getModeName(vars map[string]*string) (string, error) {
	setNames := []string{}

	for name, varPtr := range vars {
		if *varPtr != "" {
			setNames = append(setNames, name)
		}
	}

	if len(setNames) == 0 {
		return "", fmt.Errorf("No flags have been set.")
	}

	if len(setNames) > 1 {
		return "", fmt.Errorf(
			"The following flags were set: %s, but the grid command "+
				"only accepts one flag at a time.",
			strings.Join(setNames, ", "),
		)
	}

	return setNames[0], nil
}

// setupFiles redirects logging and starts CPU profiling if requested.
func setupFiles(con *io.GridConfig) *FileGroup {
	fg := &FileGroup{}
	var err error

	if con.ValidLogFile() {
		fg.log, err = os.Create(con.LogFile)
		if err != nil {
			log.Fatal(err.Error())
		}
		log.SetOutput(fg.log)
	}

	if con.ValidProfileFile() {
		fg.prof, err = os.Create(con.ProfileFile)
		if err != nil {
			log.Fatal(err.Error())
		}
		err = pprof.StartCPUProfile(fg.prof)
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	return fg
}

// source opens the particle input named in the config file.
func source(con *io.GridConfig) (snapio.Source, error) {
	files, err := snapio.ExpandInput(con.Input)
	if err != nil {
		return nil, err
	}

	if !con.IsText() {
		return snapio.NewGadget2(files...)
	}

	if len(files) != 1 {
		return nil, fmt.Errorf("Text input must be a single file, but %s "+
			"contains %d files.", con.Input, len(files))
	}
	cols := snapio.TextColumns{
		X: con.XColumn, Y: con.YColumn, Z: con.ZColumn, Mass: con.MassColumn,
	}
	src := snapio.NewText(files[0], cols, con.ParticleMass)
	if vol, ok := con.Volume(); ok {
		src.SetVolume(vol)
	}
	return src, nil
}

func gridMain(cfg gridding.Config, src snapio.Source, workers int) {
	var res *combine.Result

	if group.MPIEnabled {
		if err := group.Init(); err != nil {
			log.Fatal(err.Error())
		}
		g, err := group.MPI()
		if err != nil {
			log.Fatal(err.Error())
		}
		res, err = gridding.Run(g, cfg, src)
		if err != nil {
			log.Fatalf("[rank %d] %s", g.Rank(), err.Error())
		}
		if err = group.Finalize(); err != nil {
			log.Fatal(err.Error())
		}
	} else {
		mu := sync.Mutex{}
		err := group.RunLocal(workers, func(g group.Group) error {
			r, err := gridding.Run(g, cfg, src)
			if r != nil {
				mu.Lock()
				res = r
				mu.Unlock()
			}
			return err
		})
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	if res != nil {
		report(res)
	}
}

func combineMain(cfg gridding.Config, src snapio.Source, workers int) {
	spec, err := gridding.Spec(cfg, src)
	if err != nil {
		log.Fatal(err.Error())
	}

	res, err := combine.Combine(
		io.PartialPaths(cfg.Output, workers), spec, cfg.Output,
		combine.Options{
			Readers: cfg.Readers, DeletePartials: cfg.DeletePartials,
			Compress: cfg.Compress,
		},
	)
	if err != nil {
		log.Fatal(err.Error())
	}
	report(res)
}

func report(res *combine.Result) {
	for rank, m := range res.RankMass {
		log.Printf("Rank %d owns a mass of %g", rank, m)
	}
	log.Printf("Total mass: %g", res.TotalMass)
	if len(res.Warnings) > 0 {
		log.Printf("Finished with %d warnings", len(res.Warnings))
	}
}

func infoMain(fname string) {
	hd, cells, err := io.ReadGrid(fname)
	if err != nil {
		log.Fatal(err.Error())
	}
	fmt.Printf("Grid:        %s\n", fname)
	fmt.Printf("Dimensions:  %d x %d x %d\n",
		hd.Loc.PixelSpan[0], hd.Loc.PixelSpan[1], hd.Loc.PixelSpan[2])
	fmt.Printf("Origin:      %.6g\n", hd.Loc.Origin)
	fmt.Printf("Span:        %.6g\n", hd.Loc.Span)
	fmt.Printf("Cell width:  %g\n", hd.Loc.PixelWidth)
	fmt.Printf("Workers:     %d (axis %d, %d padding cells)\n",
		hd.Mass.Workers, hd.Mass.Axis, hd.Mass.PadCells)
	fmt.Printf("Compressed:  %v\n", hd.Type.Compressed != 0)
	fmt.Printf("Total mass:  %g (header), %g (cells)\n",
		hd.Mass.TotalMass, floats.Sum(cells))
}

func plotMain(fname string) {
	hd, cells, err := io.ReadGrid(fname)
	if err != nil {
		log.Fatal(err.Error())
	}
	out := strings.TrimSuffix(fname, filepath.Ext(fname)) + "_profile.png"
	if err := plot.WriteProfile(out, hd, cells); err != nil {
		log.Fatal(err.Error())
	}
	log.Printf("Wrote mass profile to %s", out)
}
