/*package snapio reads particles from simulation snapshots and catalogs.

Sources stream particles in blocks so that a worker never has to hold a full
snapshot in memory.
*/
package snapio

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

// ErrInvalidSnapshot is returned when an input file cannot be parsed.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Particle is a single point mass.
type Particle struct {
	Pos  [3]float64
	Mass float64
}

// Source is a collection of particles inside a known volume.
type Source interface {
	// Volume returns the bounding box of the simulation.
	Volume() (decomp.Volume, error)
	// Particles calls fn on successive blocks of particles which may lie
	// inside region. Blocks can contain particles outside of region. The
	// block is only valid for the duration of the call. The first error
	// returned by fn stops iteration and is returned.
	Particles(region decomp.Region, fn func([]Particle) error) error
}

// filter moves the particles of ps which are inside region to the front of
// the slice and returns them.
func filter(ps []Particle, region decomp.Region) []Particle {
	n := 0
	for i := range ps {
		if region.Contains(ps[i].Pos) {
			ps[n] = ps[i]
			n++
		}
	}
	return ps[:n]
}

// ExpandInput returns the files an input path refers to: the path itself for
// a regular file or the sorted regular files inside a directory.
func ExpandInput(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	infos, err := ioutil.ReadDir(path)
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, info := range infos {
		if info.Mode().IsRegular() {
			files = append(files, filepath.Join(path, info.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: directory %s contains no files",
			ErrInvalidSnapshot, path)
	}
	sort.Strings(files)
	return files, nil
}
