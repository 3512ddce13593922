package snapio

import (
	"fmt"
	"math"
	"sync"

	"github.com/phil-mansfield/table"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

// TextColumns gives the zero-indexed columns of an ASCII catalog. A negative
// MassColumn means every particle has the same mass.
type TextColumns struct {
	X, Y, Z, Mass int
}

// Text is a Source reading a whitespace-separated ASCII particle catalog. The
// catalog is read once and kept in memory.
type Text struct {
	file     string
	cols     TextColumns
	mass     float64
	vol      decomp.Volume
	fixedVol bool

	once sync.Once
	ps   []Particle
	err  error
}

// NewText returns a source for the catalog in file. mass is the particle
// mass used when cols.Mass is negative.
func NewText(file string, cols TextColumns, mass float64) *Text {
	return &Text{file: file, cols: cols, mass: mass}
}

// SetVolume fixes the volume of the catalog instead of using the bounding box
// of its particles.
func (t *Text) SetVolume(vol decomp.Volume) {
	t.vol, t.fixedVol = vol, true
}

func (t *Text) read() {
	colIdxs := []int{t.cols.X, t.cols.Y, t.cols.Z}
	if t.cols.Mass >= 0 {
		colIdxs = append(colIdxs, t.cols.Mass)
	}

	cols, err := table.ReadTable(t.file, colIdxs, nil)
	if err != nil {
		t.err = fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, t.file, err)
		return
	}

	xs, ys, zs := cols[0], cols[1], cols[2]
	t.ps = make([]Particle, len(xs))
	for i := range t.ps {
		t.ps[i].Pos = [3]float64{xs[i], ys[i], zs[i]}
		if t.cols.Mass >= 0 {
			t.ps[i].Mass = cols[3][i]
		} else {
			t.ps[i].Mass = t.mass
		}
	}

	if !t.fixedVol {
		t.vol, t.err = boundingVolume(t.ps)
		if t.err != nil {
			t.err = fmt.Errorf("%s: %w", t.file, t.err)
		}
	}
}

// boundingVolume returns the smallest volume which contains every particle.
func boundingVolume(ps []Particle) (decomp.Volume, error) {
	if len(ps) == 0 {
		return decomp.Volume{}, fmt.Errorf("%w: catalog has no particles",
			ErrInvalidSnapshot)
	}

	lo, hi := ps[0].Pos, ps[0].Pos
	for i := range ps {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], ps[i].Pos[k])
			hi[k] = math.Max(hi[k], ps[i].Pos[k])
		}
	}

	vol := decomp.Volume{Origin: lo}
	for k := 0; k < 3; k++ {
		// The upper edge is exclusive, so step just past the last particle.
		vol.Extent[k] = math.Nextafter(hi[k]-lo[k], math.Inf(+1))
	}
	return vol, nil
}

func (t *Text) Volume() (decomp.Volume, error) {
	t.once.Do(t.read)
	return t.vol, t.err
}

func (t *Text) Particles(
	region decomp.Region, fn func([]Particle) error,
) error {
	t.once.Do(t.read)
	if t.err != nil {
		return t.err
	}

	buf := make([]Particle, len(t.ps))
	copy(buf, t.ps)
	return fn(filter(buf, region))
}
