package snapio

import (
	"github.com/flaresimulations/zoom-region-selection/decomp"
)

// Memory is a Source backed by a slice. It is mostly used by tests and
// benchmarks.
type Memory struct {
	Vol decomp.Volume
	Ps  []Particle
	// BlockSize is the maximum number of particles passed to each callback.
	// Values <= 0 pass everything in one block.
	BlockSize int
}

// NewMemory returns a Memory source holding ps.
func NewMemory(vol decomp.Volume, ps []Particle) *Memory {
	return &Memory{Vol: vol, Ps: ps}
}

func (m *Memory) Volume() (decomp.Volume, error) { return m.Vol, nil }

func (m *Memory) Particles(
	region decomp.Region, fn func([]Particle) error,
) error {
	size := m.BlockSize
	if size <= 0 {
		size = len(m.Ps)
	}
	buf := make([]Particle, 0, size)

	for start := 0; start < len(m.Ps); start += size {
		end := start + size
		if end > len(m.Ps) {
			end = len(m.Ps)
		}
		buf = append(buf[:0], m.Ps[start:end]...)
		if err := fn(filter(buf, region)); err != nil {
			return err
		}
	}
	return nil
}
