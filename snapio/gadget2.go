package snapio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

// gadgetHeaderSize is the size of the header block of a Gadget-2 file.
const gadgetHeaderSize = 256

// gadgetHeader is the formatting for meta-information used by Gadget 2.
type gadgetHeader struct {
	NPart                                     [6]uint32
	Mass                                      [6]float64
	Time, Redshift                            float64
	FlagSfr, FlagFeedback                     int32
	NPartTotal                                [6]uint32
	FlagCooling, NumFiles                     int32
	BoxSize, Omega0, OmegaLambda, HubbleParam float64
	FlagStellarAge, HashTabSize               int32

	Padding [88]byte
}

// wrapDistance takes a value and interprets it as a position defined within
// a periodic domain of width h.BoxSize.
func (h *gadgetHeader) wrapDistance(x float64) float64 {
	if x < 0 {
		return x + h.BoxSize
	} else if x >= h.BoxSize {
		return x - h.BoxSize
	}
	return x
}

// Gadget2 is a Source reading the dark matter particles of one or more
// Gadget-2 snapshot files. Files of either byte order can be read.
type Gadget2 struct {
	files []string
}

// NewGadget2 returns a source reading the given snapshot files.
func NewGadget2(files ...string) (*Gadget2, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no Gadget-2 files given",
			ErrInvalidSnapshot)
	}
	return &Gadget2{files: files}, nil
}

// Files returns the snapshot files read by the source.
func (g *Gadget2) Files() []string { return g.files }

// Volume returns the periodic box of the first file, [0, BoxSize)^3.
func (g *Gadget2) Volume() (decomp.Volume, error) {
	f, err := os.Open(g.files[0])
	if err != nil {
		return decomp.Volume{}, err
	}
	defer f.Close()

	hd, _, err := readGadgetHeader(f, g.files[0])
	if err != nil {
		return decomp.Volume{}, err
	}
	if !(hd.BoxSize > 0) {
		return decomp.Volume{}, fmt.Errorf(
			"%w: %s has box size %g", ErrInvalidSnapshot,
			g.files[0], hd.BoxSize,
		)
	}
	vol := decomp.Volume{}
	for i := 0; i < 3; i++ {
		vol.Extent[i] = hd.BoxSize
	}
	return vol, nil
}

// Particles reads the files one at a time and passes each file's particles
// inside region to fn as one block.
func (g *Gadget2) Particles(
	region decomp.Region, fn func([]Particle) error,
) error {
	var ps []Particle
	var buf []float32
	for _, file := range g.files {
		var err error
		ps, buf, err = readGadgetParticles(file, ps[:0], buf[:0])
		if err != nil {
			return err
		}
		if err = fn(filter(ps, region)); err != nil {
			return err
		}
	}
	return nil
}

// readGadgetHeader reads the header block of f and returns the byte order
// the file was written with.
func readGadgetHeader(
	f io.Reader, file string,
) (*gadgetHeader, binary.ByteOrder, error) {
	var marker [4]byte
	if _, err := io.ReadFull(f, marker[:]); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, file, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(marker[:]) == gadgetHeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(marker[:]) == gadgetHeaderSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf(
			"%w: %s does not start with a %d byte Gadget-2 header block",
			ErrInvalidSnapshot, file, gadgetHeaderSize,
		)
	}

	hd := &gadgetHeader{}
	if err := binary.Read(f, order, hd); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, file, err)
	}
	if err := checkMarker(f, order, gadgetHeaderSize, file); err != nil {
		return nil, nil, err
	}
	return hd, order, nil
}

func checkMarker(
	r io.Reader, order binary.ByteOrder, size int, file string,
) error {
	var n uint32
	if err := binary.Read(r, order, &n); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, file, err)
	}
	if int(n) != size {
		return fmt.Errorf(
			"%w: %s has a block of %d bytes, expected %d",
			ErrInvalidSnapshot, file, n, size,
		)
	}
	return nil
}

// readBlock reads a Fortran-style block of exactly len(buf) values.
func readBlock(
	r io.Reader, order binary.ByteOrder, buf []float32, file string,
) error {
	size := 4 * len(buf)
	if err := checkMarker(r, order, size, file); err != nil {
		return err
	}
	if err := binary.Read(r, order, buf); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, file, err)
	}
	return checkMarker(r, order, size, file)
}

// skipBlock skips over a Fortran-style block of any size.
func skipBlock(r io.ReadSeeker, order binary.ByteOrder, file string) error {
	var n uint32
	if err := binary.Read(r, order, &n); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidSnapshot, file, err)
	}
	if _, err := r.Seek(int64(n), io.SeekCurrent); err != nil {
		return err
	}
	return checkMarker(r, order, int(n), file)
}

// readGadgetParticles appends the particles in file to ps. buf is used
// internally and returned for reuse.
func readGadgetParticles(
	file string, ps []Particle, buf []float32,
) ([]Particle, []float32, error) {
	f, err := os.Open(file)
	if err != nil {
		return ps, buf, err
	}
	defer f.Close()

	hd, order, err := readGadgetHeader(f, file)
	if err != nil {
		return ps, buf, err
	}
	n := int(hd.NPart[1])

	buf = resize(buf, 3*n)
	if err = readBlock(f, order, buf, file); err != nil {
		return ps, buf, err
	}
	start := len(ps)
	for i := 0; i < n; i++ {
		p := Particle{Mass: hd.Mass[1]}
		for k := 0; k < 3; k++ {
			p.Pos[k] = hd.wrapDistance(float64(buf[3*i+k]))
		}
		ps = append(ps, p)
	}

	if hd.Mass[1] > 0 {
		return ps, buf, nil
	}

	// Velocity and ID blocks sit between the positions and the masses.
	for i := 0; i < 2; i++ {
		if err = skipBlock(f, order, file); err != nil {
			return ps, buf, err
		}
	}
	buf = resize(buf, n)
	if err = readBlock(f, order, buf, file); err != nil {
		return ps, buf, err
	}
	for i := 0; i < n; i++ {
		ps[start+i].Mass = float64(buf[i])
	}
	return ps, buf, nil
}

func resize(buf []float32, n int) []float32 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]float32, n)
}
