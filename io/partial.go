package io

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/density"
	"github.com/flaresimulations/zoom-region-selection/geom"
)

/*
The binary format used for partial files is as follows:
    |-- 1 --||-- 2 --||-- ... 3 ... --||-- ... 4 ... --|

    1 - (uint32) PartialMagic. Reading it byte-swapped means the file was
        written with the other byte order.
    2 - (uint32) Format version.
    3 - (PartialHeader) Fixed width header describing the slab.
    4 - ([]byte) The padded local grid as float64 values, x fastest. zstd
        compressed if Compressed is non-zero.
*/
const (
	PartialMagic   uint32 = 0x6d617373
	PartialVersion uint32 = 1
)

// PartialHeader describes the slab a partial file was written for.
type PartialHeader struct {
	Rank, Workers, Axis, PadCells int64
	Dims                          [3]int64
	Owned, Padded                 [2]int64

	CellWidth      float64
	Origin, Extent [3]float64

	Cells, Compressed, BodyBytes int64
	// Checksum is the FNV-1a hash of the uncompressed body.
	Checksum uint64
}

// Partial is a partial grid read back from disk.
type Partial struct {
	Path   string
	Header PartialHeader
	Cells  []float64
}

// PartialPath returns the path rank writes its partial file to when the
// combined grid is written to output.
func PartialPath(output string, rank int) string {
	dir, name := filepath.Split(output)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, fmt.Sprintf("%s.part%04d", stem, rank))
}

// PartialPaths returns the partial file paths of every rank.
func PartialPaths(output string, workers int) []string {
	paths := make([]string, workers)
	for i := range paths {
		paths[i] = PartialPath(output, i)
	}
	return paths
}

// NewPartialHeader returns the header describing slab.
func NewPartialHeader(slab *decomp.Slab) PartialHeader {
	box := slab.PaddedBox()
	hd := PartialHeader{
		Rank: int64(slab.Rank), Workers: int64(slab.Workers),
		Axis: int64(slab.Axis), PadCells: int64(slab.Pad),
		Owned:     [2]int64{int64(slab.Owned.Lo), int64(slab.Owned.Hi)},
		Padded:    [2]int64{int64(slab.Padded.Lo), int64(slab.Padded.Hi)},
		CellWidth: slab.Spec.CellWidth,
		Origin:    slab.Spec.Origin, Extent: slab.Spec.Extent,
		Cells: int64(box.Cells()),
	}
	for i := 0; i < 3; i++ {
		hd.Dims[i] = int64(slab.Spec.Dims[i])
	}
	return hd
}

// WritePartial writes the local grid of slab to path.
func WritePartial(
	path string, g *density.LocalGrid, slab *decomp.Slab, compress bool,
) error {
	return writePartial(path, g, slab, compress, binary.LittleEndian)
}

func writePartial(
	path string, g *density.LocalGrid, slab *decomp.Slab,
	compress bool, order binary.ByteOrder,
) error {
	hd := NewPartialHeader(slab)
	if int64(len(g.Cells)) != hd.Cells {
		return fmt.Errorf("local grid has %d cells, but %s has %d",
			len(g.Cells), slab, hd.Cells)
	}

	body, sum, err := encodeBody(g.Cells, order, compress)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIOFailure, err)
	}
	if compress {
		hd.Compressed = 1
	}
	hd.BodyBytes = int64(len(body))
	hd.Checksum = sum

	return writeAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, order, PartialMagic); err != nil {
			return err
		}
		if err := binary.Write(w, order, PartialVersion); err != nil {
			return err
		}
		if err := binary.Write(w, order, &hd); err != nil {
			return err
		}
		_, err := w.Write(body)
		return err
	})
}

// ReadPartial reads and validates the partial file at path.
func ReadPartial(path string) (*Partial, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPartialFileMissing, path)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIOFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIOFailure, err)
	}
	rd := bufio.NewReader(f)

	corrupt := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrPartialFileCorrupt, path,
			fmt.Sprintf(format, args...))
	}

	word := make([]byte, 4)
	if _, err := io.ReadFull(rd, word); err != nil {
		return nil, corrupt("%s", err)
	}
	order, ok := byteOrder(word, PartialMagic)
	if !ok {
		return nil, corrupt("bad magic number %x", word)
	}

	var version uint32
	if err := binary.Read(rd, order, &version); err != nil {
		return nil, corrupt("%s", err)
	} else if version != PartialVersion {
		return nil, corrupt("unsupported version %d", version)
	}

	p := &Partial{Path: path}
	if err := binary.Read(rd, order, &p.Header); err != nil {
		return nil, corrupt("%s", err)
	}
	if err := p.Header.check(); err != nil {
		return nil, corrupt("%s", err)
	}

	hdSize := int64(8 + binary.Size(&p.Header))
	if info.Size() != hdSize+p.Header.BodyBytes {
		return nil, corrupt("file holds %d bytes, header describes %d",
			info.Size(), hdSize+p.Header.BodyBytes)
	}

	body := make([]byte, p.Header.BodyBytes)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, corrupt("%s", err)
	}

	p.Cells, err = decodeBody(body, int(p.Header.Cells), order,
		p.Header.Compressed != 0, p.Header.Checksum, ErrPartialFileCorrupt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// check validates the internal consistency of the header.
func (hd *PartialHeader) check() error {
	switch {
	case hd.Workers < 1:
		return fmt.Errorf("%d workers", hd.Workers)
	case hd.Rank < 0 || hd.Rank >= hd.Workers:
		return fmt.Errorf("rank %d of %d workers", hd.Rank, hd.Workers)
	case hd.Axis < 0 || hd.Axis > 2:
		return fmt.Errorf("axis %d", hd.Axis)
	case hd.Dims[0] < 1 || hd.Dims[1] < 1 || hd.Dims[2] < 1:
		return fmt.Errorf("grid dimensions %v", hd.Dims)
	case !(hd.CellWidth > 0):
		return fmt.Errorf("cell width %g", hd.CellWidth)
	}

	dim := hd.Dims[hd.Axis]
	if !(0 <= hd.Padded[0] && hd.Padded[0] <= hd.Owned[0] &&
		hd.Owned[0] <= hd.Owned[1] && hd.Owned[1] <= hd.Padded[1] &&
		hd.Padded[1] <= dim) {
		return fmt.Errorf("owned range [%d, %d) and padded range [%d, %d) "+
			"are inconsistent along an axis with %d cells",
			hd.Owned[0], hd.Owned[1], hd.Padded[0], hd.Padded[1], dim)
	}

	box := hd.PaddedBox()
	if hd.Cells != int64(box.Cells()) {
		return fmt.Errorf("%d cells, but the padded box has %d",
			hd.Cells, box.Cells())
	}
	if hd.Compressed == 0 && hd.BodyBytes != 8*hd.Cells {
		return fmt.Errorf("%d body bytes for %d uncompressed cells",
			hd.BodyBytes, hd.Cells)
	}
	if hd.BodyBytes < 0 {
		return fmt.Errorf("%d body bytes", hd.BodyBytes)
	}
	return nil
}

// OwnedRange returns the cells owned by the partial along its axis.
func (hd *PartialHeader) OwnedRange() geom.Range {
	return geom.Range{Lo: int(hd.Owned[0]), Hi: int(hd.Owned[1])}
}

// PaddedRange returns the cells covered by the partial along its axis.
func (hd *PartialHeader) PaddedRange() geom.Range {
	return geom.Range{Lo: int(hd.Padded[0]), Hi: int(hd.Padded[1])}
}

func (hd *PartialHeader) box(r geom.Range) geom.CellBounds {
	cb := geom.CellBounds{}
	for i := 0; i < 3; i++ {
		cb.Width[i] = int(hd.Dims[i])
	}
	cb.Origin[hd.Axis] = r.Lo
	cb.Width[hd.Axis] = r.Len()
	return cb
}

// OwnedBox returns the cell bounds of the owned cells.
func (hd *PartialHeader) OwnedBox() geom.CellBounds {
	return hd.box(hd.OwnedRange())
}

// PaddedBox returns the cell bounds of the stored cells.
func (hd *PartialHeader) PaddedBox() geom.CellBounds {
	return hd.box(hd.PaddedRange())
}

// Volume returns the volume the partial's grid was laid over.
func (hd *PartialHeader) Volume() decomp.Volume {
	return decomp.Volume{Origin: hd.Origin, Extent: hd.Extent}
}

// Grid returns the index of the stored cells.
func (p *Partial) Grid() *geom.Grid {
	box := p.Header.PaddedBox()
	return geom.NewGrid(box.Origin, box.Width)
}
