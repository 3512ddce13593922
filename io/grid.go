package io

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

/*
The binary format used for combined grids is as follows:
    |-- 1 --||-- ... 2 ... --|

    1 - (GridHeader) Header describing the grid. Its first field is a flag
        indicating the endianness of the file: 0 indicates a big endian byte
        ordering and -1 indicates a little endian byte order.
    2 - ([]byte) The grid cells as float64 values, x fastest. zstd compressed
        if Type.Compressed is non-zero.
*/
type GridHeader struct {
	Type TypeInfo
	Loc  LocationInfo
	Mass MassInfo
}

type TypeInfo struct {
	Endianness int64
	HeaderSize int64
	GridType   int64
	Compressed int64
	BodyBytes  int64
	Checksum   uint64
}

type LocationInfo struct {
	Origin, Span           Vector
	PixelOrigin, PixelSpan IntVector
	PixelWidth             float64
}

// MassInfo describes the decomposition the grid was assembled from.
type MassInfo struct {
	TotalMass               float64
	Workers, PadCells, Axis int64
}

type Vector [3]float64
type IntVector [3]int64

type GridFlag int64

const (
	Mass GridFlag = iota
)

var end = binary.LittleEndian

// NewLocationInfo returns the location of a full grid laid out according to
// spec.
func NewLocationInfo(spec decomp.GridSpec) LocationInfo {
	loc := LocationInfo{}

	for i := 0; i < 3; i++ {
		loc.Origin[i] = spec.Origin[i]
		loc.Span[i] = float64(spec.Dims[i]) * spec.CellWidth
		loc.PixelSpan[i] = int64(spec.Dims[i])
	}

	loc.PixelWidth = spec.CellWidth

	return loc
}

// Spec returns the grid specification of the header. The volume extent is
// the span of the grid, which can be slightly wider than the original
// volume.
func (hd *GridHeader) Spec() decomp.GridSpec {
	spec := decomp.GridSpec{CellWidth: hd.Loc.PixelWidth}
	spec.Origin = hd.Loc.Origin
	spec.Extent = hd.Loc.Span
	for i := 0; i < 3; i++ {
		spec.Dims[i] = int(hd.Loc.PixelSpan[i])
	}
	return spec
}

// Cells returns the number of cells in the grid.
func (hd *GridHeader) Cells() int {
	return int(hd.Loc.PixelSpan[0] * hd.Loc.PixelSpan[1] * hd.Loc.PixelSpan[2])
}

// WriteGrid writes a mass grid to path. The Type fields of hd are filled in.
func WriteGrid(
	path string, hd *GridHeader, cells []float64, compress bool,
) error {
	if len(cells) != hd.Cells() {
		return fmt.Errorf("grid has %d cells, but its header describes %d",
			len(cells), hd.Cells())
	}

	body, sum, err := encodeBody(cells, end, compress)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIOFailure, err)
	}

	var endFlag int64
	if end == binary.LittleEndian {
		endFlag = -1
	} else {
		endFlag = 0
	}

	hd.Type.Endianness = endFlag
	hd.Type.HeaderSize = int64(binary.Size(hd))
	hd.Type.GridType = int64(Mass)
	hd.Type.Compressed = 0
	if compress {
		hd.Type.Compressed = 1
	}
	hd.Type.BodyBytes = int64(len(body))
	hd.Type.Checksum = sum

	return writeAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, end, hd); err != nil {
			return err
		}
		_, err := w.Write(body)
		return err
	})
}

// endianness is a utility function converting an endianness flag to a
// byte order.
func endianness(flag int64) (binary.ByteOrder, error) {
	if flag == -1 {
		return binary.LittleEndian, nil
	} else if flag == 0 {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: unrecognized endianness flag %d",
		ErrGridFileCorrupt, flag)
}

func readGridHeader(
	path string, rd io.Reader,
) (*GridHeader, binary.ByteOrder, error) {
	var flag int64
	// order doesn't matter for this read, since flags are symmetric.
	if err := binary.Read(rd, binary.LittleEndian, &flag); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrGridFileCorrupt, path, err)
	}
	order, err := endianness(flag)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	hd := &GridHeader{}
	hd.Type.Endianness = flag
	rest := []interface{}{
		&hd.Type.HeaderSize, &hd.Type.GridType, &hd.Type.Compressed,
		&hd.Type.BodyBytes, &hd.Type.Checksum, &hd.Loc, &hd.Mass,
	}
	for _, field := range rest {
		if err := binary.Read(rd, order, field); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %s",
				ErrGridFileCorrupt, path, err)
		}
	}

	if hd.Type.HeaderSize != int64(binary.Size(hd)) {
		return nil, nil, fmt.Errorf(
			"%w: %s: expected a GridHeader size of %d, found %d",
			ErrGridFileCorrupt, path, binary.Size(hd), hd.Type.HeaderSize,
		)
	}
	for i := 0; i < 3; i++ {
		if hd.Loc.PixelSpan[i] < 1 {
			return nil, nil, fmt.Errorf("%w: %s: grid dimensions %v",
				ErrGridFileCorrupt, path, hd.Loc.PixelSpan)
		}
	}
	return hd, order, nil
}

func openGrid(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	} else if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIOFailure, err)
	}
	return f, nil
}

// ReadGridHeader reads the header of the grid file at path.
func ReadGridHeader(path string) (*GridHeader, error) {
	f, err := openGrid(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hd, _, err := readGridHeader(path, bufio.NewReader(f))
	return hd, err
}

// ReadGrid reads the grid file at path.
func ReadGrid(path string) (*GridHeader, []float64, error) {
	f, err := openGrid(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	rd := bufio.NewReader(f)
	hd, order, err := readGridHeader(path, rd)
	if err != nil {
		return nil, nil, err
	}

	if hd.Type.BodyBytes < 0 {
		return nil, nil, fmt.Errorf("%w: %s: %d body bytes",
			ErrGridFileCorrupt, path, hd.Type.BodyBytes)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrIOFailure, err)
	}
	if size := hd.Type.HeaderSize + hd.Type.BodyBytes; info.Size() != size {
		return nil, nil, fmt.Errorf(
			"%w: %s: file holds %d bytes, header describes %d",
			ErrGridFileCorrupt, path, info.Size(), size)
	}
	body := make([]byte, hd.Type.BodyBytes)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrGridFileCorrupt, path, err)
	}

	cells, err := decodeBody(body, hd.Cells(), order,
		hd.Type.Compressed != 0, hd.Type.Checksum, ErrGridFileCorrupt)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return hd, cells, nil
}
