package io

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"

	"github.com/DataDog/zstd"
)

var (
	// ErrPartialFileMissing is returned when an expected partial file does
	// not exist.
	ErrPartialFileMissing = errors.New("partial file missing")
	// ErrPartialFileCorrupt is returned when a partial file cannot be
	// parsed or fails validation.
	ErrPartialFileCorrupt = errors.New("partial file corrupt")
	// ErrGridFileCorrupt is returned when a combined grid file cannot be
	// parsed.
	ErrGridFileCorrupt = errors.New("grid file corrupt")
	// ErrIOFailure is returned when a file cannot be written or removed.
	ErrIOFailure = errors.New("i/o failure")
)

// zstdLevel is the compression level used for file bodies.
const zstdLevel = 1

// encodeBody converts cells to bytes, optionally zstd compressing them. The
// returned checksum is computed before compression.
func encodeBody(
	cells []float64, order binary.ByteOrder, compress bool,
) ([]byte, uint64, error) {
	buf := &bytes.Buffer{}
	buf.Grow(8 * len(cells))
	if err := binary.Write(buf, order, cells); err != nil {
		return nil, 0, err
	}
	raw := buf.Bytes()
	sum := checksum(raw)

	if !compress {
		return raw, sum, nil
	}
	out, err := zstd.CompressLevel(nil, raw, zstdLevel)
	if err != nil {
		return nil, 0, err
	}
	return out, sum, nil
}

// decodeBody is the inverse of encodeBody. errCorrupt is wrapped by any
// error due to the contents of data.
func decodeBody(
	data []byte, n int, order binary.ByteOrder,
	compressed bool, sum uint64, errCorrupt error,
) ([]float64, error) {
	raw := data
	if compressed {
		var err error
		raw, err = zstd.Decompress(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: decompression failed: %s",
				errCorrupt, err)
		}
	}

	if len(raw) != 8*n {
		return nil, fmt.Errorf("%w: body holds %d bytes, expected %d",
			errCorrupt, len(raw), 8*n)
	}
	if got := checksum(raw); got != sum {
		return nil, fmt.Errorf("%w: checksum %016x, expected %016x",
			errCorrupt, got, sum)
	}

	cells := make([]float64, n)
	if err := binary.Read(bytes.NewReader(raw), order, cells); err != nil {
		return nil, fmt.Errorf("%w: %s", errCorrupt, err)
	}
	return cells, nil
}

func checksum(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// writeAtomic writes a file through write to a temporary path and renames it
// into place, so readers never see a partially written file.
func writeAtomic(path string, write func(w io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIOFailure, err)
	}

	wr := bufio.NewWriter(f)
	err = write(wr)
	if err == nil {
		err = wr.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}

	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: writing %s: %s", ErrIOFailure, path, err)
	}
	return nil
}

// byteOrder detects the byte order of a file from a word which is magic when
// read in the correct order.
func byteOrder(word []byte, magic uint32) (binary.ByteOrder, bool) {
	switch {
	case binary.LittleEndian.Uint32(word) == magic:
		return binary.LittleEndian, true
	case binary.BigEndian.Uint32(word) == magic:
		return binary.BigEndian, true
	}
	return nil, false
}
