package io

import (
	"encoding/binary"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gcfg.v1"

	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/density"
	"github.com/flaresimulations/zoom-region-selection/snapio"
)

var cube10 = decomp.Volume{Extent: [3]float64{10, 10, 10}}

func testGrid(t *testing.T, rank int) (*decomp.Slab, *density.LocalGrid) {
	slab, err := decomp.Decompose(cube10, 2, 2, 1, rank, decomp.AxisLongest)
	require.NoError(t, err)
	ps := []snapio.Particle{
		{Pos: [3]float64{5, 1, 1}, Mass: 3},
		{Pos: [3]float64{7, 9, 3}, Mass: 0.5},
		{Pos: [3]float64{0, 0, 0}, Mass: 1.25},
	}
	return slab, density.Deposit(ps, slab)
}

func TestPartialPath(t *testing.T) {
	table := []struct {
		output string
		rank   int
		path   string
	}{
		{"out/grid.gtet", 0, "out/grid.part0000"},
		{"out/grid.gtet", 12, "out/grid.part0012"},
		{"grid", 3, "grid.part0003"},
		{"/a/b.c/grid.hdf5", 1, "/a/b.c/grid.part0001"},
	}
	for i, test := range table {
		if path := PartialPath(test.output, test.rank); path != test.path {
			t.Errorf("%d) Expected %s, got %s.", i+1, test.path, path)
		}
	}

	paths := PartialPaths("grid.gtet", 3)
	assert.Equal(t, []string{
		"grid.part0000", "grid.part0001", "grid.part0002",
	}, paths)
}

func TestPartialRoundTrip(t *testing.T) {
	dir := t.TempDir()

	table := []struct {
		rank     int
		compress bool
		order    binary.ByteOrder
	}{
		{0, false, binary.LittleEndian},
		{1, false, binary.LittleEndian},
		{0, true, binary.LittleEndian},
		{1, true, binary.BigEndian},
		{0, false, binary.BigEndian},
	}

	for i, test := range table {
		slab, g := testGrid(t, test.rank)
		path := filepath.Join(dir, "grid.part")
		err := writePartial(path, g, slab, test.compress, test.order)
		require.NoError(t, err, "%d)", i+1)

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err), "%d) temp file left behind", i+1)

		p, err := ReadPartial(path)
		require.NoError(t, err, "%d)", i+1)
		assert.Equal(t, g.Cells, p.Cells, "%d)", i+1)
		assert.Equal(t, int64(test.rank), p.Header.Rank, "%d)", i+1)
		assert.Equal(t, slab.Owned, p.Header.OwnedRange(), "%d)", i+1)
		assert.Equal(t, slab.Padded, p.Header.PaddedRange(), "%d)", i+1)
		assert.Equal(t, slab.PaddedBox(), p.Header.PaddedBox(), "%d)", i+1)
		assert.Equal(t, slab.OwnedBox(), p.Header.OwnedBox(), "%d)", i+1)
		assert.Equal(t, cube10, p.Header.Volume(), "%d)", i+1)
		assert.Equal(t, test.compress, p.Header.Compressed != 0, "%d)", i+1)
	}
}

func TestPartialScenario(t *testing.T) {
	dir := t.TempDir()
	slab, g := testGrid(t, 0)
	path := PartialPath(filepath.Join(dir, "grid.gtet"), slab.Rank)
	require.NoError(t, WritePartial(path, g, slab, false))

	p, err := ReadPartial(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Cells[2])
	assert.Equal(t, 3.0, p.Cells[p.Grid().Idx(2, 0, 0)])
	assert.Equal(t, []int64{4 * 5 * 5, 8 * 4 * 5 * 5},
		[]int64{p.Header.Cells, p.Header.BodyBytes})
}

func TestReadPartialMissing(t *testing.T) {
	_, err := ReadPartial(filepath.Join(t.TempDir(), "nothing.part0000"))
	assert.True(t, errors.Is(err, ErrPartialFileMissing))
}

func TestReadPartialCorrupt(t *testing.T) {
	dir := t.TempDir()
	slab, g := testGrid(t, 1)
	good := filepath.Join(dir, "good")
	require.NoError(t, WritePartial(good, g, slab, false))
	data, err := ioutil.ReadFile(good)
	require.NoError(t, err)

	goodZ := filepath.Join(dir, "goodZ")
	require.NoError(t, WritePartial(goodZ, g, slab, true))
	dataZ, err := ioutil.ReadFile(goodZ)
	require.NoError(t, err)

	hdSize := 8 + binary.Size(&PartialHeader{})
	modify := func(src []byte, fn func(b []byte) []byte) []byte {
		b := make([]byte, len(src))
		copy(b, src)
		return fn(b)
	}

	table := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"magic", modify(data, func(b []byte) []byte { b[0] ^= 0xff; return b })},
		{"version", modify(data, func(b []byte) []byte { b[4] = 9; return b })},
		{"header", data[:20]},
		{"truncated", data[:len(data)-8]},
		{"trailing", append(modify(data, func(b []byte) []byte { return b }),
			0, 0, 0, 0)},
		{"checksum", modify(data, func(b []byte) []byte {
			b[hdSize+16] ^= 0x01
			return b
		})},
		{"rank", modify(data, func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[8:], 7)
			return b
		})},
		{"compressed", modify(dataZ, func(b []byte) []byte {
			for i := hdSize; i < len(b); i++ {
				b[i] = 0xab
			}
			return b
		})},
	}

	for i, test := range table {
		path := filepath.Join(dir, test.name)
		require.NoError(t, ioutil.WriteFile(path, test.data, 0644))
		_, err := ReadPartial(path)
		if !errors.Is(err, ErrPartialFileCorrupt) {
			t.Errorf("%d) %s: expected ErrPartialFileCorrupt, got %v.",
				i+1, test.name, err)
		}
	}
}

func TestWritePartialMismatch(t *testing.T) {
	slab, _ := testGrid(t, 0)
	_, g := testGrid(t, 1)
	err := WritePartial(filepath.Join(t.TempDir(), "p"), g, slab, false)
	assert.Error(t, err)
}

func TestGridRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spec, err := decomp.NewGridSpec(
		decomp.Volume{[3]float64{-1, 0, 2}, [3]float64{6, 4, 2}}, 1,
	)
	require.NoError(t, err)

	cells := make([]float64, spec.Cells())
	for i := range cells {
		cells[i] = float64(i % 7)
	}

	for _, compress := range []bool{false, true} {
		path := filepath.Join(dir, "grid.gtet")
		hd := &GridHeader{Loc: NewLocationInfo(spec)}
		hd.Mass = MassInfo{TotalMass: 12, Workers: 3, PadCells: 2, Axis: 0}
		require.NoError(t, WriteGrid(path, hd, cells, compress))

		hd2, err := ReadGridHeader(path)
		require.NoError(t, err)
		assert.Equal(t, hd, hd2)
		assert.Equal(t, spec.Dims, hd2.Spec().Dims)
		assert.Equal(t, spec.Origin, hd2.Spec().Origin)

		hd3, cells2, err := ReadGrid(path)
		require.NoError(t, err)
		assert.Equal(t, hd, hd3)
		assert.Equal(t, cells, cells2)
	}

	hd := &GridHeader{Loc: NewLocationInfo(spec)}
	assert.Error(t, WriteGrid(filepath.Join(dir, "bad"), hd, cells[1:], false))
	_, err = os.Stat(filepath.Join(dir, "bad"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadGridCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.gtet")
	require.NoError(t, ioutil.WriteFile(path, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0644))
	_, _, err := ReadGrid(path)
	assert.True(t, errors.Is(err, ErrGridFileCorrupt))

	_, err = ReadGridHeader(filepath.Join(dir, "missing.gtet"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadGridSize(t *testing.T) {
	dir := t.TempDir()
	spec, err := decomp.NewGridSpec(decomp.Volume{Extent: [3]float64{2, 3, 4}}, 1)
	require.NoError(t, err)
	cells := make([]float64, spec.Cells())
	path := filepath.Join(dir, "grid.gtet")
	hd := &GridHeader{Loc: NewLocationInfo(spec)}
	require.NoError(t, WriteGrid(path, hd, cells, false))
	b, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	// BodyBytes follows the Endianness, HeaderSize, GridType and
	// Compressed fields.
	huge := append([]byte{}, b...)
	binary.LittleEndian.PutUint64(huge[32:], 1<<40)

	table := []struct {
		name string
		data []byte
	}{
		{"body bytes", huge},
		{"truncated", b[:len(b)-8]},
		{"trailing", append(append([]byte{}, b...), 0)},
	}

	for i, test := range table {
		bad := filepath.Join(dir, test.name)
		require.NoError(t, ioutil.WriteFile(bad, test.data, 0644))
		_, _, err := ReadGrid(bad)
		if !errors.Is(err, ErrGridFileCorrupt) {
			t.Errorf("%d) %s: expected ErrGridFileCorrupt, got %v.",
				i+1, test.name, err)
		}
	}
}

func TestExampleGridFile(t *testing.T) {
	wrap := DefaultGridWrapper()
	require.NoError(t, gcfg.ReadStringInto(wrap, ExampleGridFile))
	con := &wrap.Grid

	assert.NoError(t, con.Check())
	assert.Equal(t, 2.0, con.CellWidth)
	assert.Equal(t, 5, con.PadCells)
	assert.False(t, con.DeleteDistributed)
	assert.Equal(t, "Longest", con.Axis)
	_, ok := con.Volume()
	assert.False(t, ok)
}

func TestGridConfigCheck(t *testing.T) {
	table := []struct {
		text  string
		valid bool
	}{
		{"[Grid]\nInput = a\nOutput = b\n", true},
		{"[Grid]\nOutput = b\n", false},
		{"[Grid]\nInput = a\n", false},
		{"[Grid]\nInput = a\nOutput = b\nCellWidth = 0\n", false},
		{"[Grid]\nInput = a\nOutput = b\nPadCells = -1\n", false},
		{"[Grid]\nInput = a\nOutput = b\nAxis = W\n", false},
		{"[Grid]\nInput = a\nOutput = b\nAxis = z\n", true},
		{"[Grid]\nInput = a\nOutput = b\nInputFormat = HDF5\n", false},
		{"[Grid]\nInput = a\nOutput = b\nInputFormat = Text\n" +
			"MassColumn = -1\nParticleMass = 0\n", false},
		{"[Grid]\nInput = a\nOutput = b\nThreads = 0\n", false},
		{"[Grid]\nInput = a\nOutput = b\nXWidth = 10\n", false},
		{"[Grid]\nInput = a\nOutput = b\nDeleteDistributed = true\n" +
			"X = -5\nXWidth = 10\nYWidth = 10\nZWidth = 10\n", true},
	}

	for i, test := range table {
		wrap := DefaultGridWrapper()
		if err := gcfg.ReadStringInto(wrap, test.text); err != nil {
			t.Errorf("%d) Could not parse config: %s", i+1, err)
			continue
		}
		err := wrap.Grid.Check()
		if test.valid && err != nil {
			t.Errorf("%d) Unexpected error: %s", i+1, err)
		} else if !test.valid && !errors.Is(err, decomp.ErrInvalidConfiguration) {
			t.Errorf("%d) Expected ErrInvalidConfiguration, got %v.", i+1, err)
		}
	}

	wrap := DefaultGridWrapper()
	require.NoError(t, gcfg.ReadStringInto(wrap, table[len(table)-1].text))
	vol, ok := wrap.Grid.Volume()
	assert.True(t, ok)
	assert.Equal(t, [3]float64{-5, 0, 0}, vol.Origin)
	assert.True(t, wrap.Grid.DeleteDistributed)
}

func TestReadGridConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.config")
	text := "[Grid]\nInput = snap\nOutput = grid.gtet\nCellWidth = 0.5\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(text), 0644))

	con, err := ReadGridConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, con.CellWidth)
	assert.Equal(t, 5, con.PadCells)
	assert.Equal(t, 1, con.Threads)
}
