package snapio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresimulations/zoom-region-selection/decomp"
)

var everywhere = decomp.Region{
	Lo: [3]float64{-1e9, -1e9, -1e9}, Hi: [3]float64{1e9, 1e9, 1e9},
}

func collect(t *testing.T, src Source, region decomp.Region) []Particle {
	out := []Particle{}
	err := src.Particles(region, func(ps []Particle) error {
		out = append(out, ps...)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestMemory(t *testing.T) {
	ps := []Particle{
		{[3]float64{1, 1, 1}, 1}, {[3]float64{5, 1, 1}, 2},
		{[3]float64{9, 1, 1}, 3}, {[3]float64{3, 1, 1}, 4},
		{[3]float64{7, 1, 1}, 5},
	}
	vol := decomp.Volume{Extent: [3]float64{10, 10, 10}}
	region := decomp.Region{Lo: [3]float64{2, 0, 0}, Hi: [3]float64{8, 10, 10}}

	table := []struct {
		blockSize int
		blocks    int
	}{
		{0, 1}, {1, 5}, {2, 3}, {5, 1}, {100, 1},
	}

	for i, test := range table {
		m := NewMemory(vol, ps)
		m.BlockSize = test.blockSize

		blocks, masses := 0, []float64{}
		err := m.Particles(region, func(block []Particle) error {
			blocks++
			for _, p := range block {
				masses = append(masses, p.Mass)
			}
			return nil
		})

		if err != nil {
			t.Errorf("%d) Unexpected error: %s", i+1, err)
		}
		if blocks != test.blocks {
			t.Errorf("%d) Expected %d blocks, got %d.", i+1, test.blocks, blocks)
		}
		assert.Equal(t, []float64{2, 4, 5}, masses, "%d)", i+1)
	}

	// The source is never modified by filtering.
	assert.Equal(t, 1.0, ps[0].Mass)
	assert.Equal(t, 5.0, ps[4].Mass)
}

func TestMemoryError(t *testing.T) {
	m := NewMemory(decomp.Volume{}, make([]Particle, 10))
	m.BlockSize = 3
	stop := errors.New("stop")
	calls := 0
	err := m.Particles(everywhere, func([]Particle) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

type gadgetParticles struct {
	pos    [][3]float32
	masses []float32
}

func writeGadget(
	t *testing.T, file string, order binary.ByteOrder,
	boxSize, mass float64, gp gadgetParticles,
) {
	buf := &bytes.Buffer{}
	block := func(data interface{}) {
		size := uint32(binary.Size(data))
		require.NoError(t, binary.Write(buf, order, size))
		require.NoError(t, binary.Write(buf, order, data))
		require.NoError(t, binary.Write(buf, order, size))
	}

	n := len(gp.pos)
	hd := gadgetHeader{BoxSize: boxSize}
	hd.NPart[1], hd.NPartTotal[1] = uint32(n), uint32(n)
	hd.Mass[1] = mass
	hd.NumFiles = 1
	block(&hd)
	block(gp.pos)
	block(make([][3]float32, n))
	block(make([]uint32, n))
	if mass == 0 {
		block(gp.masses)
	}

	require.NoError(t, ioutil.WriteFile(file, buf.Bytes(), 0644))
}

func TestGadget2(t *testing.T) {
	dir := t.TempDir()
	gp := gadgetParticles{
		pos:    [][3]float32{{1, 2, 3}, {99.5, 50, -0.5}, {100, 10, 20}},
		masses: []float32{1, 2, 3},
	}

	table := []struct {
		order  binary.ByteOrder
		mass   float64
		masses []float64
	}{
		{binary.LittleEndian, 4, []float64{4, 4, 4}},
		{binary.BigEndian, 4, []float64{4, 4, 4}},
		{binary.LittleEndian, 0, []float64{1, 2, 3}},
		{binary.BigEndian, 0, []float64{1, 2, 3}},
	}

	for i, test := range table {
		file := filepath.Join(dir, "snap.0")
		writeGadget(t, file, test.order, 100, test.mass, gp)

		src, err := NewGadget2(file)
		require.NoError(t, err)
		vol, err := src.Volume()
		require.NoError(t, err)
		assert.Equal(t, [3]float64{100, 100, 100}, vol.Extent, "%d)", i+1)

		ps := collect(t, src, everywhere)
		if !assert.Len(t, ps, 3, "%d)", i+1) {
			continue
		}
		assert.Equal(t, [3]float64{1, 2, 3}, ps[0].Pos, "%d)", i+1)
		assert.Equal(t, [3]float64{99.5, 50, 99.5}, ps[1].Pos, "%d)", i+1)
		assert.Equal(t, [3]float64{0, 10, 20}, ps[2].Pos, "%d)", i+1)
		for j := range ps {
			assert.Equal(t, test.masses[j], ps[j].Mass, "%d)", i+1)
		}
	}
}

func TestGadget2MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	for i, x := range []float32{10, 60} {
		file := filepath.Join(dir, "snap."+string(rune('0'+i)))
		gp := gadgetParticles{pos: [][3]float32{{x, 1, 1}, {x + 1, 1, 1}}}
		writeGadget(t, file, binary.LittleEndian, 100, 1, gp)
	}

	files, err := ExpandInput(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	src, err := NewGadget2(files...)
	require.NoError(t, err)
	region := decomp.Region{Hi: [3]float64{50, 100, 100}}

	blocks := 0
	n := 0
	err = src.Particles(region, func(ps []Particle) error {
		blocks++
		n += len(ps)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, blocks)
	assert.Equal(t, 2, n)
}

func TestGadget2Invalid(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "junk")
	require.NoError(t, ioutil.WriteFile(file, []byte("not a snapshot"), 0644))

	src, err := NewGadget2(file)
	require.NoError(t, err)
	_, err = src.Volume()
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))

	// Truncated position block.
	gp := gadgetParticles{pos: [][3]float32{{1, 1, 1}, {2, 2, 2}}}
	writeGadget(t, file, binary.LittleEndian, 10, 1, gp)
	data, err := ioutil.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(file, data[:4+256+4+10], 0644))
	err = src.Particles(everywhere, func([]Particle) error { return nil })
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))

	_, err = NewGadget2()
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))
}

func TestText(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "catalog.txt")
	text := "1 0 2 3 5\n" +
		"2 4 6 1 7\n" +
		"3 2 4 5 1\n"
	require.NoError(t, ioutil.WriteFile(file, []byte(text), 0644))

	src := NewText(file, TextColumns{X: 1, Y: 2, Z: 3, Mass: 4}, 0)
	vol, err := src.Volume()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 2, 1}, vol.Origin)
	assert.InDelta(t, 4, vol.Extent[0], 1e-12)
	assert.InDelta(t, 4, vol.Extent[1], 1e-12)
	assert.InDelta(t, 4, vol.Extent[2], 1e-12)

	ps := collect(t, src, everywhere)
	require.Len(t, ps, 3)
	assert.Equal(t, Particle{[3]float64{4, 6, 1}, 7}, ps[1])
	for i := range ps {
		assert.True(t, vol.Contains(ps[i].Pos), "particle %d", i)
	}

	src = NewText(file, TextColumns{X: 1, Y: 2, Z: 3, Mass: -1}, 0.5)
	fixed := decomp.Volume{Extent: [3]float64{10, 10, 10}}
	src.SetVolume(fixed)
	vol, err = src.Volume()
	require.NoError(t, err)
	assert.Equal(t, fixed, vol)
	ps = collect(t, src, decomp.Region{Hi: [3]float64{3, 10, 10}})
	require.Len(t, ps, 2)
	assert.Equal(t, 0.5, ps[0].Mass)
}

func TestExpandInput(t *testing.T) {
	dir := t.TempDir()
	_, err := ExpandInput(dir)
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))

	file := filepath.Join(dir, "a")
	require.NoError(t, ioutil.WriteFile(file, nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	files, err := ExpandInput(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, files)

	files, err = ExpandInput(file)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, files)
}
