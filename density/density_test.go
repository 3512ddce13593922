package density

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/flaresimulations/zoom-region-selection/decomp"
	"github.com/flaresimulations/zoom-region-selection/snapio"
)

var cube10 = decomp.Volume{Extent: [3]float64{10, 10, 10}}

func slabs(t testing.TB, workers, pad int) []*decomp.Slab {
	ss, err := decomp.DecomposeAll(cube10, 2, workers, pad, decomp.AxisLongest)
	require.NoError(t, err)
	return ss
}

func randomParticles(n int, seed int64) []snapio.Particle {
	gen := rand.New(rand.NewSource(seed))
	ps := make([]snapio.Particle, n)
	for i := range ps {
		for k := 0; k < 3; k++ {
			ps[i].Pos[k] = gen.Float64() * 10
		}
		ps[i].Mass = gen.Float64() + 0.5
	}
	return ps
}

func TestDepositScenario(t *testing.T) {
	ss := slabs(t, 2, 1)
	ps := []snapio.Particle{{Pos: [3]float64{5, 1, 1}, Mass: 3}}

	g0 := Deposit(ps, ss[0])
	assert.Equal(t, [3]int{4, 5, 5}, g0.Width)
	assert.Equal(t, 3.0, g0.Cells[2])
	assert.Equal(t, 3.0, g0.At(2, 0, 0))
	assert.Equal(t, 3.0, g0.Mass())
	assert.Equal(t, 3.0, g0.OwnedMass())

	// Rank 1 has the same cell in its padding.
	g1 := Deposit(ps, ss[1])
	assert.Equal(t, 3.0, g1.At(2, 0, 0))
	assert.Equal(t, 0.0, g1.OwnedMass())
}

func TestDepositBoundary(t *testing.T) {
	ss := slabs(t, 2, 1)
	// x = 6 is the first coordinate of cell 3, the first cell owned by rank 1.
	ps := []snapio.Particle{{Pos: [3]float64{6, 1, 1}, Mass: 2}}

	g0 := Deposit(ps, ss[0])
	g1 := Deposit(ps, ss[1])
	assert.Equal(t, 2.0, g0.At(3, 0, 0))
	assert.Equal(t, 0.0, g0.OwnedMass())
	assert.Equal(t, 2.0, g1.At(3, 0, 0))
	assert.Equal(t, 2.0, g1.OwnedMass())
}

func TestDepositSkips(t *testing.T) {
	ss := slabs(t, 2, 1)
	ps := []snapio.Particle{
		{Pos: [3]float64{1, 1, 1}, Mass: 1},
		{Pos: [3]float64{9, 9, 9}, Mass: 1},
		{Pos: [3]float64{10, 1, 1}, Mass: 1},
		{Pos: [3]float64{-1, 1, 1}, Mass: 1},
		{Pos: [3]float64{1, math.NaN(), 1}, Mass: 1},
		{Pos: [3]float64{1, 1, 1}, Mass: 0},
		{Pos: [3]float64{1, 1, 1}, Mass: -1},
		{Pos: [3]float64{1, 1, 1}, Mass: math.Inf(1)},
		{Pos: [3]float64{1, 1, 1}, Mass: math.NaN()},
	}

	g, st := DepositParallel(ps, ss[0], 1)
	assert.Equal(t, 1, st.Deposited)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 3, st.OutsideVolume)
	assert.Equal(t, 4, st.BadMass)
	assert.Equal(t, 1.0, st.DepositedMass)
	assert.Equal(t, 1.0, g.Mass())
}

func TestDepositEmptyCells(t *testing.T) {
	ss := slabs(t, 1, 0)
	ps := []snapio.Particle{
		{Pos: [3]float64{1, 1, 1}, Mass: 1},
		{Pos: [3]float64{1.5, 1.5, 1.5}, Mass: 1},
		{Pos: [3]float64{7, 3, 9}, Mass: 0.25},
	}
	g := Deposit(ps, ss[0])

	nonzero := 0
	for _, m := range g.Cells {
		if m != 0 {
			nonzero++
		}
	}
	assert.Equal(t, 2, nonzero)
	assert.Equal(t, 2.0, g.At(0, 0, 0))
	assert.Equal(t, 0.25, g.At(3, 1, 4))
}

func TestDepositMassConservation(t *testing.T) {
	ps := randomParticles(10000, 1)
	total := 0.0
	for i := range ps {
		total += ps[i].Mass
	}

	for workers := 1; workers <= 6; workers++ {
		sum := 0.0
		for _, s := range slabs(t, workers, 2) {
			sum += Deposit(ps, s).OwnedMass()
		}
		if !scalar.EqualWithinAbsOrRel(sum, total, 1e-9, 1e-12) {
			t.Errorf("%d workers: owned mass %.15g, expected %.15g.",
				workers, sum, total)
		}
	}
}

func TestDepositParallel(t *testing.T) {
	ps := randomParticles(5000, 2)
	s := slabs(t, 3, 1)[1]
	serial := Deposit(ps, s)

	for _, threads := range []int{1, 2, 3, 7, 16} {
		g1, st1 := DepositParallel(ps, s, threads)
		g2, _ := DepositParallel(ps, s, threads)

		assert.Equal(t, g1.Cells, g2.Cells, "%d threads", threads)
		if !floats.EqualApprox(serial.Cells, g1.Cells, 1e-12) {
			t.Errorf("%d threads: grid differs from serial deposition.",
				threads)
		}
		assert.Equal(t, len(ps), st1.Deposited+st1.Skipped, "%d threads",
			threads)
	}
}

func TestDepositOrder(t *testing.T) {
	ps := randomParticles(5000, 4)
	gen := rand.New(rand.NewSource(5))

	for _, s := range slabs(t, 3, 1) {
		ref := Deposit(ps, s)
		for trial := 0; trial < 3; trial++ {
			shuffled := append([]snapio.Particle{}, ps...)
			gen.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			g := Deposit(shuffled, s)
			if !floats.EqualApprox(ref.Cells, g.Cells, 1e-12) {
				t.Errorf("rank %d, trial %d: shuffled deposition differs.",
					s.Rank, trial)
			}
			gp, _ := DepositParallel(shuffled, s, 4)
			if !floats.EqualApprox(ref.Cells, gp.Cells, 1e-12) {
				t.Errorf("rank %d, trial %d: shuffled parallel deposition "+
					"differs.", s.Rank, trial)
			}
		}
	}
}

func TestDepositorBlocks(t *testing.T) {
	ps := randomParticles(1000, 3)
	s := slabs(t, 2, 1)[0]
	whole := Deposit(ps, s)

	d := NewDepositor(s, 1)
	for lo := 0; lo < len(ps); lo += 64 {
		hi := lo + 64
		if hi > len(ps) {
			hi = len(ps)
		}
		d.Add(ps[lo:hi])
	}
	g, st := d.Finish()
	assert.Equal(t, whole.Cells, g.Cells)
	assert.Equal(t, whole.Mass(), st.DepositedMass)
}

func BenchmarkNGP(b *testing.B) {
	ps := randomParticles(100000, 4)
	s := slabs(b, 1, 0)[0]
	d := NewDepositor(s, 1)

	b.ResetTimer()
	for i := 0; i < (b.N/len(ps))+1; i++ {
		d.Add(ps)
	}
}

func BenchmarkNGPParallel(b *testing.B) {
	ps := randomParticles(100000, 4)
	s := slabs(b, 1, 0)[0]
	d := NewDepositor(s, 4)

	b.ResetTimer()
	for i := 0; i < (b.N/len(ps))+1; i++ {
		d.Add(ps)
	}
}
