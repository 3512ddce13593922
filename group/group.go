/*package group provides the fixed set of cooperating workers a grid is built
by.

Every worker runs the same code and learns its identity through Rank and
Size. Workers synchronize only through Barrier.
*/
package group

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBarrierBroken is returned from Barrier when another worker of the
	// group failed before reaching it.
	ErrBarrierBroken = errors.New("barrier broken")
	// ErrNoMPI is returned by Init in builds without the mpi tag.
	ErrNoMPI = errors.New("built without MPI support, rebuild with -tags mpi")
)

// Group is a fixed set of workers.
type Group interface {
	// Rank is the index of the calling worker in [0, Size).
	Rank() int
	Size() int
	// Barrier blocks until every worker in the group has called it.
	Barrier() error
}

type single struct{}

func (single) Rank() int      { return 0 }
func (single) Size() int      { return 1 }
func (single) Barrier() error { return nil }

// Single returns a group containing only the caller.
func Single() Group { return single{} }

// barrier is a reusable barrier which can be broken by a failing worker.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	size       int
	waiting    int
	generation int
	cause      error
}

func newBarrier(size int) *barrier {
	b := &barrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cause != nil {
		return fmt.Errorf("%w: %s", ErrBarrierBroken, b.cause)
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.size {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}

	for gen == b.generation && b.cause == nil {
		b.cond.Wait()
	}
	if gen == b.generation {
		return fmt.Errorf("%w: %s", ErrBarrierBroken, b.cause)
	}
	return nil
}

// breakWith breaks the barrier. Only the first cause is kept.
func (b *barrier) breakWith(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cause == nil {
		b.cause = cause
		b.cond.Broadcast()
	}
}

func (b *barrier) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}

type local struct {
	rank, size int
	b          *barrier
}

func (l *local) Rank() int      { return l.rank }
func (l *local) Size() int      { return l.size }
func (l *local) Barrier() error { return l.b.wait() }

// RunLocal runs fn in size goroutines, each with its own rank in a shared
// group. If a worker fails, the barrier is broken so no worker waits forever,
// and the first failure is returned.
func RunLocal(size int, fn func(g Group) error) error {
	if size < 1 {
		return fmt.Errorf("group needs at least one worker, got %d", size)
	}

	b := newBarrier(size)
	eg := &errgroup.Group{}
	for rank := 0; rank < size; rank++ {
		l := &local{rank: rank, size: size, b: b}
		eg.Go(func() error {
			err := fn(l)
			if err != nil {
				err = fmt.Errorf("worker %d: %w", l.rank, err)
				b.breakWith(err)
			}
			return err
		})
	}

	err := eg.Wait()
	if cause := b.err(); cause != nil {
		return cause
	}
	return err
}
