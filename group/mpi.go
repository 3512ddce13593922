//go:build mpi
// +build mpi

package group

// NOTE: Use
// $ mpicc --showme:compile
// $ mpicc --showme:link
// To figure out CFLAGS and LDFLAGS, respectively

/*
#cgo LDFLAGS: -pthread -L/usr/lib/x86_64-linux-gnu/openmpi/lib -lmpi
#cgo CFLAGS: -std=gnu99 -Wall -I/usr/lib/x86_64-linux-gnu/openmpi/include/openmpi -I/usr/lib/x86_64-linux-gnu/openmpi/include -pthread
#include <mpi.h>

MPI_Comm get_MPI_COMM_WORLD() {
    return (MPI_Comm)(MPI_COMM_WORLD);
}
*/
import "C"

import (
	"fmt"
)

// MPIEnabled is true in builds with the mpi tag.
const MPIEnabled = true

type world struct {
	comm       C.MPI_Comm
	rank, size int
}

func (w *world) Rank() int { return w.rank }
func (w *world) Size() int { return w.size }

func (w *world) Barrier() error {
	return processError(C.MPI_Barrier(w.comm))
}

// Init initializes MPI and must be called before MPI.
func Init() error {
	return processError(C.MPI_Init(nil, nil))
}

// Finalize shuts down MPI.
func Finalize() error {
	return processError(C.MPI_Finalize())
}

// MPI returns the group of every process in MPI_COMM_WORLD.
func MPI() (Group, error) {
	w := &world{comm: C.get_MPI_COMM_WORLD()}

	n := C.int(-1)
	if err := processError(C.MPI_Comm_size(w.comm, &n)); err != nil {
		return nil, err
	}
	w.size = int(n)
	if err := processError(C.MPI_Comm_rank(w.comm, &n)); err != nil {
		return nil, err
	}
	w.rank = int(n)

	return w, nil
}

func processError(err C.int) error {
	if err == 0 {
		return nil
	}

	buf := make([]C.char, C.MPI_MAX_ERROR_STRING)
	n := C.int(0)
	C.MPI_Error_string(err, &buf[0], &n)
	return fmt.Errorf("MPI error: %s", C.GoString(&buf[0]))
}
