//go:build !mpi
// +build !mpi

package group

// MPIEnabled is true in builds with the mpi tag.
const MPIEnabled = false

// Init returns ErrNoMPI.
func Init() error { return ErrNoMPI }

// Finalize returns ErrNoMPI.
func Finalize() error { return ErrNoMPI }

// MPI returns ErrNoMPI.
func MPI() (Group, error) { return nil, ErrNoMPI }
