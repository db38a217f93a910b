package interfaces

// IdAllocator issues unique, monotonically increasing IDs for Jobs,
// OptimizingJobs and client connections. Implemented by
// internal/idalloc.
type IdAllocator interface {
	NextJobID() (string, error)
	NextOptimizingJobID() (string, error)
	NextClientID() (string, error)
}
