package jobs

import "errors"

var (
	// ErrNotFound is returned when an operation references a job that does
	// not exist.
	ErrNotFound = errors.New("job not found")
	// ErrJobFailed is returned when a stage write targets a job that has
	// already failed. Failure is terminal; late writers must not resurrect
	// the job.
	ErrJobFailed = errors.New("job already failed")
)
