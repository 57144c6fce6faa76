// Package jobs owns durable persistence for transcription jobs: the job
// record, per-stage artifacts, and the status derivation that makes state
// recoverable after a crash.
//
// The Store interface is the only path to persisted state; the pipeline and
// scheduler never touch the backing database or job directories directly.
// Status is never trusted from a cached column alone: ListJobs recomputes it
// from which artifacts exist plus the job's options, healing any job whose
// worker died without a final write.
package jobs
