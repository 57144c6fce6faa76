// Package pipeline runs one job through its processing stages: transcription,
// speaker attribution, and summarization.
//
// Transcription is load-bearing: if it fails the job fails. The two later
// stages are best-effort: a missing credential skips them, and a runtime
// failure is recorded in progress and the job still completes with whatever
// artifacts exist.
package pipeline
