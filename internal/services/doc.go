// Package services hosts shared helpers for external collaborator adapters:
// sentinel error markers with stage-aware wrapping, and context annotation
// helpers used to correlate log lines across a job's pipeline run.
package services
