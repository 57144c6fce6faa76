package api

import (
	"murmur/internal/jobs"
	"murmur/internal/scheduler"
)

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Job *jobs.Job `json:"job"`
}

type listResponse struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Total int         `json:"total"`
}

type statusResponse struct {
	Job          *jobs.Job      `json:"job"`
	Progress     *jobs.Progress `json:"progress,omitempty"`
	LanguageName string         `json:"language_name,omitempty"`
}

type resultResponse struct {
	*jobs.Result
	LanguageName string `json:"language_name,omitempty"`
}

type queueResponse struct {
	Queue scheduler.Stats `json:"queue"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
