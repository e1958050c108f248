// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import "time"

// Status is the job status vocabulary reported by the service. It mirrors
// what managed cloud transcoders report so the lifecycle normalizes both
// the same way.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusProgressing Status = "PROGRESSING"
	StatusComplete    Status = "COMPLETE"
	StatusError       Status = "ERROR"
	StatusCanceled    Status = "CANCELED"
)

// Active reports whether the job may still produce output.
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusProgressing
}

// Job is one persisted transcode request.
type Job struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	InputPath    string    `json:"input_path"`
	OutputPrefix string    `json:"output_prefix"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OutTimeUs    int64     `json:"out_time_us,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
