// Package events defines the ingestion-progress wire contract consumed by
// the dashboard's event stream. The stream producer lives outside this
// service; these named events and payload shapes are the compatibility
// surface the worker must keep emitting.
package events

import (
	"encoding/json"
	"time"
)

// Named events on the ingestion progress stream.
const (
	Connected = "connected"
	History   = "history"
	JobStatus = "job-status"
	Start     = "start"
	Progress  = "progress"
	Log       = "log"
	Complete  = "complete"
	Error     = "error"
	Cancelled = "cancelled"
)

// Envelope wraps one event with its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StartPayload announces a new ingestion run.
type StartPayload struct {
	JobID      string    `json:"job_id"`
	Collection string    `json:"collection"`
	Model      string    `json:"model"`
	ChunkSize  int       `json:"chunk_size"`
	StartedAt  time.Time `json:"started_at"`
}

// ProgressPayload reports incremental ingestion progress.
type ProgressPayload struct {
	JobID      string  `json:"job_id"`
	Collection string  `json:"collection"`
	Stage      string  `json:"stage"`
	Percent    float64 `json:"percent"`
}

// LogPayload carries one worker log line to the stream.
type LogPayload struct {
	JobID   string `json:"job_id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// CompletePayload closes out a successful run.
type CompletePayload struct {
	JobID      string        `json:"job_id"`
	Collection string        `json:"collection"`
	Documents  int           `json:"documents"`
	Duration   time.Duration `json:"duration_ms"`
}

// ErrorPayload closes out a failed run.
type ErrorPayload struct {
	JobID      string `json:"job_id"`
	Collection string `json:"collection"`
	Message    string `json:"message"`
}

// StatusPayload is the job-status event body.
type StatusPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"` // queued, running, complete, error, cancelled
}

// Marshal builds an envelope around a payload. Marshal errors cannot happen
// for the payload types above, so the envelope is returned by value.
func Marshal(event string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: data}
}
