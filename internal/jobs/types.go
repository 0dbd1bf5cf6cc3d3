// Package jobs defines the asynq task types shared by the API and worker.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskIngestCollection = "ingest:collection"

// QueueIngest is the queue ingestion tasks run on; it outranks default work.
const QueueIngest = "ingest"

// ProgressChannel is the Redis pub/sub channel the worker publishes
// ingestion events to, keyed by job id.
func ProgressChannel(jobID string) string {
	return "ingest:progress:" + jobID
}

// IngestPayload is the ingest:collection task body.
type IngestPayload struct {
	JobID      string `json:"job_id"`
	Collection string `json:"collection"`
	Model      string `json:"model"`
	ChunkSize  int    `json:"chunk_size"`
	Force      bool   `json:"force,omitempty"`
}

// NewIngestTask builds the asynq task for one ingestion run.
func NewIngestTask(p IngestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngestCollection, data), nil
}
