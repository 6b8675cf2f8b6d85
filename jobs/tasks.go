package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeExpiryScan is the task type for the batch expiry sweep.
	TaskTypeExpiryScan = "ledger:expiry_scan"
)

// ExpiryScanPayload narrows the sweep to specific storage locations. An empty
// list means every active location.
type ExpiryScanPayload struct {
	LocationIDs []int64 `json:"location_ids,omitempty"`
}

// NewExpiryScanTask constructs an Asynq task for the expiry sweep.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExpiryScan, data), nil
}
