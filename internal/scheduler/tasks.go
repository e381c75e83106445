// Package scheduler provides the asynq-backed retry queue for Segment
// forwarding. The write path enqueues; a worker drains.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskLeadForwardRetry = "leads.forward.retry"

type LeadForwardRetryPayload struct {
	LeadID string `json:"leadId"`
}

func NewLeadForwardRetryTask(payload LeadForwardRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadForwardRetry, data), nil
}

func ParseLeadForwardRetryPayload(task *asynq.Task) (LeadForwardRetryPayload, error) {
	var payload LeadForwardRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadForwardRetryPayload{}, err
	}
	return payload, nil
}
