// Package jobs queues post-call processing on asynq so it survives restarts
// and runs outside the webhook response path.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskPostCall = "calls.postcall"

type PostCallPayload struct {
	ProviderCallID string `json:"providerCallId"`
}

func NewPostCallTask(payload PostCallPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostCall, data), nil
}

func ParsePostCallPayload(task *asynq.Task) (PostCallPayload, error) {
	var payload PostCallPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PostCallPayload{}, err
	}
	return payload, nil
}

// postCallTaskID dedupes redelivered terminal callbacks for the same call.
func postCallTaskID(providerCallID string) string {
	return "postcall:" + providerCallID
}
