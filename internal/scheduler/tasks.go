package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"power-dialer/internal/disposition"
)

const TaskCallbackMissedCheck = "callbacks.missed_check"

const TaskAutoText = "texts.auto_send"

const TaskCallbackMissedSweep = "callbacks.missed_sweep"

type CallbackMissedCheckPayload struct {
	CallbackID string `json:"callback_id"`
}

type AutoTextPayload = disposition.AutoTextJob

func NewCallbackMissedCheckTask(payload CallbackMissedCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallbackMissedCheck, data), nil
}

func ParseCallbackMissedCheckPayload(task *asynq.Task) (CallbackMissedCheckPayload, error) {
	var payload CallbackMissedCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CallbackMissedCheckPayload{}, err
	}
	return payload, nil
}

func NewAutoTextTask(payload AutoTextPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutoText, data), nil
}

func ParseAutoTextPayload(task *asynq.Task) (AutoTextPayload, error) {
	var payload AutoTextPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AutoTextPayload{}, err
	}
	return payload, nil
}

func NewCallbackMissedSweepTask() *asynq.Task {
	return asynq.NewTask(TaskCallbackMissedSweep, nil)
}
