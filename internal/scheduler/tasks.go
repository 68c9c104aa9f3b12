package scheduler

import (
	"encoding/json"

	"lead_rating_engine/internal/rating/ports"

	"github.com/hibiken/asynq"
)

const TaskBatchRecalculate = "rating.batch_recalculate"

const TaskHistoryPurge = "rating.history.purge"

const TaskCacheWarmup = "rating.cache.warmup"

type BatchRecalculatePayload struct {
	Condition  ports.LeadCondition `json:"condition"`
	Reason     string              `json:"reason,omitempty"`
	OperatorID string              `json:"operatorId,omitempty"`
}

type HistoryPurgePayload struct {
	// RetentionDays overrides the worker's configured retention when positive.
	RetentionDays int `json:"retentionDays,omitempty"`
}

type CacheWarmupPayload struct {
	LeadIDs []string `json:"leadIds"`
}

func NewBatchRecalculateTask(payload BatchRecalculatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchRecalculate, data), nil
}

func ParseBatchRecalculatePayload(task *asynq.Task) (BatchRecalculatePayload, error) {
	var payload BatchRecalculatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BatchRecalculatePayload{}, err
	}
	return payload, nil
}

func NewHistoryPurgeTask(payload HistoryPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHistoryPurge, data), nil
}

func ParseHistoryPurgePayload(task *asynq.Task) (HistoryPurgePayload, error) {
	var payload HistoryPurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return HistoryPurgePayload{}, err
	}
	return payload, nil
}

func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

func ParseCacheWarmupPayload(task *asynq.Task) (CacheWarmupPayload, error) {
	var payload CacheWarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CacheWarmupPayload{}, err
	}
	return payload, nil
}
