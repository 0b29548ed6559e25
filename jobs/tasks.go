package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRetireSweep retires drained batches that online operations missed.
	TaskRetireSweep = "ledger:retire_sweep"
	// TaskConversionWarmup pre-fills the redis conversion cache.
	TaskConversionWarmup = "conversions:warmup"
)

// RetireSweepPayload carries scheduling metadata.
type RetireSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewRetireSweepTask constructs an Asynq task for the retirement sweep.
func NewRetireSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(RetireSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetireSweep, body, asynq.Queue(QueueDefault)), nil
}

// ConversionWarmupPayload carries scheduling metadata.
type ConversionWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewConversionWarmupTask constructs an Asynq task for cache warmup.
func NewConversionWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ConversionWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConversionWarmup, body, asynq.Queue(QueueDefault)), nil
}
