package queue

import (
	"log/slog"

	"github.com/hibiken/asynq"
)

// EnqueueRun schedules one publisher sweep. Runs are cheap to enqueue; the
// worker serializes them.
func EnqueueRun(asynqClient *asynq.Client) error {
	task := asynq.NewTask(TaskTypePublishRun, nil)

	if _, err := asynqClient.Enqueue(task, asynq.MaxRetry(0)); err != nil {
		return err
	}

	slog.Info("publish run enqueued")
	return nil
}
