package queue

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
)

// HandlePublishRunTask executes one processor sweep. The summary is logged;
// per-post outcomes are already persisted on the post rows.
func (q *Queue) HandlePublishRunTask(ctx context.Context, task *asynq.Task) error {
	summary, err := q.processor.Run(ctx)
	if err != nil {
		return err
	}

	for _, message := range summary.Errors {
		log.Printf("publish error: %s", message)
	}

	return nil
}
