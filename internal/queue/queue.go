package queue

import (
	"github.com/postpilotapp/postpilot/internal/publisher"
)

const TaskTypePublishRun = "publisher:run"

type Queue struct {
	processor *publisher.Processor
}

func NewQueue(processor *publisher.Processor) *Queue {
	return &Queue{processor: processor}
}
