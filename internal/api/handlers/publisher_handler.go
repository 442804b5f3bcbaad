package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/postpilotapp/postpilot/internal/publisher"
	"github.com/postpilotapp/postpilot/internal/queue"
)

// PublisherHandler exposes the publish sweep for manual triggering, useful
// when a run should not wait for the next cron tick.
type PublisherHandler struct {
	processor   *publisher.Processor
	asynqClient *asynq.Client
}

func NewPublisherHandler(processor *publisher.Processor, asynqClient *asynq.Client) *PublisherHandler {
	return &PublisherHandler{processor: processor, asynqClient: asynqClient}
}

// RunNow executes one sweep inline and returns the summary.
func (h *PublisherHandler) RunNow(c *fiber.Ctx) error {
	summary, err := h.processor.Run(c.Context())
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "publish run failed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}

// Enqueue queues a sweep on the worker instead of running it inline.
func (h *PublisherHandler) Enqueue(c *fiber.Ctx) error {
	if err := queue.EnqueueRun(h.asynqClient); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error scheduling publish run",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Publish run enqueued",
	})
}
