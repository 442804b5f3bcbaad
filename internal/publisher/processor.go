package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/repository"
	"github.com/postpilotapp/postpilot/internal/service"
)

// defaultBatchLimit bounds one sweep; TikTok's poll loop alone can hold a
// post for a minute, so the worst case run duration stays finite.
const defaultBatchLimit = 100

// RunSummary is the aggregate outcome of one processing sweep.
type RunSummary struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// Processor is the run loop: find due posts, publish each with per-post
// isolation, persist the terminal status, report the aggregate. Posts are
// handled sequentially; platform APIs rate-limit per user and a bounded
// sweep beats an unbounded fan-out.
type Processor struct {
	posts       repository.PostRepository
	connections repository.ConnectionRepository
	dispatcher  *Dispatcher
	limit       int
	now         func() time.Time
}

func NewProcessor(posts repository.PostRepository, connections repository.ConnectionRepository, dispatcher *Dispatcher) *Processor {
	return &Processor{
		posts:       posts,
		connections: connections,
		dispatcher:  dispatcher,
		limit:       defaultBatchLimit,
		now:         time.Now,
	}
}

// Run processes every due scheduled post once. A failure on one post never
// stops the sweep, and every fetched post receives exactly one terminal
// status write. Failed posts are not retried here; re-queuing is a user
// decision.
func (p *Processor) Run(ctx context.Context) (*RunSummary, error) {
	duePosts, err := p.posts.ListDue(ctx, p.now(), p.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due posts: %w", err)
	}

	summary := &RunSummary{Errors: []string{}}
	for _, post := range duePosts {
		// Claim before dispatch so an overlapping run cannot publish the
		// same post twice.
		claimed, err := p.posts.Claim(ctx, post.ID)
		if err != nil {
			slog.Error("failed to claim post", "post_id", post.ID, "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}

		summary.Processed++

		result := p.processPost(ctx, post)
		if result.Success {
			if err := p.posts.MarkPublished(ctx, post.ID, result.PlatformPostID, p.now()); err != nil {
				slog.Error("failed to mark post published", "post_id", post.ID, "error", err.Error())
			}
			summary.Successful++
			continue
		}

		if err := p.posts.MarkFailed(ctx, post.ID, result.Error); err != nil {
			slog.Error("failed to mark post failed", "post_id", post.ID, "error", err.Error())
		}
		summary.Failed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("post %d: %s", post.ID, result.Error))
	}

	slog.Info("publish run complete",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"failed", summary.Failed)

	return summary, nil
}

// processPost resolves the connection and dispatches one post. The recover
// guard keeps a defect in one post's path from killing the run.
func (p *Processor) processPost(ctx context.Context, post *models.Post) (result *service.PublishResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while publishing post", "post_id", post.ID, "panic", fmt.Sprintf("%v", r))
			result = failure("internal error: %v", r)
		}
	}()

	conn, err := p.connections.GetActive(ctx, post.UserID, post.Platform)
	if err != nil {
		return failure("failed to look up %s connection: %s", post.Platform, err.Error())
	}
	if conn == nil {
		return failure("no active %s connection", post.Platform)
	}

	return p.dispatcher.Dispatch(ctx, post, conn)
}
