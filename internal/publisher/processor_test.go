package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(posts *fakePostRepo, connections *fakeConnectionRepo, adapters map[models.Platform]service.PlatformAdapter) *Processor {
	vault := NewTokenVault(testEncryptionKey, connections, adapters)
	vault.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	processor := NewProcessor(posts, connections, NewDispatcher(adapters, vault))
	processor.now = vault.now
	return processor
}

func scheduledPost(id int64, platform models.Platform, scheduledFor time.Time) *models.Post {
	return &models.Post{
		ID:           id,
		UserID:       1,
		Platform:     platform,
		Content:      "hello world",
		ScheduledFor: scheduledFor,
		Status:       models.PostStatusScheduled,
	}
}

func TestRunPublishesDuePost(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	adapter := &fakeAdapter{
		publishFn: func(ctx context.Context, req *service.PublishRequest) (*service.PublishResult, error) {
			assert.Equal(t, "access-token", req.AccessToken)
			assert.Equal(t, "hello world", req.Post.Content)
			return &service.PublishResult{Success: true, PlatformPostID: "123"}, nil
		},
	}

	posts := newFakePostRepo(scheduledPost(1, models.PlatformTwitter, now.Add(-time.Minute)))
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: adapter,
	})

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, "123", posts.published[1])
}

func TestRunSkipsFuturePostsAndNonScheduled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := scheduledPost(1, models.PlatformTwitter, now.Add(-time.Hour))
	future := scheduledPost(2, models.PlatformTwitter, now.Add(time.Hour))
	alreadyPublished := scheduledPost(3, models.PlatformTwitter, now.Add(-time.Hour))
	alreadyPublished.Status = models.PostStatusPublished
	draft := scheduledPost(4, models.PlatformTwitter, now.Add(-time.Hour))
	draft.Status = models.PostStatusDraft

	posts := newFakePostRepo(due, future, alreadyPublished, draft)
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: &fakeAdapter{},
	})

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Contains(t, posts.published, int64(1))
	assert.NotContains(t, posts.published, int64(2))
	assert.NotContains(t, posts.published, int64(3))
	assert.NotContains(t, posts.published, int64(4))
}

func TestRunFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	adapter := &fakeAdapter{
		publishFn: func(ctx context.Context, req *service.PublishRequest) (*service.PublishResult, error) {
			if req.Post.ID == 2 {
				panic("adapter defect")
			}
			return &service.PublishResult{Success: true, PlatformPostID: "ok"}, nil
		},
	}

	posts := newFakePostRepo(
		scheduledPost(1, models.PlatformTwitter, now.Add(-3*time.Minute)),
		scheduledPost(2, models.PlatformTwitter, now.Add(-2*time.Minute)),
		scheduledPost(3, models.PlatformTwitter, now.Add(-time.Minute)),
	)
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: adapter,
	})

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "post 2:")
	assert.Contains(t, summary.Errors[0], "internal error")

	// The panicking post got its terminal write, the others published.
	assert.Contains(t, posts.published, int64(1))
	assert.Contains(t, posts.published, int64(3))
	assert.Contains(t, posts.failed, int64(2))
}

func TestRunNoActiveConnection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	posts := newFakePostRepo(scheduledPost(1, models.PlatformLinkedin, now.Add(-time.Minute)))
	processor := newTestProcessor(posts, newFakeConnectionRepo(), map[models.Platform]service.PlatformAdapter{
		models.PlatformLinkedin: &fakeAdapter{},
	})

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, posts.failed[1], "no active linkedin connection")
}

func TestRunAdapterFailureRecorded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	adapter := &fakeAdapter{
		publishFn: func(ctx context.Context, req *service.PublishRequest) (*service.PublishResult, error) {
			return &service.PublishResult{Success: false, Error: "No Facebook pages connected"}, nil
		},
	}

	posts := newFakePostRepo(scheduledPost(1, models.PlatformFacebook, now.Add(-time.Minute)))
	connections := newFakeConnectionRepo(validConnection(models.PlatformFacebook))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformFacebook: adapter,
	})

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "No Facebook pages connected", posts.failed[1])
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "post 1: No Facebook pages connected", summary.Errors[0])
}

func TestRunDoesNotProcessSamePostTwice(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	posts := newFakePostRepo(scheduledPost(1, models.PlatformTwitter, now.Add(-time.Minute)))
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: &fakeAdapter{},
	})

	first, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	// The claim moved the post out of scheduled; a second sweep sees
	// nothing to do.
	second, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
}

func TestRunSkipsUnclaimablePost(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	contested := scheduledPost(1, models.PlatformTwitter, now.Add(-time.Minute))
	posts := newFakePostRepo(contested)
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))

	adapter := &fakeAdapter{}
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: adapter,
	})

	// Another run grabbed the post between selection and claim.
	posts.claimDenied = map[int64]bool{contested.ID: true}

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, adapter.publishCalls)
}

func TestRunListDueError(t *testing.T) {
	posts := newFakePostRepo()
	posts.listErr = assert.AnError

	processor := newTestProcessor(posts, newFakeConnectionRepo(), nil)

	_, err := processor.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch due posts")
}

func TestRunBatchLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var due []*models.Post
	for i := int64(1); i <= 5; i++ {
		due = append(due, scheduledPost(i, models.PlatformTwitter, now.Add(-time.Duration(i)*time.Minute)))
	}

	posts := newFakePostRepo(due...)
	connections := newFakeConnectionRepo(validConnection(models.PlatformTwitter))
	processor := newTestProcessor(posts, connections, map[models.Platform]service.PlatformAdapter{
		models.PlatformTwitter: &fakeAdapter{},
	})
	processor.limit = 2

	summary, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
}
