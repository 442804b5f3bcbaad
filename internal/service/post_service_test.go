package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPostRepo struct {
	created *models.Post
	posts   []*models.Post
}

func (r *stubPostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	r.created = post
	return 7, nil
}

func (r *stubPostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	for _, post := range r.posts {
		if post.ID == id {
			return post, nil
		}
	}
	return nil, nil
}

func (r *stubPostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return r.posts, nil
}

func (r *stubPostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	return nil, nil
}

func (r *stubPostRepo) Claim(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (r *stubPostRepo) MarkPublished(ctx context.Context, id int64, platformPostID string, publishedAt time.Time) error {
	return nil
}

func (r *stubPostRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return nil
}

func (r *stubPostRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

func TestCreatePostValidation(t *testing.T) {
	tests := []struct {
		name    string
		pc      *transfer.PostCreation
		wantErr string
	}{
		{
			name:    "nil payload",
			pc:      nil,
			wantErr: "post creation data is nil",
		},
		{
			name:    "empty content",
			pc:      &transfer.PostCreation{Platform: "twitter", ScheduledFor: "2026-04-01T09:00"},
			wantErr: "content cannot be empty",
		},
		{
			name:    "unknown platform",
			pc:      &transfer.PostCreation{Content: "hi", Platform: "myspace", ScheduledFor: "2026-04-01T09:00"},
			wantErr: "unknown platform",
		},
		{
			name:    "bad schedule format",
			pc:      &transfer.PostCreation{Content: "hi", Platform: "twitter", ScheduledFor: "next tuesday"},
			wantErr: "invalid scheduled time format",
		},
	}

	s := NewPostService(&stubPostRepo{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreatePost(context.Background(), 1, tt.pc, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreatePostScheduled(t *testing.T) {
	repo := &stubPostRepo{}
	s := NewPostService(repo, nil)

	postID, err := s.CreatePost(context.Background(), 42, &transfer.PostCreation{
		Content:      "launch day",
		Platform:     "linkedin",
		ScheduledFor: "2026-04-01T09:00",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(7), postID)
	require.NotNil(t, repo.created)
	assert.Equal(t, int64(42), repo.created.UserID)
	assert.Equal(t, models.PlatformLinkedin, repo.created.Platform)
	assert.Equal(t, models.PostStatusScheduled, repo.created.Status)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), repo.created.ScheduledFor)
	assert.Empty(t, repo.created.MediaURLs)
}

func TestRemovePostOwnership(t *testing.T) {
	repo := &stubPostRepo{posts: []*models.Post{{ID: 5, UserID: 1}}}
	s := NewPostService(repo, nil)

	err := s.Remove(context.Background(), 2, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't exist")

	assert.NoError(t, s.Remove(context.Background(), 1, 5))
}
