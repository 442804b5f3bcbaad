package models

import "time"

type Post struct {
	ID             int64      `db:"id" json:"id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	Platform       Platform   `db:"platform" json:"platform"`
	Content        string     `db:"content" json:"content"`
	MediaURLs      []string   `db:"media_urls" json:"media_urls"`
	ScheduledFor   time.Time  `db:"scheduled_for" json:"scheduled_for"`
	Status         string     `db:"status" json:"status"` // draft, scheduled, published, failed
	PublishedAt    *time.Time `db:"published_at" json:"published_at,omitempty"`
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusProcessing = "processing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
)
