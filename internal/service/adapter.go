package service

import (
	"context"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
)

// TokenPair is the plaintext outcome of an OAuth code exchange or refresh.
// Some platforms do not issue a refresh token, in which case RefreshToken is
// empty and the stored one (if any) is kept.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AccountInfo is the platform-side identity of the connected account.
type AccountInfo struct {
	ID       string
	Name     string
	Username string
	Picture  string
}

// Media carries one attachment for a publish call. Data is populated by the
// dispatcher only for platforms that upload raw bytes (TikTok, YouTube);
// URL-based platforms receive just the URL.
type Media struct {
	URL         string
	ContentType string
	Data        []byte
}

// PublishRequest bundles everything an adapter needs for one publish
// attempt. AccessToken and TokenSecret are plaintext, already run through
// the token vault.
type PublishRequest struct {
	Post        *models.Post
	Connection  *models.PlatformConnection
	AccessToken string
	TokenSecret string
	Media       []Media
}

// PublishResult is the normalized outcome consumed by the dispatcher and
// queue processor.
type PublishResult struct {
	Success        bool
	PlatformPostID string
	Error          string
}

// PlatformAdapter is the uniform capability set every platform implements.
// The publish protocol behind Publish differs sharply by platform; the
// dispatcher holds one adapter per platform tag and never branches beyond
// that lookup.
type PlatformAdapter interface {
	GetAuthorizationURL(state string) string
	ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	GetUser(ctx context.Context, accessToken string) (*AccountInfo, error)
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
}
