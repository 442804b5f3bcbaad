package publisher

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/service"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

type fakePostRepo struct {
	due         []*models.Post
	published   map[int64]string
	failed      map[int64]string
	listErr     error
	claimErr    error
	claimDenied map[int64]bool
}

func newFakePostRepo(due ...*models.Post) *fakePostRepo {
	return &fakePostRepo{
		due:       due,
		published: make(map[int64]string),
		failed:    make(map[int64]string),
	}
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	for _, post := range r.due {
		if post.ID == id {
			return post, nil
		}
	}
	return nil, nil
}

func (r *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (r *fakePostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var due []*models.Post
	for _, post := range r.due {
		if post.Status == models.PostStatusScheduled && !post.ScheduledFor.After(now) {
			due = append(due, post)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *fakePostRepo) Claim(ctx context.Context, id int64) (bool, error) {
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if r.claimDenied[id] {
		return false, nil
	}
	for _, post := range r.due {
		if post.ID == id && post.Status == models.PostStatusScheduled {
			post.Status = models.PostStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePostRepo) MarkPublished(ctx context.Context, id int64, platformPostID string, publishedAt time.Time) error {
	r.published[id] = platformPostID
	return nil
}

func (r *fakePostRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	r.failed[id] = errorMessage
	return nil
}

func (r *fakePostRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

type connKey struct {
	userID   int64
	platform models.Platform
}

type tokenUpdate struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

type fakeConnectionRepo struct {
	conns   map[connKey]*models.PlatformConnection
	updates []tokenUpdate
}

func newFakeConnectionRepo(conns ...*models.PlatformConnection) *fakeConnectionRepo {
	r := &fakeConnectionRepo{conns: make(map[connKey]*models.PlatformConnection)}
	for _, conn := range conns {
		r.conns[connKey{conn.UserID, conn.Platform}] = conn
	}
	return r
}

func (r *fakeConnectionRepo) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	r.conns[connKey{conn.UserID, conn.Platform}] = conn
	return conn.ID, nil
}

func (r *fakeConnectionRepo) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	for _, conn := range r.conns {
		if conn.ID == id {
			return conn, nil
		}
	}
	return nil, nil
}

func (r *fakeConnectionRepo) GetActive(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error) {
	return r.conns[connKey{userID, platform}], nil
}

func (r *fakeConnectionRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	return nil, nil
}

func (r *fakeConnectionRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformConnection, error) {
	var expiring []*models.PlatformConnection
	for _, conn := range r.conns {
		if conn.RefreshToken != "" && conn.TokenExpiresAt.Before(before) {
			expiring = append(expiring, conn)
		}
	}
	return expiring, nil
}

func (r *fakeConnectionRepo) UpdateTokens(ctx context.Context, userID int64, platform models.Platform, accessToken, refreshToken string, expiresAt time.Time) error {
	conn := r.conns[connKey{userID, platform}]
	if conn == nil {
		return errors.New("no active connection to update")
	}
	r.updates = append(r.updates, tokenUpdate{accessToken, refreshToken, expiresAt})
	conn.AccessToken = accessToken
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.TokenExpiresAt = expiresAt
	return nil
}

func (r *fakeConnectionRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

// fakeAdapter lets tests script the refresh and publish behavior and
// inspect the requests the dispatcher built.
type fakeAdapter struct {
	refreshFn    func(ctx context.Context, refreshToken string) (*service.TokenPair, error)
	publishFn    func(ctx context.Context, req *service.PublishRequest) (*service.PublishResult, error)
	refreshCalls int
	publishCalls int
	lastRequest  *service.PublishRequest
}

func (a *fakeAdapter) GetAuthorizationURL(state string) string {
	return "https://example.com/authorize?state=" + state
}

func (a *fakeAdapter) ExchangeCodeForTokens(ctx context.Context, code string) (*service.TokenPair, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenPair, error) {
	a.refreshCalls++
	if a.refreshFn == nil {
		return nil, errors.New("refresh not scripted")
	}
	return a.refreshFn(ctx, refreshToken)
}

func (a *fakeAdapter) GetUser(ctx context.Context, accessToken string) (*service.AccountInfo, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) Publish(ctx context.Context, req *service.PublishRequest) (*service.PublishResult, error) {
	a.publishCalls++
	a.lastRequest = req
	if a.publishFn == nil {
		return &service.PublishResult{Success: true, PlatformPostID: "fake-post-id"}, nil
	}
	return a.publishFn(ctx, req)
}

func encryptForTest(plaintext string) string {
	vault := &TokenVault{secret: []byte(testEncryptionKey)}
	encrypted, err := vault.Encrypt(plaintext)
	if err != nil {
		panic(err)
	}
	return encrypted
}
