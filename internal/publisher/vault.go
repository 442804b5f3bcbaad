package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/repository"
	"github.com/postpilotapp/postpilot/internal/service"
	"github.com/postpilotapp/postpilot/pkg/utils"
)

// refreshMargin is how much remaining lifetime a token needs before we use
// it as-is. Refresh plus the persist round-trip must complete before the
// actual publish call, so a token expiring in seconds is already stale.
const refreshMargin = 5 * time.Minute

// TokenVault protects OAuth secrets at rest and hands the dispatcher a
// currently valid plaintext access token. It is the only place token state
// mutates during a run.
type TokenVault struct {
	secret      []byte
	connections repository.ConnectionRepository
	adapters    map[models.Platform]service.PlatformAdapter
	now         func() time.Time
}

func NewTokenVault(encryptionKey string, connections repository.ConnectionRepository, adapters map[models.Platform]service.PlatformAdapter) *TokenVault {
	return &TokenVault{
		secret:      []byte(encryptionKey),
		connections: connections,
		adapters:    adapters,
		now:         time.Now,
	}
}

func (v *TokenVault) Encrypt(plaintext string) (string, error) {
	return utils.Encrypt([]byte(plaintext), v.secret)
}

func (v *TokenVault) Decrypt(ciphertext string) (string, error) {
	return utils.Decrypt(ciphertext, v.secret)
}

// IsExpired reports whether less than the safety margin remains before the
// given expiry.
func (v *TokenVault) IsExpired(expiresAt time.Time) bool {
	return expiresAt.Sub(v.now()) < refreshMargin
}

// EnsureFreshToken returns a valid plaintext access token for the
// connection, refreshing and persisting first when the stored one is near
// expiry. The passed connection is updated in place so callers see the new
// ciphertext and expiry.
func (v *TokenVault) EnsureFreshToken(ctx context.Context, conn *models.PlatformConnection) (string, error) {
	if !v.IsExpired(conn.TokenExpiresAt) {
		return v.Decrypt(conn.AccessToken)
	}

	if conn.RefreshToken == "" {
		return "", errors.New("access token expired and no refresh token available")
	}

	return v.Refresh(ctx, conn)
}

// Refresh performs the platform refresh grant and persists the re-encrypted
// pair before returning the new plaintext access token.
func (v *TokenVault) Refresh(ctx context.Context, conn *models.PlatformConnection) (string, error) {
	adapter, ok := v.adapters[conn.Platform]
	if !ok {
		return "", fmt.Errorf("no adapter registered for platform %s", conn.Platform)
	}

	refreshToken, err := v.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	pair, err := adapter.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	encryptedAccess, err := v.Encrypt(pair.AccessToken)
	if err != nil {
		return "", err
	}

	// Not every platform rotates the refresh token; keep the old ciphertext
	// when no new one was issued.
	encryptedRefresh := ""
	if pair.RefreshToken != "" {
		if encryptedRefresh, err = v.Encrypt(pair.RefreshToken); err != nil {
			return "", err
		}
	}

	if err := v.connections.UpdateTokens(ctx, conn.UserID, conn.Platform, encryptedAccess, encryptedRefresh, pair.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	conn.AccessToken = encryptedAccess
	if encryptedRefresh != "" {
		conn.RefreshToken = encryptedRefresh
	}
	conn.TokenExpiresAt = pair.ExpiresAt

	return pair.AccessToken, nil
}
