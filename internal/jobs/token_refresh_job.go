package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/publisher"
	"github.com/postpilotapp/postpilot/internal/repository"
)

// TokenRefreshJob proactively refreshes connections whose tokens expire
// soon, so the publish path rarely pays the refresh round-trip itself.
type TokenRefreshJob struct {
	connections repository.ConnectionRepository
	vault       *publisher.TokenVault
}

func NewTokenRefreshJob(connections repository.ConnectionRepository, vault *publisher.TokenVault) *TokenRefreshJob {
	return &TokenRefreshJob{
		connections: connections,
		vault:       vault,
	}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	expiringBefore := time.Now().Add(30 * time.Minute)
	accounts, err := j.connections.ListExpiring(ctx, expiringBefore)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)

	for _, conn := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.PlatformConnection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := j.vault.Refresh(ctx, conn); err != nil {
				slog.Info("unable to refresh tokens",
					"platform", string(conn.Platform),
					"user_id", conn.UserID,
					"error", err.Error())
			}
		}(conn)
	}

	wg.Wait()
}
