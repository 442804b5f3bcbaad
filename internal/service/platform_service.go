package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/repository"
	"github.com/postpilotapp/postpilot/pkg/utils"
)

// PlatformService handles the account-management surface: authorization
// URLs, OAuth callback completion, listing and disconnecting accounts.
type PlatformService interface {
	GetAuthURL(ctx context.Context, platform models.Platform, state string) string
	CompleteOAuth(ctx context.Context, platform models.Platform, code string, userID int64) error
	List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	Delete(ctx context.Context, userID, connectionID int64) error
}

type platformService struct {
	cfg         config.Config
	connections repository.ConnectionRepository
	adapters    map[models.Platform]PlatformAdapter
}

func NewPlatformService(cfg config.Config, connections repository.ConnectionRepository, adapters map[models.Platform]PlatformAdapter) PlatformService {
	return &platformService{
		cfg:         cfg,
		connections: connections,
		adapters:    adapters,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platform models.Platform, state string) string {
	adapter, ok := s.adapters[platform]
	if !ok {
		return ""
	}
	return adapter.GetAuthorizationURL(state)
}

// CompleteOAuth exchanges the callback code, encrypts the token pair and
// stores the connection row.
func (s *platformService) CompleteOAuth(ctx context.Context, platform models.Platform, code string, userID int64) error {
	if code == "" {
		return errors.New("code is empty")
	}
	if userID == 0 {
		return errors.New("user not found")
	}

	adapter, ok := s.adapters[platform]
	if !ok {
		return fmt.Errorf("unknown platform: %s", platform)
	}

	pair, err := adapter.ExchangeCodeForTokens(ctx, code)
	if err != nil {
		return err
	}

	account, err := adapter.GetUser(ctx, pair.AccessToken)
	if err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(pair.AccessToken), []byte(s.cfg.EncryptionKey))
	if err != nil {
		return err
	}

	encryptedRefresh := ""
	if pair.RefreshToken != "" {
		if encryptedRefresh, err = utils.Encrypt([]byte(pair.RefreshToken), []byte(s.cfg.EncryptionKey)); err != nil {
			return err
		}
	}

	expiresAt := pair.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}

	conn := &models.PlatformConnection{
		UserID:          userID,
		Platform:        platform,
		PlatformUserID:  account.ID,
		AccountName:     account.Name,
		AccountUsername: account.Username,
		ProfilePicture:  account.Picture,
		AccessToken:     encryptedAccess,
		RefreshToken:    encryptedRefresh,
		TokenExpiresAt:  expiresAt,
	}

	if _, err := s.connections.Create(ctx, nil, conn); err != nil {
		return err
	}

	return nil
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	if userID == 0 {
		return nil, errors.New("user id is not valid")
	}

	accounts, err := s.connections.ListByUserID(ctx, userID)
	if err != nil {
		return nil, errors.New("error getting connected accounts")
	}

	return accounts, nil
}

func (s *platformService) Delete(ctx context.Context, userID, connectionID int64) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil || conn.UserID != userID {
		return errors.New("connected account doesn't exist")
	}

	decryptedAccessToken, err := utils.Decrypt(conn.AccessToken, []byte(s.cfg.EncryptionKey))
	if err != nil {
		return err
	}

	switch conn.Platform {
	case models.PlatformTiktok:
		if err := RevokeTiktokAccess(conn.PlatformUserID, decryptedAccessToken); err != nil {
			slog.Info(err.Error())
			return errors.New("unable to revoke access")
		}
	case models.PlatformYoutube:
		if err := RevokeGoogleAccess(decryptedAccessToken); err != nil {
			slog.Info(err.Error())
			return errors.New("unable to revoke access")
		}
	}

	return s.connections.Remove(ctx, connectionID)
}
