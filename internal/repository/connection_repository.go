package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/postpilotapp/postpilot/internal/models"
)

type ConnectionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error)
	GetActive(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformConnection, error)
	UpdateTokens(ctx context.Context, userID int64, platform models.Platform, accessToken, refreshToken string, expiresAt time.Time) error
	Remove(ctx context.Context, id int64) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, user_id, platform, platform_user_id, account_name, account_username, profile_picture_url, access_token, refresh_token, token_secret, token_expires_at, is_active, created_at, updated_at`

func scanConnection(row interface{ Scan(...interface{}) error }) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.PlatformUserID,
		&c.AccountName, &c.AccountUsername, &c.ProfilePicture,
		&c.AccessToken, &c.RefreshToken, &c.TokenSecret,
		&c.TokenExpiresAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	// One active connection per (user, platform): replace any previous grant.
	insertQuery := `
		INSERT INTO platform_connections (
			user_id,
			platform,
			platform_user_id,
			account_name,
			account_username,
			profile_picture_url,
			access_token,
			refresh_token,
			token_secret,
			token_expires_at,
			is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			platform_user_id = EXCLUDED.platform_user_id,
			account_name = EXCLUDED.account_name,
			account_username = EXCLUDED.account_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_secret = EXCLUDED.token_secret,
			token_expires_at = EXCLUDED.token_expires_at,
			is_active = TRUE,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	args := []interface{}{
		conn.UserID,
		conn.Platform,
		conn.PlatformUserID,
		conn.AccountName,
		conn.AccountUsername,
		conn.ProfilePicture,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenSecret,
		conn.TokenExpiresAt,
	}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

// GetActive returns the single active connection for (user, platform), or
// nil when the user has none.
func (r *connectionRepository) GetActive(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM platform_connections
		WHERE user_id = $1 AND platform = $2 AND is_active = TRUE`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = $1 AND is_active = TRUE`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// ListExpiring returns active connections whose token expires before the
// given time, used by the proactive refresh sweep.
func (r *connectionRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM platform_connections
		WHERE is_active = TRUE AND token_expires_at < $1 AND refresh_token <> ''`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateTokens replaces the token pair for (user, platform) in a single
// statement. Refresh tokens rotate on some platforms, so the write is atomic
// per connection row.
func (r *connectionRepository) UpdateTokens(ctx context.Context, userID int64, platform models.Platform, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE platform_connections
		SET
			access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND platform = $2 AND is_active = TRUE
	`
	result, err := r.db.ExecContext(ctx, query, userID, platform, accessToken, refreshToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		return errors.New("no active connection to update")
	}
	return nil
}

func (r *connectionRepository) Remove(ctx context.Context, id int64) error {
	query := `UPDATE platform_connections SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
