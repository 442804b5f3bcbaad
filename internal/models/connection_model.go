package models

import "time"

// Platform identifies one of the supported publishing targets.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedin  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTiktok    Platform = "tiktok"
	PlatformYoutube   Platform = "youtube"
)

// PlatformConnection is a stored OAuth grant linking one user to one
// platform. Token columns hold ciphertext; only the token vault ever sees
// the plaintext.
type PlatformConnection struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        Platform  `db:"platform" json:"platform"`
	PlatformUserID  string    `db:"platform_user_id" json:"platform_user_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenSecret     string    `db:"token_secret" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
