package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

const (
	googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

	// YouTube truncates longer titles; cut cleanly on our side.
	youtubeTitleLimit = 100
)

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

type YoutubeService interface {
	PlatformAdapter
}

type youtubeService struct {
	cfg           config.Config
	uploadBaseURL string
	client        *http.Client
}

func NewYoutubeService(cfg config.Config) YoutubeService {
	return &youtubeService{
		cfg:           cfg,
		uploadBaseURL: "https://www.googleapis.com/upload/youtube/v3",
		client:        http.DefaultClient,
	}
}

func (s *youtubeService) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
			"https://www.googleapis.com/auth/youtube.upload",
		},
		Endpoint: google.Endpoint,
	}
}

func (s *youtubeService) GetAuthorizationURL(state string) string {
	return s.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *youtubeService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.New("code is empty")
	}

	conf := s.oauthConfig()
	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURL == "" {
		return nil, errors.New("google OAuth2 configuration is incomplete")
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if token.RefreshToken == "" {
		return nil, errors.New("google issued no refresh token")
	}

	return &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (s *youtubeService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tokenSource := s.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (s *youtubeService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://www.googleapis.com/oauth2/v1/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, youtubeAPIError(resp)
	}

	var userInfo transfer.GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, err
	}

	return &AccountInfo{
		ID:       userInfo.ID,
		Name:     userInfo.Name,
		Username: userInfo.Email,
		Picture:  userInfo.Picture,
	}, nil
}

// Publish uploads the video through the resumable protocol: an init request
// carrying the video metadata returns a session URL, and the full video body
// is PUT to that URL.
func (s *youtubeService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if len(req.Media) == 0 || len(req.Media[0].Data) == 0 {
		return nil, errors.New("youtube publish requires video bytes")
	}
	video := req.Media[0]

	sessionURL, err := s.initResumableUpload(ctx, req.AccessToken, req.Post.Content, video)
	if err != nil {
		return nil, fmt.Errorf("upload init failed: %w", err)
	}

	videoID, err := s.uploadVideo(ctx, req.AccessToken, sessionURL, video)
	if err != nil {
		return nil, fmt.Errorf("video upload failed: %w", err)
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: videoID,
	}, nil
}

// videoMetadata derives the YouTube resource from the post content: first
// line as title, remainder as description, #hashtag tokens as tags.
func videoMetadata(content string) *youtube.Video {
	title := content
	description := ""
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		title = content[:idx]
		description = strings.TrimSpace(content[idx+1:])
	}
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > youtubeTitleLimit {
		title = string(runes[:youtubeTitleLimit])
	}

	var tags []string
	for _, match := range hashtagPattern.FindAllStringSubmatch(content, -1) {
		tags = append(tags, match[1])
	}

	return &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: description,
			Tags:        tags,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}
}

func (s *youtubeService) initResumableUpload(ctx context.Context, accessToken, content string, video Media) (string, error) {
	body, err := json.Marshal(videoMetadata(content))
	if err != nil {
		return "", err
	}

	initURL := s.uploadBaseURL + "/videos?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, "POST", initURL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	contentType := video.ContentType
	if contentType == "" {
		contentType = "video/*"
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", contentType)
	req.Header.Set("X-Upload-Content-Length", strconv.Itoa(len(video.Data)))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", youtubeAPIError(resp)
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", errors.New("youtube returned no upload session URL")
	}
	return sessionURL, nil
}

func (s *youtubeService) uploadVideo(ctx context.Context, accessToken, sessionURL string, video Media) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "PUT", sessionURL, bytes.NewReader(video.Data))
	if err != nil {
		return "", err
	}
	contentType := video.ContentType
	if contentType == "" {
		contentType = "video/*"
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(video.Data))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", youtubeAPIError(resp)
	}

	var uploadResponse transfer.YoutubeUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResponse); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return uploadResponse.ID, nil
}

func youtubeAPIError(resp *http.Response) error {
	body := readBody(resp)

	var errorResponse transfer.YoutubeErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		return fmt.Errorf("youtube: %s", errorResponse.Error.Message)
	}
	return fmt.Errorf("youtube: %s", strings.TrimSpace(string(body)))
}

// RevokeGoogleAccess invalidates the grant when a user disconnects the
// account.
func RevokeGoogleAccess(accessToken string) error {
	req, err := http.NewRequest("POST", "https://oauth2.googleapis.com/revoke", strings.NewReader("token="+accessToken))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
