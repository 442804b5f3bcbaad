package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/transfer"
)

const (
	tiktokAuthURL = "https://www.tiktok.com/v2/auth/authorize"

	// TikTok accepts chunks of up to 64MB; 10MB keeps memory flat while
	// staying well inside their minimum chunk rules.
	tiktokChunkSize = int64(10 * 1024 * 1024)

	tiktokStatusComplete = "PUBLISH_COMPLETE"
	tiktokStatusFailed   = "FAILED"
)

type TiktokService interface {
	PlatformAdapter
}

type tiktokService struct {
	cfg          config.Config
	apiBaseURL   string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
}

func NewTiktokService(cfg config.Config) TiktokService {
	return &tiktokService{
		cfg:          cfg,
		apiBaseURL:   "https://open.tiktokapis.com",
		client:       http.DefaultClient,
		pollInterval: 2 * time.Second,
		maxPolls:     30,
	}
}

func (s *tiktokService) GetAuthorizationURL(state string) string {
	params := url.Values{}
	params.Add("client_key", s.cfg.TiktokClientKey)
	params.Add("scope", "user.info.basic,user.info.profile,video.publish,video.upload")
	params.Add("response_type", "code")
	params.Add("redirect_uri", s.cfg.TiktokRedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", tiktokAuthURL, params.Encode())
}

func (s *tiktokService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.New("code is empty")
	}

	data := url.Values{}
	data.Set("client_key", s.cfg.TiktokClientKey)
	data.Set("client_secret", s.cfg.TiktokClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", s.cfg.TiktokRedirectURI)

	return s.tokenRequest(ctx, data)
}

func (s *tiktokService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("client_key", s.cfg.TiktokClientKey)
	data.Set("client_secret", s.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return s.tokenRequest(ctx, data)
}

func (s *tiktokService) tokenRequest(ctx context.Context, data url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tiktokAPIError(resp)
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenPair{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (s *tiktokService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	reqURL := s.apiBaseURL + "/v2/user/info/?fields=open_id,avatar_url,display_name,username"
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
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
		return nil, tiktokAPIError(resp)
	}

	var userResponse transfer.TiktokUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&userResponse); err != nil {
		return nil, err
	}

	user := userResponse.Data.User
	return &AccountInfo{
		ID:       user.OpenID,
		Name:     user.DisplayName,
		Username: user.Username,
		Picture:  user.AvatarURL,
	}, nil
}

// Publish runs the three-step chunked upload: declare the upload, PUT each
// byte range, then poll until TikTok reports a terminal status. TikTok
// finishes processing asynchronously, so a poll timeout without an explicit
// FAILED is treated as success with the publish id.
func (s *tiktokService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if len(req.Media) == 0 || len(req.Media[0].Data) == 0 {
		return nil, errors.New("tiktok publish requires video bytes")
	}
	video := req.Media[0]

	publishID, uploadURL, err := s.initUpload(ctx, req.AccessToken, req.Post.Content, int64(len(video.Data)))
	if err != nil {
		return nil, fmt.Errorf("upload init failed: %w", err)
	}

	if err := s.uploadChunks(ctx, uploadURL, video); err != nil {
		return nil, fmt.Errorf("chunk upload failed: %w", err)
	}

	return s.awaitPublish(ctx, req.AccessToken, publishID)
}

func (s *tiktokService) initUpload(ctx context.Context, accessToken, title string, videoSize int64) (publishID, uploadURL string, err error) {
	chunkCount := int(videoSize / tiktokChunkSize)
	if videoSize%tiktokChunkSize != 0 {
		chunkCount++
	}

	initRequest := transfer.TiktokInitRequest{
		PostInfo: transfer.TiktokPostInfo{
			Title:                 title,
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			DisableDuet:           false,
			DisableComment:        false,
			DisableStitch:         false,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.TiktokSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       videoSize,
			ChunkSize:       tiktokChunkSize,
			TotalChunkCount: chunkCount,
		},
	}

	body, err := json.Marshal(initRequest)
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/v2/post/publish/video/init/", bytes.NewBuffer(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", tiktokAPIError(resp)
	}

	var initResponse transfer.TiktokInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResponse); err != nil {
		return "", "", fmt.Errorf("failed to decode init response: %w", err)
	}
	if initResponse.Data.UploadURL == "" {
		return "", "", errors.New("tiktok returned no upload URL")
	}

	return initResponse.Data.PublishID, initResponse.Data.UploadURL, nil
}

// uploadChunks PUTs each byte range sequentially with an explicit
// Content-Range header. TikTok rejects out-of-order ranges.
func (s *tiktokService) uploadChunks(ctx context.Context, uploadURL string, video Media) error {
	total := int64(len(video.Data))
	contentType := video.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	for start := int64(0); start < total; start += tiktokChunkSize {
		end := start + tiktokChunkSize
		if end > total {
			end = total
		}
		chunk := video.Data[start:end]

		req, err := http.NewRequestWithContext(ctx, "PUT", uploadURL, bytes.NewReader(chunk))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
		req.ContentLength = int64(len(chunk))

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusPartialContent {
			err := tiktokAPIError(resp)
			resp.Body.Close()
			return err
		}
		resp.Body.Close()
	}
	return nil
}

// awaitPublish polls the status endpoint every pollInterval, up to maxPolls
// attempts. FAILED surfaces the platform's fail_reason; running out of polls
// without a terminal status is optimistic success, since TikTok completes
// processing out-of-band.
func (s *tiktokService) awaitPublish(ctx context.Context, accessToken, publishID string) (*PublishResult, error) {
	for attempt := 0; attempt < s.maxPolls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pollInterval):
			}
		}

		status, failReason, err := s.fetchStatus(ctx, accessToken, publishID)
		if err != nil {
			slog.Info("tiktok status poll failed", "error", err.Error())
			continue
		}

		switch status {
		case tiktokStatusComplete:
			return &PublishResult{Success: true, PlatformPostID: publishID}, nil
		case tiktokStatusFailed:
			if failReason == "" {
				failReason = "publish failed"
			}
			return nil, fmt.Errorf("tiktok: %s", failReason)
		}
	}

	// Still processing after ~60s; TikTok will finish on its own.
	return &PublishResult{Success: true, PlatformPostID: publishID}, nil
}

func (s *tiktokService) fetchStatus(ctx context.Context, accessToken, publishID string) (status, failReason string, err error) {
	body, err := json.Marshal(map[string]string{"publish_id": publishID})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/v2/post/publish/status/fetch/", bytes.NewBuffer(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", tiktokAPIError(resp)
	}

	var statusResponse transfer.TiktokStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&statusResponse); err != nil {
		return "", "", err
	}

	return statusResponse.Data.Status, statusResponse.Data.FailReason, nil
}

func tiktokAPIError(resp *http.Response) error {
	body := readBody(resp)

	var errorResponse struct {
		Error transfer.TiktokError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		return fmt.Errorf("tiktok: %s", errorResponse.Error.Message)
	}
	return fmt.Errorf("tiktok: %s", strings.TrimSpace(string(body)))
}

// RevokeTiktokAccess invalidates the grant when a user disconnects the
// account.
func RevokeTiktokAccess(openID, accessToken string) error {
	params := url.Values{}
	params.Add("open_id", openID)
	params.Add("access_token", accessToken)

	req, err := http.NewRequest("POST", "https://open.tiktokapis.com/v2/oauth/revoke/", strings.NewReader(params.Encode()))
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
		return tiktokAPIError(resp)
	}
	return nil
}
