package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"
	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/transfer"
)

const twitterAuthURL = "https://twitter.com/i/oauth2/authorize"

type TwitterService interface {
	PlatformAdapter
}

type twitterService struct {
	cfg           config.Config
	apiBaseURL    string
	uploadBaseURL string
	client        *http.Client
}

func NewTwitterService(cfg config.Config) TwitterService {
	return &twitterService{
		cfg:           cfg,
		apiBaseURL:    "https://api.twitter.com",
		uploadBaseURL: "https://upload.twitter.com",
		client:        http.DefaultClient,
	}
}

func (s *twitterService) GetAuthorizationURL(state string) string {
	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", s.cfg.TwitterClientID)
	params.Add("redirect_uri", s.cfg.TwitterRedirectURI)
	params.Add("scope", "tweet.read tweet.write users.read offline.access")
	params.Add("state", state)
	params.Add("code_challenge", "challenge")
	params.Add("code_challenge_method", "plain")

	return fmt.Sprintf("%s?%s", twitterAuthURL, params.Encode())
}

func (s *twitterService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.New("code is empty")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", s.cfg.TwitterRedirectURI)
	data.Set("code_verifier", "challenge")

	return s.tokenRequest(ctx, data)
}

func (s *twitterService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return s.tokenRequest(ctx, data)
}

func (s *twitterService) tokenRequest(ctx context.Context, data url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(s.cfg.TwitterClientID + ":" + s.cfg.TwitterClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, twitterAPIError(resp)
	}

	var tokenResponse transfer.TwitterTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenPair{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (s *twitterService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.apiBaseURL+"/2/users/me", nil)
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
		return nil, twitterAPIError(resp)
	}

	var user transfer.TwitterUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	return &AccountInfo{
		ID:       user.Data.ID,
		Name:     user.Data.Name,
		Username: user.Data.Username,
	}, nil
}

// Publish posts a tweet. Media attachments go through the v1.1 upload
// endpoint first, which is signed with OAuth 1.0a rather than the bearer
// token used for the tweet itself.
func (s *twitterService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	var mediaIDs []string
	for _, media := range req.Media {
		mediaID, err := s.uploadMedia(ctx, req, media.URL)
		if err != nil {
			return nil, fmt.Errorf("media upload failed: %w", err)
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	tweet := transfer.TweetRequest{Text: req.Post.Content}
	if len(mediaIDs) > 0 {
		tweet.Media = &transfer.TweetMedia{MediaIDs: mediaIDs}
	}

	body, err := json.Marshal(tweet)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/2/tweets", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, twitterAPIError(resp)
	}

	var tweetResponse transfer.TweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&tweetResponse); err != nil {
		return nil, fmt.Errorf("failed to decode tweet response: %w", err)
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: tweetResponse.Data.ID,
	}, nil
}

// uploadMedia fetches the media bytes and posts them as an OAuth 1.0a
// signed multipart upload. The user token secret comes from the connection
// record via the vault.
func (s *twitterService) uploadMedia(ctx context.Context, req *PublishRequest, mediaURL string) (string, error) {
	if req.TokenSecret == "" {
		return "", errors.New("connection has no OAuth 1.0a token secret for media upload")
	}

	mediaResp, err := s.client.Get(mediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer mediaResp.Body.Close()
	if mediaResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch media: status %d", mediaResp.StatusCode)
	}

	mediaBytes, err := io.ReadAll(mediaResp.Body)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(mediaBytes); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	oauthConfig := oauth1.NewConfig(s.cfg.TwitterConsumerKey, s.cfg.TwitterConsumerSecret)
	oauthToken := oauth1.NewToken(req.AccessToken, req.TokenSecret)
	signingClient := oauthConfig.Client(ctx, oauthToken)

	uploadReq, err := http.NewRequestWithContext(ctx, "POST", s.uploadBaseURL+"/1.1/media/upload.json", &buf)
	if err != nil {
		return "", err
	}
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := signingClient.Do(uploadReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", twitterAPIError(resp)
	}

	var uploadResponse transfer.TwitterMediaUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResponse); err != nil {
		return "", fmt.Errorf("failed to decode media upload response: %w", err)
	}

	return uploadResponse.MediaIDString, nil
}

// twitterAPIError surfaces the platform's own error text, never a generic
// failure message.
func twitterAPIError(resp *http.Response) error {
	body := readBody(resp)

	var errorResponse transfer.TwitterErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Detail != "":
			return fmt.Errorf("twitter: %s", errorResponse.Detail)
		case len(errorResponse.Errors) > 0 && errorResponse.Errors[0].Message != "":
			return fmt.Errorf("twitter: %s", errorResponse.Errors[0].Message)
		case errorResponse.Title != "":
			return fmt.Errorf("twitter: %s", errorResponse.Title)
		}
	}
	return fmt.Errorf("twitter: %s", strings.TrimSpace(string(body)))
}
