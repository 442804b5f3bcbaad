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

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/transfer"
)

const linkedinAuthURL = "https://www.linkedin.com/oauth/v2/authorization"

type LinkedinService interface {
	PlatformAdapter
}

type linkedinService struct {
	cfg        config.Config
	apiBaseURL string
	client     *http.Client
}

func NewLinkedinService(cfg config.Config) LinkedinService {
	return &linkedinService{
		cfg:        cfg,
		apiBaseURL: "https://api.linkedin.com",
		client:     http.DefaultClient,
	}
}

func (s *linkedinService) GetAuthorizationURL(state string) string {
	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", s.cfg.LinkedinClientID)
	params.Add("redirect_uri", s.cfg.LinkedinRedirectURI)
	params.Add("scope", "openid profile email w_member_social")
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", linkedinAuthURL, params.Encode())
}

func (s *linkedinService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.New("code is empty")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", s.cfg.LinkedinClientID)
	data.Set("client_secret", s.cfg.LinkedinClientSecret)
	data.Set("redirect_uri", s.cfg.LinkedinRedirectURI)

	return s.tokenRequest(ctx, data)
}

func (s *linkedinService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", s.cfg.LinkedinClientID)
	data.Set("client_secret", s.cfg.LinkedinClientSecret)

	return s.tokenRequest(ctx, data)
}

func (s *linkedinService) tokenRequest(ctx context.Context, data url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/oauth/v2/accessToken", strings.NewReader(data.Encode()))
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
		return nil, linkedinAPIError(resp)
	}

	var tokenResponse transfer.LinkedinTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenPair{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (s *linkedinService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	userInfo, err := s.userInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &AccountInfo{
		ID:       userInfo.Sub,
		Name:     userInfo.Name,
		Username: userInfo.Email,
		Picture:  userInfo.Picture,
	}, nil
}

func (s *linkedinService) userInfo(ctx context.Context, accessToken string) (*transfer.LinkedinUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.apiBaseURL+"/v2/userinfo", nil)
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
		return nil, linkedinAPIError(resp)
	}

	var userInfo transfer.LinkedinUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, err
	}
	return &userInfo, nil
}

// Publish resolves the member URN of the authenticated user, then creates a
// single UGC share with fixed distribution and visibility fields.
func (s *linkedinService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	userInfo, err := s.userInfo(ctx, req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve author: %w", err)
	}

	share := transfer.LinkedinShareRequest{
		Author:         "urn:li:person:" + userInfo.Sub,
		LifecycleState: "PUBLISHED",
		SpecificContent: transfer.LinkedinSpecificContent{
			ShareContent: transfer.LinkedinShareContent{
				ShareCommentary:    transfer.LinkedinText{Text: req.Post.Content},
				ShareMediaCategory: "NONE",
			},
		},
		Visibility: transfer.LinkedinShareVisibility{
			MemberNetworkVisibility: "PUBLIC",
		},
	}

	body, err := json.Marshal(share)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.apiBaseURL+"/v2/ugcPosts", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, linkedinAPIError(resp)
	}

	var shareResponse transfer.LinkedinShareResponse
	if err := json.NewDecoder(resp.Body).Decode(&shareResponse); err != nil {
		return nil, fmt.Errorf("failed to decode share response: %w", err)
	}

	postID := shareResponse.ID
	if postID == "" {
		postID = resp.Header.Get("X-RestLi-Id")
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: postID,
	}, nil
}

func linkedinAPIError(resp *http.Response) error {
	body := readBody(resp)

	var errorResponse transfer.LinkedinErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Message != "" {
		return fmt.Errorf("linkedin: %s", errorResponse.Message)
	}
	return fmt.Errorf("linkedin: %s", strings.TrimSpace(string(body)))
}
