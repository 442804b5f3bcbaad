package service

import (
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

const facebookAuthURL = "https://www.facebook.com/v21.0/dialog/oauth"

// ErrNoPages is returned when the connected Facebook account administers no
// pages; publishing has nowhere to go.
var ErrNoPages = errors.New("No Facebook pages connected")

type FacebookService interface {
	PlatformAdapter
	// ListPages returns the pages the user administers, including any
	// linked Instagram business account. The Instagram adapter reuses it.
	ListPages(ctx context.Context, accessToken string) ([]transfer.FacebookPage, error)
}

type facebookService struct {
	cfg          config.Config
	graphBaseURL string
	client       *http.Client
}

func NewFacebookService(cfg config.Config) FacebookService {
	return &facebookService{
		cfg:          cfg,
		graphBaseURL: "https://graph.facebook.com/v21.0",
		client:       http.DefaultClient,
	}
}

func (s *facebookService) GetAuthorizationURL(state string) string {
	params := url.Values{}
	params.Add("client_id", s.cfg.FacebookClientID)
	params.Add("redirect_uri", s.cfg.FacebookRedirectURI)
	params.Add("scope", "pages_show_list,pages_manage_posts,instagram_basic,instagram_content_publish")
	params.Add("response_type", "code")
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", facebookAuthURL, params.Encode())
}

func (s *facebookService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.New("code is empty")
	}

	params := url.Values{}
	params.Set("client_id", s.cfg.FacebookClientID)
	params.Set("client_secret", s.cfg.FacebookClientSecret)
	params.Set("redirect_uri", s.cfg.FacebookRedirectURI)
	params.Set("code", code)

	return s.tokenRequest(ctx, params)
}

// RefreshAccessToken exchanges the current long-lived token for a fresh one.
// Facebook has no refresh-token grant; the token itself is the refresh
// credential.
func (s *facebookService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", s.cfg.FacebookClientID)
	params.Set("client_secret", s.cfg.FacebookClientSecret)
	params.Set("fb_exchange_token", refreshToken)

	return s.tokenRequest(ctx, params)
}

func (s *facebookService) tokenRequest(ctx context.Context, params url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.graphBaseURL+"/oauth/access_token?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, facebookAPIError(resp)
	}

	var tokenResponse transfer.FacebookTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenPair{
		AccessToken: tokenResponse.AccessToken,
		// The long-lived token doubles as the refresh credential.
		RefreshToken: tokenResponse.AccessToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (s *facebookService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	reqURL := fmt.Sprintf("%s/me?fields=id,name,picture&access_token=%s", s.graphBaseURL, url.QueryEscape(accessToken))

	resp, err := s.client.Get(reqURL)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, facebookAPIError(resp)
	}

	var user transfer.FacebookUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	return &AccountInfo{
		ID:      user.ID,
		Name:    user.Name,
		Picture: user.Picture.Data.URL,
	}, nil
}

func (s *facebookService) ListPages(ctx context.Context, accessToken string) ([]transfer.FacebookPage, error) {
	reqURL := fmt.Sprintf("%s/me/accounts?fields=id,name,access_token,instagram_business_account&access_token=%s",
		s.graphBaseURL, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, facebookAPIError(resp)
	}

	var pagesResponse transfer.FacebookPagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&pagesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode pages response: %w", err)
	}

	return pagesResponse.Data, nil
}

// Publish posts to the first connected page's feed, or to its photos
// endpoint when the post carries media. The two request shapes are mutually
// exclusive: message-only to /feed, url+caption to /photos.
func (s *facebookService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	pages, err := s.ListPages(ctx, req.AccessToken)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	page := pages[0]

	var endpoint string
	form := url.Values{}
	if len(req.Post.MediaURLs) > 0 {
		endpoint = fmt.Sprintf("%s/%s/photos", s.graphBaseURL, page.ID)
		form.Set("url", req.Post.MediaURLs[0])
		form.Set("caption", req.Post.Content)
	} else {
		endpoint = fmt.Sprintf("%s/%s/feed", s.graphBaseURL, page.ID)
		form.Set("message", req.Post.Content)
	}
	form.Set("access_token", page.AccessToken)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, facebookAPIError(resp)
	}

	var postResponse transfer.FacebookPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&postResponse); err != nil {
		return nil, fmt.Errorf("failed to decode post response: %w", err)
	}

	postID := postResponse.PostID
	if postID == "" {
		postID = postResponse.ID
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: postID,
	}, nil
}

func facebookAPIError(resp *http.Response) error {
	body := readBody(resp)

	var errorResponse transfer.FacebookErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		return fmt.Errorf("facebook: %s", errorResponse.Error.Message)
	}
	return fmt.Errorf("facebook: %s", strings.TrimSpace(string(body)))
}
