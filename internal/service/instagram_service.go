package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/transfer"
)

// ErrNoInstagramAccount is returned when none of the user's Facebook pages
// has a linked Instagram business account.
var ErrNoInstagramAccount = errors.New("No Instagram business account linked to your Facebook pages")

type InstagramService interface {
	PlatformAdapter
}

// instagramService publishes through the Facebook graph. OAuth, refresh and
// page resolution are shared with the Facebook adapter; only the container
// protocol is Instagram-specific.
type instagramService struct {
	cfg          config.Config
	fb           FacebookService
	graphBaseURL string
	client       *http.Client
}

func NewInstagramService(cfg config.Config, fb FacebookService) InstagramService {
	return &instagramService{
		cfg:          cfg,
		fb:           fb,
		graphBaseURL: "https://graph.facebook.com/v21.0",
		client:       http.DefaultClient,
	}
}

func (s *instagramService) GetAuthorizationURL(state string) string {
	return s.fb.GetAuthorizationURL(state)
}

func (s *instagramService) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenPair, error) {
	return s.fb.ExchangeCodeForTokens(ctx, code)
}

func (s *instagramService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.fb.RefreshAccessToken(ctx, refreshToken)
}

func (s *instagramService) GetUser(ctx context.Context, accessToken string) (*AccountInfo, error) {
	return s.fb.GetUser(ctx, accessToken)
}

// Publish runs the two-step container protocol: create a media container
// from the image URL and caption, then publish the confirmed container by
// id. The publish call never happens without a container id in hand.
func (s *instagramService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	igUserID, err := s.resolveBusinessAccount(ctx, req.AccessToken)
	if err != nil {
		return nil, err
	}

	containerID, err := s.createContainer(ctx, igUserID, req.Post.MediaURLs[0], req.Post.Content, req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("container creation failed: %w", err)
	}
	if containerID == "" {
		return nil, errors.New("instagram returned no container id")
	}

	mediaID, err := s.publishContainer(ctx, igUserID, containerID, req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("container publish failed: %w", err)
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: mediaID,
	}, nil
}

func (s *instagramService) resolveBusinessAccount(ctx context.Context, accessToken string) (string, error) {
	pages, err := s.fb.ListPages(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", ErrNoPages
	}

	for _, page := range pages {
		if page.InstagramBusinessAccount != nil && page.InstagramBusinessAccount.ID != "" {
			return page.InstagramBusinessAccount.ID, nil
		}
	}
	return "", ErrNoInstagramAccount
}

func (s *instagramService) createContainer(ctx context.Context, igUserID, imageURL, caption, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", s.graphBaseURL, igUserID)

	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", accessToken)

	var container transfer.InstagramContainerResponse
	if err := s.graphPost(ctx, endpoint, form, &container); err != nil {
		return "", err
	}
	return container.ID, nil
}

func (s *instagramService) publishContainer(ctx context.Context, igUserID, containerID, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", s.graphBaseURL, igUserID)

	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", accessToken)

	var published transfer.InstagramPublishResponse
	if err := s.graphPost(ctx, endpoint, form, &published); err != nil {
		return "", err
	}
	return published.ID, nil
}

func (s *instagramService) graphPost(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return facebookAPIError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
