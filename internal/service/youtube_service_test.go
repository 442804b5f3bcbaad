package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/youtube/v3"
)

func TestVideoMetadata(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		title       string
		description string
		tags        []string
	}{
		{
			name:    "single line",
			content: "My vacation video",
			title:   "My vacation video",
		},
		{
			name:        "title and description",
			content:     "Trip highlights\nThe best moments from our trip.\nMore below.",
			title:       "Trip highlights",
			description: "The best moments from our trip.\nMore below.",
		},
		{
			name:    "hashtags become tags",
			content: "Morning run #fitness #running\nKeeping the streak alive #motivation",
			title:   "Morning run #fitness #running",
			tags:    []string{"fitness", "running", "motivation"},
		},
		{
			name:    "long title truncated",
			content: strings.Repeat("a", 150),
			title:   strings.Repeat("a", 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := videoMetadata(tt.content)
			assert.Equal(t, tt.title, video.Snippet.Title)
			assert.Equal(t, tt.description, video.Snippet.Description)
			assert.Equal(t, tt.tags, video.Snippet.Tags)
			assert.Equal(t, "22", video.Snippet.CategoryId)
			assert.Equal(t, "public", video.Status.PrivacyStatus)
		})
	}
}

func TestVideoMetadataTruncatesOnRunes(t *testing.T) {
	content := strings.Repeat("日", 150)
	video := videoMetadata(content)
	assert.Equal(t, strings.Repeat("日", 100), video.Snippet.Title)
}

func TestYoutubePublishResumableUpload(t *testing.T) {
	var initBody youtube.Video
	var uploadedBytes int
	var sawSessionToken bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/videos":
			assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
			assert.Equal(t, "snippet,status", r.URL.Query().Get("part"))
			assert.Equal(t, "Bearer yt-token", r.Header.Get("Authorization"))
			assert.Equal(t, "video/mp4", r.Header.Get("X-Upload-Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&initBody))

			w.Header().Set("Location", "http://"+r.Host+"/videos?upload_id=session-1")
			w.WriteHeader(http.StatusOK)

		case r.Method == "PUT" && r.URL.Path == "/videos":
			sawSessionToken = r.URL.Query().Get("upload_id") == "session-1"
			body := make([]byte, r.ContentLength)
			r.Body.Read(body)
			uploadedBytes = int(r.ContentLength)
			fmt.Fprint(w, `{"id":"vid-99","snippet":{"title":"Trip highlights"}}`)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	s := &youtubeService{
		cfg:           config.Config{GoogleClientID: "id", GoogleClientSecret: "secret"},
		uploadBaseURL: server.URL,
		client:        http.DefaultClient,
	}

	req := &PublishRequest{
		Post:        &models.Post{ID: 1, Platform: models.PlatformYoutube, Content: "Trip highlights\nBest moments."},
		Connection:  &models.PlatformConnection{Platform: models.PlatformYoutube},
		AccessToken: "yt-token",
		Media:       []Media{{ContentType: "video/mp4", Data: []byte("fake video bytes")}},
	}

	result, err := s.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "vid-99", result.PlatformPostID)
	assert.Equal(t, "Trip highlights", initBody.Snippet.Title)
	assert.Equal(t, "Best moments.", initBody.Snippet.Description)
	assert.True(t, sawSessionToken)
	assert.Equal(t, len("fake video bytes"), uploadedBytes)
}

func TestYoutubePublishInitFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"quotaExceeded"}}`)
	}))
	defer server.Close()

	s := &youtubeService{
		cfg:           config.Config{},
		uploadBaseURL: server.URL,
		client:        http.DefaultClient,
	}

	req := &PublishRequest{
		Post:        &models.Post{Content: "video"},
		Connection:  &models.PlatformConnection{},
		AccessToken: "yt-token",
		Media:       []Media{{Data: []byte("bytes")}},
	}

	_, err := s.Publish(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quotaExceeded")
}

func TestYoutubePublishRequiresVideoBytes(t *testing.T) {
	s := &youtubeService{cfg: config.Config{}, client: http.DefaultClient}

	req := &PublishRequest{
		Post:        &models.Post{Content: "video"},
		Connection:  &models.PlatformConnection{},
		AccessToken: "yt-token",
	}

	_, err := s.Publish(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video bytes")
}
