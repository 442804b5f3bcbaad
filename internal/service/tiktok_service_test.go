package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	config "github.com/postpilotapp/postpilot/configs"
	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tiktokTestServer records the calls the publish flow makes and serves
// scripted responses for each endpoint.
type tiktokTestServer struct {
	mu            sync.Mutex
	server        *httptest.Server
	initRequest   transfer.TiktokInitRequest
	chunkRanges   []string
	chunkBodies   [][]byte
	statusPolls   int
	statusHandler func(poll int) (status, failReason string)
}

func newTiktokTestServer(t *testing.T) *tiktokTestServer {
	ts := &tiktokTestServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		defer ts.mu.Unlock()

		switch r.URL.Path {
		case "/v2/post/publish/video/init/":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ts.initRequest))
			fmt.Fprintf(w, `{"data":{"publish_id":"pub-42","upload_url":"%s/upload"}}`, ts.server.URL)

		case "/upload":
			body := new(bytes.Buffer)
			body.ReadFrom(r.Body)
			ts.chunkRanges = append(ts.chunkRanges, r.Header.Get("Content-Range"))
			ts.chunkBodies = append(ts.chunkBodies, body.Bytes())
			w.WriteHeader(http.StatusCreated)

		case "/v2/post/publish/status/fetch/":
			ts.statusPolls++
			status, failReason := "PROCESSING_UPLOAD", ""
			if ts.statusHandler != nil {
				status, failReason = ts.statusHandler(ts.statusPolls)
			}
			fmt.Fprintf(w, `{"data":{"status":"%s","fail_reason":"%s"}}`, status, failReason)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return ts
}

func newTestTiktokService(serverURL string) *tiktokService {
	return &tiktokService{
		cfg:          config.Config{TiktokClientKey: "key", TiktokClientSecret: "secret"},
		apiBaseURL:   serverURL,
		client:       http.DefaultClient,
		pollInterval: time.Millisecond,
		maxPolls:     3,
	}
}

func tiktokPublishRequest(videoSize int) *PublishRequest {
	data := bytes.Repeat([]byte("v"), videoSize)
	return &PublishRequest{
		Post:        &models.Post{ID: 1, Platform: models.PlatformTiktok, Content: "my video"},
		Connection:  &models.PlatformConnection{Platform: models.PlatformTiktok},
		AccessToken: "token",
		Media:       []Media{{URL: "https://cdn.example.com/v.mp4", ContentType: "video/mp4", Data: data}},
	}
}

func TestTiktokPublishComplete(t *testing.T) {
	ts := newTiktokTestServer(t)
	defer ts.server.Close()
	ts.statusHandler = func(poll int) (string, string) {
		return "PUBLISH_COMPLETE", ""
	}

	s := newTestTiktokService(ts.server.URL)
	result, err := s.Publish(context.Background(), tiktokPublishRequest(100))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "pub-42", result.PlatformPostID)
	assert.Equal(t, "my video", ts.initRequest.PostInfo.Title)
	assert.Equal(t, "FILE_UPLOAD", ts.initRequest.SourceInfo.Source)
	assert.Equal(t, int64(100), ts.initRequest.SourceInfo.VideoSize)
	assert.Equal(t, 1, ts.initRequest.SourceInfo.TotalChunkCount)
	assert.Equal(t, []string{"bytes 0-99/100"}, ts.chunkRanges)
}

func TestTiktokPublishChunking(t *testing.T) {
	ts := newTiktokTestServer(t)
	defer ts.server.Close()
	ts.statusHandler = func(poll int) (string, string) {
		return "PUBLISH_COMPLETE", ""
	}

	s := newTestTiktokService(ts.server.URL)

	// Two full chunks plus a 1MB remainder.
	videoSize := int(2*tiktokChunkSize) + 1024*1024
	result, err := s.Publish(context.Background(), tiktokPublishRequest(videoSize))
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, 3, ts.initRequest.SourceInfo.TotalChunkCount)
	require.Len(t, ts.chunkRanges, 3)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", tiktokChunkSize-1, videoSize), ts.chunkRanges[0])
	assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", tiktokChunkSize, 2*tiktokChunkSize-1, videoSize), ts.chunkRanges[1])
	assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", 2*tiktokChunkSize, videoSize-1, videoSize), ts.chunkRanges[2])

	var total int
	for _, chunk := range ts.chunkBodies {
		total += len(chunk)
	}
	assert.Equal(t, videoSize, total)
}

func TestTiktokPublishFailedStatus(t *testing.T) {
	ts := newTiktokTestServer(t)
	defer ts.server.Close()
	ts.statusHandler = func(poll int) (string, string) {
		return "FAILED", "video_too_long"
	}

	s := newTestTiktokService(ts.server.URL)
	_, err := s.Publish(context.Background(), tiktokPublishRequest(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video_too_long")
}

func TestTiktokPublishOptimisticTimeout(t *testing.T) {
	ts := newTiktokTestServer(t)
	defer ts.server.Close()
	// Never reaches a terminal status.

	s := newTestTiktokService(ts.server.URL)
	result, err := s.Publish(context.Background(), tiktokPublishRequest(100))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "pub-42", result.PlatformPostID)
	assert.Equal(t, s.maxPolls, ts.statusPolls)
}

func TestTiktokPublishRequiresVideoBytes(t *testing.T) {
	s := newTestTiktokService("http://unused.invalid")

	req := tiktokPublishRequest(0)
	req.Media[0].Data = nil
	_, err := s.Publish(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video bytes")
}

func TestTiktokAuthorizationURL(t *testing.T) {
	s := newTestTiktokService("http://unused.invalid")

	authURL := s.GetAuthorizationURL("state-123")
	assert.Contains(t, authURL, "client_key=key")
	assert.Contains(t, authURL, "state=state-123")
	assert.Contains(t, authURL, "video.publish")
}
