package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/service"
)

// mediaRequired lists the platforms that cannot publish without at least
// one attachment.
var mediaRequired = map[models.Platform]bool{
	models.PlatformInstagram: true,
	models.PlatformTiktok:    true,
	models.PlatformYoutube:   true,
}

// mediaFetched lists the platforms whose adapters consume raw bytes rather
// than URLs; the dispatcher downloads those up front.
var mediaFetched = map[models.Platform]bool{
	models.PlatformTiktok:  true,
	models.PlatformYoutube: true,
}

// Dispatcher routes one post to its platform adapter and normalizes every
// heterogeneous outcome into a PublishResult. Adapter errors stop here;
// nothing propagates to the queue processor as an error.
type Dispatcher struct {
	adapters map[models.Platform]service.PlatformAdapter
	vault    *TokenVault
	client   *http.Client
}

func NewDispatcher(adapters map[models.Platform]service.PlatformAdapter, vault *TokenVault) *Dispatcher {
	return &Dispatcher{
		adapters: adapters,
		vault:    vault,
		client:   http.DefaultClient,
	}
}

func failure(format string, args ...interface{}) *service.PublishResult {
	return &service.PublishResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Dispatch runs one publish attempt end to end: precondition checks, token
// resolution, media fetch, adapter call. It always returns a result, never
// an error.
func (d *Dispatcher) Dispatch(ctx context.Context, post *models.Post, conn *models.PlatformConnection) *service.PublishResult {
	adapter, ok := d.adapters[post.Platform]
	if !ok {
		return failure("unsupported platform: %s", post.Platform)
	}

	// Fail fast before any network call when the platform needs media the
	// post doesn't have.
	if mediaRequired[post.Platform] && len(post.MediaURLs) == 0 {
		return failure("%s posts require at least one media attachment", post.Platform)
	}

	accessToken, err := d.vault.EnsureFreshToken(ctx, conn)
	if err != nil {
		return failure("%s", err.Error())
	}

	req := &service.PublishRequest{
		Post:        post,
		Connection:  conn,
		AccessToken: accessToken,
	}

	// Twitter signs its media upload with OAuth 1.0a; hand over the
	// decrypted token secret when the connection carries one.
	if conn.TokenSecret != "" {
		secret, err := d.vault.Decrypt(conn.TokenSecret)
		if err != nil {
			return failure("failed to decrypt token secret: %s", err.Error())
		}
		req.TokenSecret = secret
	}

	if mediaFetched[post.Platform] {
		media, err := d.fetchMedia(ctx, post.MediaURLs)
		if err != nil {
			return failure("%s", err.Error())
		}
		req.Media = media
	} else {
		for _, mediaURL := range post.MediaURLs {
			req.Media = append(req.Media, service.Media{URL: mediaURL})
		}
	}

	result, err := adapter.Publish(ctx, req)
	if err != nil {
		return failure("%s", err.Error())
	}
	return result
}

func (d *Dispatcher) fetchMedia(ctx context.Context, urls []string) ([]service.Media, error) {
	media := make([]service.Media, 0, len(urls))
	for _, mediaURL := range urls {
		req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid media URL %s: %w", mediaURL, err)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch media %s: %w", mediaURL, err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch media %s: status %d", mediaURL, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read media %s: %w", mediaURL, err)
		}

		media = append(media, service.Media{
			URL:         mediaURL,
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return media, nil
}
