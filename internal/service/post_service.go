package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postpilotapp/postpilot/internal/models"
	"github.com/postpilotapp/postpilot/internal/repository"
	"github.com/postpilotapp/postpilot/internal/transfer"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	posts repository.PostRepository
	r2    *R2Service
}

func NewPostService(posts repository.PostRepository, r2 *R2Service) PostService {
	return &postService{
		posts: posts,
		r2:    r2,
	}
}

var validPlatforms = map[models.Platform]bool{
	models.PlatformTwitter:   true,
	models.PlatformLinkedin:  true,
	models.PlatformFacebook:  true,
	models.PlatformInstagram: true,
	models.PlatformTiktok:    true,
	models.PlatformYoutube:   true,
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error) {
	if pc == nil {
		return 0, errors.New("post creation data is nil")
	}
	if pc.Content == "" {
		return 0, errors.New("content cannot be empty")
	}

	platform := models.Platform(pc.Platform)
	if !validPlatforms[platform] {
		return 0, fmt.Errorf("unknown platform: %s", pc.Platform)
	}

	scheduledFor, err := time.Parse("2006-01-02T15:04", pc.ScheduledFor)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduled time format: %w", err)
	}

	mediaURLs, err := s.storeFiles(ctx, files)
	if err != nil {
		return 0, err
	}

	post := models.Post{
		UserID:       userID,
		Platform:     platform,
		Content:      pc.Content,
		MediaURLs:    mediaURLs,
		ScheduledFor: scheduledFor,
		Status:       models.PostStatusScheduled,
	}

	postID, err := s.posts.Create(ctx, nil, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	return postID, nil
}

func (s *postService) storeFiles(ctx context.Context, files []*multipart.FileHeader) ([]string, error) {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	var mediaURLs []string
	for _, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening file: %w", err)
		}

		fileBytes, err := io.ReadAll(fileContent)
		fileContent.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return nil, errors.New("unsupported file type")
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return nil, fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		key, err := gonanoid.New()
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}

		if err := s.r2.Upload(ctx, key, fileBytes, fileType.MIME.Value); err != nil {
			return nil, fmt.Errorf("error uploading file: %w", err)
		}

		mediaURLs = append(mediaURLs, s.r2.PublicURL(key))
	}
	return mediaURLs, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	if userID == 0 {
		return nil, errors.New("user id is not valid")
	}
	return s.posts.GetByUserID(ctx, userID)
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil || post.UserID != userID {
		return errors.New("post doesn't exist")
	}
	return s.posts.Remove(ctx, postID)
}
