package storyboard

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"go.uber.org/zap"
)

// maxImageBytes bounds a single downloaded panel.
const maxImageBytes = 20 << 20

// BlobStore stores image bytes under a key and returns their public URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// RecordStore persists saved-image records.
type RecordStore interface {
	InsertImage(ctx context.Context, img *storage.SavedImage) error
	ListImages(ctx context.Context, userID string) ([]storage.SavedImage, error)
	DeleteImage(ctx context.Context, userID, id string) error
}

// Gateway saves finished panels to the user's gallery.
type Gateway struct {
	blobs      BlobStore
	records    RecordStore
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewGateway(blobs BlobStore, records RecordStore, httpClient *http.Client, logger *zap.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		blobs:      blobs,
		records:    records,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// BlobKey is the storage key for a saved panel, namespaced by owner.
func BlobKey(userID, sceneID string, at time.Time) string {
	return fmt.Sprintf("%s/%d-%s.png", userID, at.UnixMilli(), sceneID)
}

// Save uploads the panel image and then writes its record. Saving the same scene
// twice creates two records. Nothing touches the network when preconditions fail.
func (g *Gateway) Save(ctx context.Context, scene Scene, userID string) (*storage.SavedImage, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if !scene.HasImage() {
		return nil, fmt.Errorf("save %q: %w", scene.ID, ErrNoImage)
	}

	now := g.now()
	key := BlobKey(userID, scene.ID, now)

	data, contentType, err := g.fetch(ctx, scene.ImageURL)
	if err != nil {
		return nil, &UploadError{Key: key, Err: err}
	}
	publicURL, err := g.blobs.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, &UploadError{Key: key, Err: err}
	}

	rec := &storage.SavedImage{
		ID:        uuid.NewString(),
		UserID:    userID,
		ImageURL:  publicURL,
		Caption:   scene.Description,
		CreatedAt: now.UTC(),
	}
	if err := g.records.InsertImage(ctx, rec); err != nil {
		// blob 已上传但记录写入失败，blob 成为孤儿
		g.logger.Warn("record insert failed after upload", zap.String("key", key), zap.Error(err))
		return nil, &WriteError{Op: "insert", Err: err}
	}
	g.logger.Info("panel saved", zap.String("user_id", userID), zap.String("record_id", rec.ID), zap.String("key", key))
	return rec, nil
}

// List returns the user's saved images, newest first.
func (g *Gateway) List(ctx context.Context, userID string) ([]storage.SavedImage, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	images, err := g.records.ListImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved images: %w", err)
	}
	return images, nil
}

// Delete removes the record only; the blob it points to is left in place.
func (g *Gateway) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := g.records.DeleteImage(ctx, userID, id); err != nil {
		return &WriteError{Op: "delete", Err: err}
	}
	g.logger.Info("saved image deleted", zap.String("user_id", userID), zap.String("record_id", id))
	return nil
}

// fetch reads the panel bytes from an http(s) or data: URL.
func (g *Gateway) fetch(ctx context.Context, src string) ([]byte, string, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("image download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("image exceeds size limit")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func decodeDataURL(src string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, "", errors.New("invalid data url")
	}
	contentType := "image/png"
	if mt, _, _ := strings.Cut(meta, ";"); mt != "" {
		contentType = mt
	}
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, contentType, nil
}
