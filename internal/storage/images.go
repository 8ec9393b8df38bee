package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrImageNotFound = errors.New("saved image not found")

// GormImageStore keeps saved-image records in the SQLite database.
type GormImageStore struct {
	db *gorm.DB
}

func NewGormImageStore(db *gorm.DB) *GormImageStore {
	return &GormImageStore{db: db}
}

func (s *GormImageStore) InsertImage(ctx context.Context, img *SavedImage) error {
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("failed to insert saved image: %w", err)
	}
	return nil
}

// ListImages returns the user's images, newest first.
func (s *GormImageStore) ListImages(ctx context.Context, userID string) ([]SavedImage, error) {
	var images []SavedImage
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list saved images: %w", err)
	}
	return images, nil
}

// DeleteImage removes one of the user's records. Another user's id is reported as not found.
func (s *GormImageStore) DeleteImage(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&SavedImage{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete saved image: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrImageNotFound
	}
	return nil
}
