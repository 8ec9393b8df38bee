package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS saved_images (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		image_url  TEXT NOT NULL,
		caption    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saved_images_user_created ON saved_images (user_id, created_at DESC)`,
}

// PgImageStore keeps saved-image records in Postgres, for deployments that share
// the gallery table with other services.
type PgImageStore struct {
	pool *pgxpool.Pool
}

// OpenPgImageStore connects and makes sure the table exists.
func OpenPgImageStore(ctx context.Context, dsn string) (*PgImageStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	for _, stmt := range pgMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate saved_images: %w\nSQL: %s", err, stmt)
		}
	}
	return &PgImageStore{pool: pool}, nil
}

func (s *PgImageStore) Close() {
	s.pool.Close()
}

func (s *PgImageStore) InsertImage(ctx context.Context, img *SavedImage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO saved_images (id, user_id, image_url, caption, created_at) VALUES ($1, $2, $3, $4, $5)`,
		img.ID, img.UserID, img.ImageURL, img.Caption, img.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert saved image: %w", err)
	}
	return nil
}

func (s *PgImageStore) ListImages(ctx context.Context, userID string) ([]SavedImage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, image_url, caption, created_at FROM saved_images WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved images: %w", err)
	}
	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SavedImage, error) {
		var img SavedImage
		err := row.Scan(&img.ID, &img.UserID, &img.ImageURL, &img.Caption, &img.CreatedAt)
		return img, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan saved images: %w", err)
	}
	return images, nil
}

func (s *PgImageStore) DeleteImage(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM saved_images WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete saved image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}
