package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })
	return db
}

func TestLedgerGetOrCreate(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(openTestDB(t), 10)

	acct, err := l.GetOrCreate(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, acct.Points)
	assert.Equal(t, "u1@example.com", acct.Email)

	_, err = l.Deduct(ctx, "u1", 3)
	require.NoError(t, err)

	again, err := l.GetOrCreate(ctx, "u1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, 7, again.Points)
	assert.Equal(t, "u1@example.com", again.Email)
}

func TestLedgerDeduct(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(openTestDB(t), 2)
	_, err := l.GetOrCreate(ctx, "u1", "u1@example.com")
	require.NoError(t, err)

	remaining, err := l.Deduct(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = l.Deduct(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = l.Deduct(ctx, "u1", 1)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	acct, err := l.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.Points)
}

func TestLedgerDeductRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(openTestDB(t), 5)

	_, err := l.Deduct(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = l.Deduct(ctx, "ghost", 0)
	assert.Error(t, err)
}

func TestLedgerConcurrentDeductNeverOverspends(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(openTestDB(t), 5)
	_, err := l.GetOrCreate(ctx, "u1", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, refused := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Deduct(ctx, "u1", 1)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrInsufficientPoints) {
				refused++
			} else if err == nil {
				ok++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 7, refused)
}

func TestLedgerAddPoints(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(openTestDB(t), 10)

	total, err := l.AddPoints(ctx, "new-user", 10)
	require.NoError(t, err)
	assert.Equal(t, 20, total)

	total, err = l.AddPoints(ctx, "new-user", 10)
	require.NoError(t, err)
	assert.Equal(t, 30, total)

	_, err = l.AddPoints(ctx, "new-user", -1)
	assert.Error(t, err)
}

func TestImageStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewGormImageStore(openTestDB(t))
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertImage(ctx, &SavedImage{
			ID: id, UserID: "u1", ImageURL: "http://x/" + id, Caption: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.InsertImage(ctx, &SavedImage{ID: "z", UserID: "u2", ImageURL: "http://x/z", CreatedAt: base}))

	images, err := s.ListImages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{images[0].ID, images[1].ID, images[2].ID})
}

func TestImageStoreDeleteScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewGormImageStore(openTestDB(t))
	require.NoError(t, s.InsertImage(ctx, &SavedImage{ID: "a", UserID: "u1", ImageURL: "http://x/a", CreatedAt: time.Now()}))

	assert.ErrorIs(t, s.DeleteImage(ctx, "u2", "a"), ErrImageNotFound)
	require.NoError(t, s.DeleteImage(ctx, "u1", "a"))
	assert.ErrorIs(t, s.DeleteImage(ctx, "u1", "a"), ErrImageNotFound)

	images, err := s.ListImages(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestUserLanguageUpsert(t *testing.T) {
	db := openTestDB(t)

	_, err := GetUserSettings(db, 42)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, SetUserLanguage(db, 42, "zh"))
	require.NoError(t, SetUserLanguage(db, 42, "en"))

	settings, err := GetUserSettings(db, 42)
	require.NoError(t, err)
	assert.Equal(t, "en", settings.Language)
}

func TestPgImageStore(t *testing.T) {
	dsn := os.Getenv("STORYBOARDER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STORYBOARDER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPgImageStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	id := "test-" + time.Now().Format("150405.000000")
	require.NoError(t, s.InsertImage(ctx, &SavedImage{ID: id, UserID: "pg-user", ImageURL: "http://x", CreatedAt: time.Now()}))
	images, err := s.ListImages(ctx, "pg-user")
	require.NoError(t, err)
	assert.NotEmpty(t, images)
	require.NoError(t, s.DeleteImage(ctx, "pg-user", id))
	assert.ErrorIs(t, s.DeleteImage(ctx, "pg-user", id), ErrImageNotFound)
}
