package storyboard

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type memBlobs struct {
	mu    sync.Mutex
	puts  map[string][]byte
	err   error
	calls int
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[key] = data
	return "https://blobs.example/" + key, nil
}

type memRecords struct {
	mu        sync.Mutex
	images    []storage.SavedImage
	insertErr error
	calls     int
}

func (m *memRecords) InsertImage(ctx context.Context, img *storage.SavedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.images = append(m.images, *img)
	return nil
}

func (m *memRecords) ListImages(ctx context.Context, userID string) ([]storage.SavedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []storage.SavedImage
	for _, img := range m.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRecords) DeleteImage(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for i, img := range m.images {
		if img.ID == id && img.UserID == userID {
			m.images = append(m.images[:i], m.images[i+1:]...)
			return nil
		}
	}
	return storage.ErrImageNotFound
}

func imageServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		if strings.HasSuffix(r.URL.Path, "/missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(blobs *memBlobs, records *memRecords) *Gateway {
	g := NewGateway(blobs, records, nil, nil)
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return g
}

func TestSaveWithoutImageMakesNoCalls(t *testing.T) {
	hits := 0
	imageServer(t, &hits)
	blobs, records := &memBlobs{}, &memRecords{}
	g := newTestGateway(blobs, records)

	_, err := g.Save(context.Background(), Scene{ID: "s1", Description: "d", Status: StatusFailed}, "u1")
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = g.Save(context.Background(), Scene{ID: "s1", ImageURL: "http://x"}, "")
	assert.ErrorIs(t, err, ErrNoUser)

	assert.Zero(t, hits)
	assert.Zero(t, blobs.calls)
	assert.Zero(t, records.calls)
}

func TestSaveUploadsThenWrites(t *testing.T) {
	srv := imageServer(t, nil)
	blobs, records := &memBlobs{}, &memRecords{}
	g := newTestGateway(blobs, records)

	rec, err := g.Save(context.Background(), Scene{ID: "s1", Description: "a knight", ImageURL: srv.URL + "/a.png"}, "u1")
	require.NoError(t, err)

	assert.Contains(t, blobs.puts, "u1/1700000000000-s1.png")
	assert.Equal(t, "https://blobs.example/u1/1700000000000-s1.png", rec.ImageURL)
	assert.Equal(t, "a knight", rec.Caption)
	assert.Equal(t, "u1", rec.UserID)
	assert.NotEmpty(t, rec.ID)
	require.Len(t, records.images, 1)
}

func TestSaveIsNotDeduplicated(t *testing.T) {
	srv := imageServer(t, nil)
	records := &memRecords{}
	g := NewGateway(&memBlobs{}, records, nil, nil)
	scene := Scene{ID: "s1", ImageURL: srv.URL + "/a.png"}

	first, err := g.Save(context.Background(), scene, "u1")
	require.NoError(t, err)
	second, err := g.Save(context.Background(), scene, "u1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, records.images, 2)
}

func TestSaveErrors(t *testing.T) {
	srv := imageServer(t, nil)

	t.Run("download fails", func(t *testing.T) {
		records := &memRecords{}
		g := newTestGateway(&memBlobs{}, records)
		_, err := g.Save(context.Background(), Scene{ID: "s1", ImageURL: srv.URL + "/missing.png"}, "u1")
		var ue *UploadError
		require.True(t, errors.As(err, &ue))
		assert.Zero(t, records.calls)
	})

	t.Run("blob store fails", func(t *testing.T) {
		records := &memRecords{}
		g := newTestGateway(&memBlobs{err: errors.New("bucket gone")}, records)
		_, err := g.Save(context.Background(), Scene{ID: "s1", ImageURL: srv.URL + "/a.png"}, "u1")
		var ue *UploadError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, "u1/1700000000000-s1.png", ue.Key)
		assert.Zero(t, records.calls, "no record without a blob")
	})

	t.Run("record write fails", func(t *testing.T) {
		blobs := &memBlobs{}
		g := newTestGateway(blobs, &memRecords{insertErr: errors.New("constraint")})
		_, err := g.Save(context.Background(), Scene{ID: "s1", ImageURL: srv.URL + "/a.png"}, "u1")
		var we *WriteError
		require.True(t, errors.As(err, &we))
		assert.Equal(t, "insert", we.Op)
		assert.Len(t, blobs.puts, 1, "blob stays orphaned")
	})
}

func TestSaveFromDataURL(t *testing.T) {
	blobs := &memBlobs{}
	g := newTestGateway(blobs, &memRecords{})
	payload := base64.StdEncoding.EncodeToString([]byte("raw-png"))

	_, err := g.Save(context.Background(), Scene{ID: "s1", ImageURL: "data:image/png;base64," + payload}, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-png"), blobs.puts["u1/1700000000000-s1.png"])

	_, err = g.Save(context.Background(), Scene{ID: "s2", ImageURL: "data:image/png;base64,%%%"}, "u1")
	var ue *UploadError
	assert.True(t, errors.As(err, &ue))
}

func TestGalleryDeleteClosesPreview(t *testing.T) {
	ctx := context.Background()
	records := &memRecords{images: []storage.SavedImage{
		{ID: "old", UserID: "u1", CreatedAt: time.Unix(100, 0)},
		{ID: "new", UserID: "u1", CreatedAt: time.Unix(200, 0)},
	}}
	gal := NewGallery(NewGateway(&memBlobs{}, records, nil, nil), "u1")

	images, err := gal.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", images[0].ID)

	_, ok := gal.Open("old")
	require.True(t, ok)
	require.NoError(t, gal.Delete(ctx, "new"))
	p, ok := gal.Preview()
	assert.True(t, ok, "deleting another image keeps the preview")
	assert.Equal(t, "old", p.ID)

	require.NoError(t, gal.Delete(ctx, "old"))
	_, ok = gal.Preview()
	assert.False(t, ok)
	assert.Empty(t, gal.Images())

	images, err = gal.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestGalleryDeleteFailure(t *testing.T) {
	gal := NewGallery(NewGateway(&memBlobs{}, &memRecords{}, nil, nil), "u1")
	err := gal.Delete(context.Background(), "ghost")
	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.ErrorIs(t, err, storage.ErrImageNotFound)
}

func TestSaveTrackerClearsErrors(t *testing.T) {
	tracker := NewSaveTracker(newTestGateway(&memBlobs{err: errors.New("down")}, &memRecords{}), 30*time.Millisecond)
	defer tracker.Stop()
	srv := imageServer(t, nil)

	assert.Equal(t, SaveIdle, tracker.Status("s1").State)
	_, err := tracker.Save(context.Background(), Scene{ID: "s1", ImageURL: srv.URL + "/a.png"}, "u1")
	require.Error(t, err)

	st := tracker.Status("s1")
	assert.Equal(t, SaveError, st.State)
	assert.Error(t, st.Err)

	assert.Eventually(t, func() bool {
		return tracker.Status("s1").State == SaveIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSaveTrackerSaved(t *testing.T) {
	srv := imageServer(t, nil)
	tracker := NewSaveTracker(newTestGateway(&memBlobs{}, &memRecords{}), 0)
	_, err := tracker.Save(context.Background(), Scene{ID: "s1", ImageURL: srv.URL + "/a.png"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, SaveSaved, tracker.Status("s1").State)
}

func TestExport(t *testing.T) {
	srv := imageServer(t, nil)
	g := newTestGateway(&memBlobs{}, &memRecords{})
	dir := filepath.Join(t.TempDir(), "out")

	m, err := g.Export(context.Background(), "dragon", []Scene{
		{ID: "a", Description: "one", ImageURL: srv.URL + "/a.png", Status: StatusSucceeded},
		{ID: "b", Description: "two", Status: StatusFailed, Error: "timeout"},
	}, dir)
	require.NoError(t, err)
	require.Len(t, m.Panels, 2)
	assert.Equal(t, "panel-1.png", m.Panels[0].File)
	assert.Empty(t, m.Panels[1].File)
	assert.FileExists(t, filepath.Join(dir, "panel-1.png"))

	raw, err := os.ReadFile(filepath.Join(dir, "storyboard.yaml"))
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, "dragon", back.Title)
	assert.Equal(t, StatusFailed, back.Panels[1].Status)
	assert.Equal(t, "timeout", back.Panels[1].Error)
}
