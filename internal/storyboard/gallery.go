package storyboard

import (
	"context"
	"sync"

	"github.com/nerdneilsfield/storyboarder/internal/storage"
)

// Gallery is a user's view over their saved images, with at most one open preview.
type Gallery struct {
	gateway *Gateway
	userID  string

	mu        sync.Mutex
	images    []storage.SavedImage
	previewID string
}

func NewGallery(gateway *Gateway, userID string) *Gallery {
	return &Gallery{gateway: gateway, userID: userID}
}

// Refresh reloads the list from the record store.
func (g *Gallery) Refresh(ctx context.Context) ([]storage.SavedImage, error) {
	images, err := g.gateway.List(ctx, g.userID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.images = images
	if g.previewID != "" && g.indexLocked(g.previewID) < 0 {
		g.previewID = ""
	}
	return append([]storage.SavedImage(nil), images...), nil
}

func (g *Gallery) Images() []storage.SavedImage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]storage.SavedImage(nil), g.images...)
}

// Open previews a listed image. Unknown ids leave the preview unchanged.
func (g *Gallery) Open(id string) (storage.SavedImage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.indexLocked(id)
	if i < 0 {
		return storage.SavedImage{}, false
	}
	g.previewID = id
	return g.images[i], true
}

func (g *Gallery) Close() {
	g.mu.Lock()
	g.previewID = ""
	g.mu.Unlock()
}

// Preview returns the open image, if any.
func (g *Gallery) Preview() (storage.SavedImage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.previewID == "" {
		return storage.SavedImage{}, false
	}
	i := g.indexLocked(g.previewID)
	if i < 0 {
		return storage.SavedImage{}, false
	}
	return g.images[i], true
}

// Delete removes the record, drops it from the list and closes the preview when it was open.
func (g *Gallery) Delete(ctx context.Context, id string) error {
	if err := g.gateway.Delete(ctx, g.userID, id); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if i := g.indexLocked(id); i >= 0 {
		g.images = append(g.images[:i], g.images[i+1:]...)
	}
	if g.previewID == id {
		g.previewID = ""
	}
	return nil
}

func (g *Gallery) indexLocked(id string) int {
	for i := range g.images {
		if g.images[i].ID == id {
			return i
		}
	}
	return -1
}
