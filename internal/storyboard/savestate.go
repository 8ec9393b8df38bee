package storyboard

import (
	"context"
	"sync"
	"time"

	"github.com/nerdneilsfield/storyboarder/internal/storage"
)

type SaveState string

const (
	SaveIdle   SaveState = "idle"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveError  SaveState = "error"
)

// DefaultSaveErrorClear is how long a save error stays visible.
const DefaultSaveErrorClear = 3 * time.Second

// SaveStatus is the per-scene save indicator shown next to a panel.
type SaveStatus struct {
	State SaveState
	Err   error
}

// SaveTracker wraps Gateway.Save with a per-scene status that resets itself
// to idle a fixed delay after an error.
type SaveTracker struct {
	gateway    *Gateway
	clearAfter time.Duration

	mu     sync.Mutex
	states map[string]SaveStatus
	timers map[string]*time.Timer
}

func NewSaveTracker(gateway *Gateway, clearAfter time.Duration) *SaveTracker {
	if clearAfter <= 0 {
		clearAfter = DefaultSaveErrorClear
	}
	return &SaveTracker{
		gateway:    gateway,
		clearAfter: clearAfter,
		states:     make(map[string]SaveStatus),
		timers:     make(map[string]*time.Timer),
	}
}

func (t *SaveTracker) Status(sceneID string) SaveStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[sceneID]; ok {
		return st
	}
	return SaveStatus{State: SaveIdle}
}

// Save runs the gateway save and records its outcome for the scene.
func (t *SaveTracker) Save(ctx context.Context, scene Scene, userID string) (*storage.SavedImage, error) {
	t.set(scene.ID, SaveStatus{State: SaveSaving})
	rec, err := t.gateway.Save(ctx, scene, userID)
	if err != nil {
		t.set(scene.ID, SaveStatus{State: SaveError, Err: err})
		t.scheduleClear(scene.ID)
		return nil, err
	}
	t.set(scene.ID, SaveStatus{State: SaveSaved})
	return rec, nil
}

// Stop cancels pending clears.
func (t *SaveTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *SaveTracker) set(sceneID string, st SaveStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[sceneID]; ok {
		timer.Stop()
		delete(t.timers, sceneID)
	}
	t.states[sceneID] = st
}

func (t *SaveTracker) scheduleClear(sceneID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(t.clearAfter, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// a newer save may have replaced this timer
		if t.timers[sceneID] != timer {
			return
		}
		delete(t.timers, sceneID)
		if t.states[sceneID].State == SaveError {
			t.states[sceneID] = SaveStatus{State: SaveIdle}
		}
	})
	t.timers[sceneID] = timer
}
