package storyboard

import (
	"fmt"
	"sync"
)

// Store owns the scenes of one generation job. All mutation goes through its methods.
type Store struct {
	mu      sync.RWMutex
	order   []string
	scenes  map[string]*Scene
	subs    map[int]chan Scene
	nextSub int
}

func NewStore() *Store {
	return &Store{
		scenes: make(map[string]*Scene),
		subs:   make(map[int]chan Scene),
	}
}

// Seed replaces the job with scenes, all pending. Reused ids start one past their
// previous attempt, so a render still in flight from the previous job is discarded.
// Scene order is fixed from here on.
func (s *Store) Seed(scenes []Scene) error {
	order := make([]string, 0, len(scenes))
	byID := make(map[string]*Scene, len(scenes))
	for _, sc := range scenes {
		if sc.ID == "" {
			return fmt.Errorf("seed: scene %d has empty id", len(order))
		}
		if _, dup := byID[sc.ID]; dup {
			return fmt.Errorf("seed: duplicate scene id %q", sc.ID)
		}
		byID[sc.ID] = &Scene{ID: sc.ID, Description: sc.Description, Status: StatusPending}
		order = append(order, sc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range byID {
		if prev, ok := s.scenes[id]; ok {
			sc.Attempt = prev.Attempt + 1
		}
	}
	s.order = order
	s.scenes = byID
	for _, id := range order {
		s.publish(byID[id])
	}
	return nil
}

// Begin moves a scene to generating and returns the new attempt number.
// Error and Stale are cleared; a previous ImageURL is kept until a new one replaces it.
func (s *Store) Begin(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	if !ok {
		return 0, fmt.Errorf("begin %q: %w", id, ErrSceneNotFound)
	}
	sc.Attempt++
	sc.Status = StatusGenerating
	sc.Error = ""
	sc.ErrorKind = FailureNone
	sc.Stale = false
	s.publish(sc)
	return sc.Attempt, nil
}

// Complete records a successful render. The result is ignored, and false returned,
// when attempt is not the latest one issued for the scene.
func (s *Store) Complete(id string, attempt int, imageURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	if !ok {
		return false, fmt.Errorf("complete %q: %w", id, ErrSceneNotFound)
	}
	if attempt != sc.Attempt {
		return false, nil
	}
	sc.Status = StatusSucceeded
	sc.ImageURL = imageURL
	sc.Error = ""
	sc.ErrorKind = FailureNone
	sc.Stale = false
	s.publish(sc)
	return true, nil
}

// Fail records a failed render. ImageURL is never cleared; if one exists it is marked stale.
func (s *Store) Fail(id string, attempt int, kind FailureKind, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	if !ok {
		return false, fmt.Errorf("fail %q: %w", id, ErrSceneNotFound)
	}
	if attempt != sc.Attempt {
		return false, nil
	}
	sc.Status = StatusFailed
	sc.Error = msg
	sc.ErrorKind = kind
	sc.Stale = sc.ImageURL != ""
	s.publish(sc)
	return true, nil
}

func (s *Store) Get(id string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[id]
	if !ok {
		return Scene{}, fmt.Errorf("get %q: %w", id, ErrSceneNotFound)
	}
	return *sc, nil
}

// Snapshot returns the scenes in job order. The slice is a copy.
func (s *Store) Snapshot() []Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scene, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.scenes[id])
	}
	return out
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// AllFinished is true iff no scene is pending or generating.
func (s *Store) AllFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.scenes {
		if !sc.Status.Finished() {
			return false
		}
	}
	return true
}

// Subscribe delivers a copy of every changed scene. Sends never block: a full
// channel drops the update, and readers should re-read Snapshot when they catch up.
func (s *Store) Subscribe(buffer int) (<-chan Scene, func()) {
	ch := make(chan Scene, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(sc *Scene) {
	for _, ch := range s.subs {
		select {
		case ch <- *sc:
		default:
		}
	}
}
