package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerdneilsfield/storyboarder/internal/auth"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"go.uber.org/zap"
)

// Session is one Telegram user's storyboard workspace: the current job, its
// ledger view, the gallery and the chat messages that show each panel.
type Session struct {
	UserID  int64
	Subject string

	Store       *storyboard.Store
	Ledger      *storyboard.Ledger
	Renderer    *storyboard.Renderer
	Breakdowner *storyboard.Breakdowner
	Saves       *storyboard.SaveTracker
	Gallery     *storyboard.Gallery

	tokens   *auth.Issuer
	tokenTTL time.Duration

	mu            sync.Mutex
	token         string
	expires       time.Time
	character     string
	title         string
	panels        map[string]int // scene id -> message id
	delivered     map[string]string
	previewMsg    int
	pendingDelete string
	lastUsed      time.Time
}

// sessionImages renders with the session's current token.
type sessionImages struct {
	backend Backend
	sess    *Session
}

func (s sessionImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return s.backend.GenerateImage(ctx, s.sess.Token(), prompt)
}

type sessionStory struct {
	backend Backend
	sess    *Session
}

func (s sessionStory) BreakdownStory(ctx context.Context, story string) ([]byte, error) {
	return s.backend.BreakdownStory(ctx, s.sess.Token(), story)
}

// NewSession wires a fresh workspace for a Telegram user and signs it in.
func NewSession(userID int64, deps BotDeps) (*Session, error) {
	ttl := deps.Config.Auth.TokenTTL()
	gen := deps.Config.Generation
	logger := deps.Logger.With(zap.Int64("user_id", userID))

	sess := &Session{
		UserID:    userID,
		Subject:   auth.TelegramSubject(userID),
		Store:     storyboard.NewStore(),
		Ledger:    storyboard.NewLedger(deps.Backend, 0, logger.Named("ledger")),
		Saves:     storyboard.NewSaveTracker(deps.Gateway, gen.SaveErrorClear()),
		tokens:    deps.Tokens,
		tokenTTL:  ttl,
		panels:    make(map[string]int),
		delivered: make(map[string]string),
		lastUsed:  time.Now(),
	}
	sess.Gallery = storyboard.NewGallery(deps.Gateway, sess.Subject)
	sess.Breakdowner = storyboard.NewBreakdowner(sessionStory{backend: deps.Backend, sess: sess}, logger.Named("breakdown"))

	opts := []storyboard.RendererOption{storyboard.WithConcurrency(gen.Concurrency)}
	if gen.RequestsPerSecond > 0 {
		opts = append(opts, storyboard.WithRateLimit(gen.RequestsPerSecond, gen.Concurrency))
	}
	sess.Renderer = storyboard.NewRenderer(sess.Store, sess.Ledger, sessionImages{backend: deps.Backend, sess: sess}, logger.Named("render"), opts...)

	if err := sess.refreshToken(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Token returns a bearer token, re-issuing it once half its lifetime has passed.
func (s *Session) Token() string {
	s.mu.Lock()
	expiring := time.Until(s.expires) < s.tokenTTL/2
	token := s.token
	s.mu.Unlock()
	if expiring {
		if err := s.refreshToken(); err == nil {
			s.mu.Lock()
			token = s.token
			s.mu.Unlock()
		}
	}
	return token
}

func (s *Session) refreshToken() error {
	token, err := s.tokens.Issue(s.Subject, auth.TelegramEmail(s.UserID), s.tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token for %s: %w", s.Subject, err)
	}
	s.mu.Lock()
	s.token = token
	s.expires = time.Now().Add(s.tokenTTL)
	s.mu.Unlock()
	s.Ledger.SetSession(token)
	return nil
}

// SetCharacter swaps the character reference used by every later render.
func (s *Session) SetCharacter(character string) {
	s.mu.Lock()
	s.character = character
	s.mu.Unlock()
	s.Renderer.SetPrompt(storyboard.CharacterPrompt(character))
}

func (s *Session) Character() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character
}

// StartJob seeds the store and forgets which chat messages showed the previous job.
func (s *Session) StartJob(title string, scenes []storyboard.Scene) error {
	if err := s.Store.Seed(scenes); err != nil {
		return err
	}
	s.mu.Lock()
	s.title = title
	s.panels = make(map[string]int)
	s.delivered = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// markDelivered reports whether this outcome of the scene has not been shown yet.
func (s *Session) markDelivered(sc storyboard.Scene) bool {
	key := fmt.Sprintf("%d/%s", sc.Attempt, sc.Status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered[sc.ID] == key {
		return false
	}
	s.delivered[sc.ID] = key
	return true
}

// swapPanel records the message now showing sceneID and returns the one it replaces.
func (s *Session) swapPanel(sceneID string, messageID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.panels[sceneID]
	s.panels[sceneID] = messageID
	return old
}

func (s *Session) panelMessage(sceneID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panels[sceneID]
}

func (s *Session) setPreviewMessage(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.previewMsg
	s.previewMsg = id
	return old
}

func (s *Session) setPendingDelete(id string) {
	s.mu.Lock()
	s.pendingDelete = id
	s.mu.Unlock()
}

// takePendingDelete clears the pending delete and reports whether it was id.
func (s *Session) takePendingDelete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.pendingDelete != "" && s.pendingDelete == id
	s.pendingDelete = ""
	return ok
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// StateManager keeps one Session per Telegram user.
type StateManager struct {
	sessions map[int64]*Session
	mu       sync.RWMutex
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// GetOrCreate returns the user's session, building it with create on first use.
func (sm *StateManager) GetOrCreate(userID int64, create func() (*Session, error)) (*Session, error) {
	sm.mu.RLock()
	sess, ok := sm.sessions[userID]
	sm.mu.RUnlock()
	if ok {
		sess.touch()
		return sess, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[userID]; ok {
		return sess, nil
	}
	sess, err := create()
	if err != nil {
		return nil, err
	}
	sm.sessions[userID] = sess
	return sess, nil
}

func (sm *StateManager) Get(userID int64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[userID]
	return sess, ok
}

// Clear drops the user's session and stops its timers.
func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[userID]
	delete(sm.sessions, userID)
	sm.mu.Unlock()
	if ok {
		sess.Saves.Stop()
	}
}

// PurgeIdle drops sessions unused for longer than maxIdle and returns how many went.
func (sm *StateManager) PurgeIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []*Session

	sm.mu.Lock()
	for id, sess := range sm.sessions {
		if sess.idleSince().Before(cutoff) {
			stale = append(stale, sess)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, sess := range stale {
		sess.Saves.Stop()
	}
	return len(stale)
}
