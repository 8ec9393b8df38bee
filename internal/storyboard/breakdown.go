package storyboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FallbackSceneID is the id of the single scene returned when a breakdown fails.
const FallbackSceneID = "1"

const fallbackFormat = "Story breakdown failed: %s\n\nOriginal story:\n%s"

// StoryService returns the raw body of a successful breakdown call.
type StoryService interface {
	BreakdownStory(ctx context.Context, story string) ([]byte, error)
}

// Breakdowner turns story text into an ordered list of pending scenes.
type Breakdowner struct {
	service StoryService
	logger  *zap.Logger
}

func NewBreakdowner(service StoryService, logger *zap.Logger) *Breakdowner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakdowner{service: service, logger: logger}
}

// Breakdown never fails. Any transport error or undecodable payload becomes a single
// fallback scene that carries the reason and the untouched story text.
func (b *Breakdowner) Breakdown(ctx context.Context, story string) []Scene {
	body, err := b.service.BreakdownStory(ctx, story)
	if err != nil {
		b.logger.Warn("story breakdown request failed", zap.Error(err))
		return FallbackScenes(story, err)
	}

	res := DecodeBreakdown(story, body)
	if res.Err != nil {
		b.logger.Warn("story breakdown response rejected", zap.Error(res.Err), zap.Int("body_len", len(body)))
		return FallbackScenes(story, res.Err)
	}
	b.logger.Info("story broken down", zap.Int("scenes", len(res.Scenes)))
	return res.Scenes
}

// FallbackScenes builds the recoverable single-scene result for a failed breakdown.
func FallbackScenes(story string, cause error) []Scene {
	return []Scene{{
		ID:          FallbackSceneID,
		Description: fmt.Sprintf(fallbackFormat, cause.Error(), story),
		Status:      StatusPending,
	}}
}

// IsFallback reports whether scenes is the single recovery scene of a failed breakdown.
func IsFallback(scenes []Scene) bool {
	return len(scenes) == 1 && scenes[0].ID == FallbackSceneID &&
		strings.HasPrefix(scenes[0].Description, "Story breakdown failed: ")
}

// BreakdownResult is the outcome of decoding a breakdown payload: exactly one of Scenes or Err is set.
type BreakdownResult struct {
	Scenes []Scene
	Err    error
}

type wireScene struct {
	ID          json.RawMessage `json:"id"`
	Description *string         `json:"description"`
}

// DecodeBreakdown validates a `{"scenes":[{"id","description"}]}` payload.
// Ids may be strings or numbers; missing or repeated ids are derived from the story.
func DecodeBreakdown(story string, body []byte) BreakdownResult {
	var envelope struct {
		Scenes *[]json.RawMessage `json:"scenes"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&envelope); err != nil {
		return BreakdownResult{Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if envelope.Scenes == nil {
		return BreakdownResult{Err: fmt.Errorf("%w: expected a 'scenes' array", ErrMalformedResponse)}
	}
	if len(*envelope.Scenes) == 0 {
		return BreakdownResult{Err: fmt.Errorf("%w: no scenes returned", ErrMalformedResponse)}
	}

	scenes := make([]Scene, 0, len(*envelope.Scenes))
	seen := make(map[string]bool, len(*envelope.Scenes))
	for i, raw := range *envelope.Scenes {
		var ws wireScene
		if err := json.Unmarshal(raw, &ws); err != nil {
			return BreakdownResult{Err: fmt.Errorf("%w: scene %d is not an object", ErrMalformedResponse, i)}
		}
		if ws.Description == nil || strings.TrimSpace(*ws.Description) == "" {
			return BreakdownResult{Err: fmt.Errorf("%w: scene %d has no description", ErrMalformedResponse, i)}
		}

		id, err := wireID(ws.ID)
		if err != nil {
			return BreakdownResult{Err: fmt.Errorf("%w: scene %d: %v", ErrMalformedResponse, i, err)}
		}
		if id == "" || seen[id] {
			if id, err = SceneID(story, i); err != nil {
				return BreakdownResult{Err: err}
			}
		}
		seen[id] = true
		scenes = append(scenes, Scene{ID: id, Description: strings.TrimSpace(*ws.Description), Status: StatusPending})
	}
	return BreakdownResult{Scenes: scenes}
}

func wireID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("id must be a string or number")
}
