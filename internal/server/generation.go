package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
)

var errNoScenes = errors.New("model returned no scene list")

func (s *Server) breakdownStory(w http.ResponseWriter, r *http.Request) {
	var req storyapi.BreakdownRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON", err.Error())
		return
	}
	if strings.TrimSpace(req.Story) == "" {
		writeError(w, http.StatusBadRequest, "story is required", "")
		return
	}

	raw, err := s.deps.Storyteller.Breakdown(r.Context(), req.Story)
	if err != nil {
		s.logger.Error("story breakdown failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "story breakdown failed", err.Error())
		return
	}

	scenes, err := NormalizeScenes(raw)
	if err != nil {
		s.logger.Warn("model returned unusable breakdown", zap.Error(err), zap.ByteString("raw", raw))
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes})
}

// NormalizeScenes extracts the scene list from a model answer: a bare list, or the
// first list-valued field of an object ("scenes" first, then by key). An object
// carrying "error" and no list is reported as that error. Scene objects without an
// id get their 1-based position.
func NormalizeScenes(raw []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && list != nil {
		return assignIDs(list), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k != "scenes" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := obj["scenes"]; ok {
		keys = append([]string{"scenes"}, keys...)
	}
	for _, k := range keys {
		if err := json.Unmarshal(obj[k], &list); err == nil && list != nil {
			return assignIDs(list), nil
		}
	}

	if msg, ok := obj["error"]; ok {
		var text string
		if json.Unmarshal(msg, &text) != nil {
			text = string(msg)
		}
		return nil, fmt.Errorf("model returned error: %s", text)
	}
	return nil, errNoScenes
}

func assignIDs(list []json.RawMessage) []json.RawMessage {
	for i, item := range list {
		var scene map[string]any
		if json.Unmarshal(item, &scene) != nil {
			continue
		}
		if id, ok := scene["id"]; ok && id != nil && id != "" {
			continue
		}
		scene["id"] = strconv.Itoa(i + 1)
		if b, err := json.Marshal(scene); err == nil {
			list[i] = b
		}
	}
	return list
}

func (s *Server) generateImage(w http.ResponseWriter, r *http.Request) {
	var req storyapi.GenerateImageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "")
		return
	}

	url, err := s.deps.Images.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		s.logger.Error("image generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image generation failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, storyapi.GenerateImageResponse{ImageURL: url})
}

func (s *Server) analyzeCharacter(w http.ResponseWriter, r *http.Request) {
	var req storyapi.AnalyzeCharacterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON", err.Error())
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		writeError(w, http.StatusBadRequest, "image is required", "")
		return
	}

	analysis, err := s.deps.Captioner.Caption(r.Context(), ImageDataURI(req.ImageBase64))
	if err != nil {
		s.logger.Error("character analysis failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "character analysis failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, storyapi.AnalyzeCharacterResponse{Analysis: analysis})
}

// ImageDataURI turns bare base64 (or a foreign data URI) into a PNG data URI.
func ImageDataURI(b64 string) string {
	if strings.HasPrefix(b64, "data:image") {
		return b64
	}
	if i := strings.LastIndex(b64, ","); i >= 0 {
		b64 = b64[i+1:]
	}
	return "data:image/png;base64," + b64
}
