package falapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Options{
		APIKey:          "fal-test-key",
		ImageEndpoint:   srv.URL + "/fal-ai/flux/dev",
		CaptionEndpoint: srv.URL + "/caption",
		BillingURL:      srv.URL + "/billing",
		Settings:        ImageSettings{ImageSize: "landscape_4_3", NumInferenceSteps: 28, GuidanceScale: 3.5},
		PollInterval:    time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestGenerateImagePollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fal-ai/flux/dev", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key fal-test-key", r.Header.Get("Authorization"))
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a castle", req.Prompt)
		assert.Equal(t, "landscape_4_3", req.ImageSize)
		w.Write([]byte(`{"request_id":"req-1","status":"IN_QUEUE"}`))
	})
	mux.HandleFunc("GET /fal-ai/flux/dev/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			w.Write([]byte(`{"status":"IN_PROGRESS"}`))
			return
		}
		w.Write([]byte(`{"status":"COMPLETED"}`))
	})
	mux.HandleFunc("GET /fal-ai/flux/dev/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":[{"url":"https://cdn.fal/img.png","width":1024,"height":768}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url, err := newTestClient(t, srv).GenerateImage(t.Context(), "a castle")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.fal/img.png", url)
	assert.EqualValues(t, 3, polls.Load())
}

func TestGenerateImageFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fal-ai/flux/dev", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Prompt {
		case "reject":
			http.Error(w, `{"detail":"bad key"}`, http.StatusUnauthorized)
		case "empty":
			w.Write([]byte(`{"request_id":"req-empty"}`))
		default:
			w.Write([]byte(`{"request_id":"req-fail"}`))
		}
	})
	mux.HandleFunc("GET /fal-ai/flux/dev/requests/req-fail/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED","error":{"message":"nsfw"}}`))
	})
	mux.HandleFunc("GET /fal-ai/flux/dev/requests/req-empty/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"COMPLETED"}`))
	})
	mux.HandleFunc("GET /fal-ai/flux/dev/requests/req-empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.GenerateImage(t.Context(), "reject")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = c.GenerateImage(t.Context(), "boom")
	assert.ErrorContains(t, err, "nsfw")

	_, err = c.GenerateImage(t.Context(), "empty")
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestCaptionAndBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /caption", func(w http.ResponseWriter, r *http.Request) {
		var req CaptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "data:image/png;base64,AAAA", req.ImageURL)
		w.Write([]byte(`{"results":"  a girl with red hair  "}`))
	})
	mux.HandleFunc("GET /billing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`12.5`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv)

	caption, err := c.Caption(t.Context(), "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "a girl with red hair", caption)

	balance, err := c.AccountBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 12.5, balance)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Options{}, nil)
	assert.Error(t, err)
}
