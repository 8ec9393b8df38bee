package storyboard

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := NewStore()
	scenes := make([]Scene, 0, len(ids))
	for _, id := range ids {
		scenes = append(scenes, Scene{ID: id, Description: "scene " + id})
	}
	require.NoError(t, s.Seed(scenes))
	return s
}

func TestSeedResetsEverything(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Seed([]Scene{
		{ID: "a", Description: "first", ImageURL: "http://old", Status: StatusSucceeded, Attempt: 4},
		{ID: "b", Description: "second", Error: "x", Status: StatusFailed},
	}))

	want := []Scene{
		{ID: "a", Description: "first", Status: StatusPending},
		{ID: "b", Description: "second", Status: StatusPending},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, s.AllFinished())
}

func TestReseedDiscardsInFlightRender(t *testing.T) {
	s := seeded(t, "1")
	attempt, err := s.Begin("1")
	require.NoError(t, err)

	require.NoError(t, s.Seed([]Scene{{ID: "1", Description: "new story"}}))
	applied, err := s.Complete("1", attempt, "http://old-job")
	require.NoError(t, err)
	assert.False(t, applied)

	sc, _ := s.Get("1")
	assert.Equal(t, StatusPending, sc.Status)
	assert.Empty(t, sc.ImageURL)

	applied, err = s.Fail("1", attempt, FailureRender, "late failure")
	require.NoError(t, err)
	assert.False(t, applied)

	next, err := s.Begin("1")
	require.NoError(t, err)
	assert.Greater(t, next, attempt)
	applied, err = s.Complete("1", next, "http://new-job")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSeedRejectsBadIDs(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Seed([]Scene{{ID: "a"}, {ID: "a"}}))
	assert.Error(t, s.Seed([]Scene{{ID: ""}}))
}

func TestLifecycle(t *testing.T) {
	s := seeded(t, "a")

	attempt, err := s.Begin("a")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	sc, _ := s.Get("a")
	assert.Equal(t, StatusGenerating, sc.Status)

	applied, err := s.Complete("a", attempt, "http://img/1")
	require.NoError(t, err)
	assert.True(t, applied)
	sc, _ = s.Get("a")
	assert.Equal(t, StatusSucceeded, sc.Status)
	assert.Equal(t, "http://img/1", sc.ImageURL)
	assert.True(t, s.AllFinished())
}

func TestFailKeepsImageAndMarksStale(t *testing.T) {
	s := seeded(t, "a")
	a1, _ := s.Begin("a")
	_, err := s.Complete("a", a1, "http://img/good")
	require.NoError(t, err)

	a2, _ := s.Begin("a")
	sc, _ := s.Get("a")
	assert.Equal(t, "http://img/good", sc.ImageURL, "begin keeps the previous image")

	applied, err := s.Fail("a", a2, FailureRender, "boom")
	require.NoError(t, err)
	require.True(t, applied)

	sc, _ = s.Get("a")
	assert.Equal(t, StatusFailed, sc.Status)
	assert.Equal(t, "http://img/good", sc.ImageURL)
	assert.Equal(t, "boom", sc.Error)
	assert.Equal(t, FailureRender, sc.ErrorKind)
	assert.True(t, sc.Stale)
}

func TestFailWithoutImageIsNotStale(t *testing.T) {
	s := seeded(t, "a")
	a1, _ := s.Begin("a")
	_, err := s.Fail("a", a1, FailureCredits, "no points")
	require.NoError(t, err)

	sc, _ := s.Get("a")
	assert.False(t, sc.Stale)
	assert.Empty(t, sc.ImageURL)
}

func TestBeginClearsError(t *testing.T) {
	s := seeded(t, "a")
	a1, _ := s.Begin("a")
	_, _ = s.Complete("a", a1, "http://img/a")
	a2, _ := s.Begin("a")
	_, _ = s.Fail("a", a2, FailureRender, "boom")
	sc, _ := s.Get("a")
	require.True(t, sc.Stale)

	_, err := s.Begin("a")
	require.NoError(t, err)
	sc, _ = s.Get("a")
	assert.Equal(t, StatusGenerating, sc.Status)
	assert.Empty(t, sc.Error)
	assert.Equal(t, FailureNone, sc.ErrorKind)
	assert.False(t, sc.Stale)
	assert.Equal(t, "http://img/a", sc.ImageURL)
}

func TestOnlyLatestAttemptIsApplied(t *testing.T) {
	s := seeded(t, "a")
	first, _ := s.Begin("a")
	second, _ := s.Begin("a")

	// the newer attempt finishes first
	applied, err := s.Complete("a", second, "http://img/new")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Complete("a", first, "http://img/old")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.Fail("a", first, FailureRender, "late failure")
	require.NoError(t, err)
	assert.False(t, applied)

	sc, _ := s.Get("a")
	assert.Equal(t, StatusSucceeded, sc.Status)
	assert.Equal(t, "http://img/new", sc.ImageURL)
}

func TestUnknownSceneReturnsError(t *testing.T) {
	s := seeded(t, "a")

	_, err := s.Begin("nope")
	assert.ErrorIs(t, err, ErrSceneNotFound)
	_, err = s.Complete("nope", 1, "u")
	assert.ErrorIs(t, err, ErrSceneNotFound)
	_, err = s.Fail("nope", 1, FailureRender, "x")
	assert.ErrorIs(t, err, ErrSceneNotFound)
	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestAllFinished(t *testing.T) {
	s := seeded(t, "a", "b")
	assert.False(t, s.AllFinished())

	a, _ := s.Begin("a")
	_, _ = s.Complete("a", a, "u")
	assert.False(t, s.AllFinished(), "b still pending")

	b, _ := s.Begin("b")
	assert.False(t, s.AllFinished(), "b generating")
	_, _ = s.Fail("b", b, FailureRender, "x")
	assert.True(t, s.AllFinished())

	assert.True(t, NewStore().AllFinished(), "empty job has nothing in flight")
}

func TestSubscribe(t *testing.T) {
	s := seeded(t, "a")
	ch, cancel := s.Subscribe(8)

	attempt, _ := s.Begin("a")
	_, _ = s.Complete("a", attempt, "u")

	got := []Status{(<-ch).Status, (<-ch).Status}
	assert.Equal(t, []Status{StatusGenerating, StatusSucceeded}, got)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// publishing after cancel must not panic
	_, err := s.Begin("a")
	assert.NoError(t, err)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := seeded(t, "a")
	snap := s.Snapshot()
	snap[0].Description = "mutated"

	sc, _ := s.Get("a")
	assert.Equal(t, "scene a", sc.Description)
}
