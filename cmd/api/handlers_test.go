package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinereel/internal/carousel"
	"cinereel/internal/catalog"
	"cinereel/internal/featured"
	"cinereel/internal/history"
	"cinereel/internal/metrics"
	"cinereel/internal/session"
)

type stubTrending struct {
	titles []catalog.Title
	err    error
}

func (s *stubTrending) Trending(_ context.Context, _ string) ([]catalog.Title, error) {
	return s.titles, s.err
}

func testTitles() []catalog.Title {
	return []catalog.Title{
		{ID: 11, MediaType: "movie", Title: "Arrival", BackdropPath: "/a.jpg", VoteAverage: 7.9},
		{ID: 22, MediaType: "tv", Name: "Severance", BackdropPath: "/s.jpg", VoteAverage: 8.7},
		{ID: 33, MediaType: "movie", Title: "Heat", BackdropPath: "/h.jpg", VoteAverage: 8.3},
	}
}

func newTestAPI(t *testing.T, src *stubTrending) (*api, *httptest.Server) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	log := zerolog.Nop()
	store := history.NewMemory()
	sessions := session.NewManager(session.Config{
		Engine:  carousel.Options{AutoplayPeriod: time.Hour},
		History: store,
	}, log, m)
	a := &api{
		featured: featured.NewService(src, featured.DefaultConfig(), log),
		sessions: sessions,
		history:  store,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		sessions.CloseAll()
	})
	return a, srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func mount(t *testing.T, srv *httptest.Server, clientID string) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/carousel", `{"clientId":"`+clientID+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["session"].(string)
	require.NotEmpty(t, id)
	return id
}

func stateOf(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	st, ok := body["state"].(map[string]interface{})
	require.True(t, ok, "response has no state: %v", body)
	return st
}

func TestHealth(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFeatured(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	resp, body := do(t, http.MethodGet, srv.URL+"/featured", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, ok := body["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 3)
	cfg := body["config"].(map[string]interface{})
	ui := cfg["ui"].(map[string]interface{})
	assert.Equal(t, 12000.0, ui["autoplayIntervalMs"])
}

func TestFeaturedNotConfigured(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{err: catalog.ErrNotConfigured})
	resp, body := do(t, http.MethodGet, srv.URL+"/featured", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "catalog not configured", body["error"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/carousel", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMountWithEmptyRotationSet(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{})
	resp, _ := do(t, http.MethodPost, srv.URL+"/carousel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCarouselTransitions(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "")
	base := srv.URL + "/carousel/" + id

	resp, body := do(t, http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := stateOf(t, body)
	assert.Equal(t, 1.0, st["currentIndex"])
	assert.Equal(t, "forward", st["direction"])

	_, body = do(t, http.MethodPost, base+"/previous", "")
	assert.Equal(t, 0.0, stateOf(t, body)["currentIndex"])

	_, body = do(t, http.MethodPost, base+"/previous", "")
	st = stateOf(t, body)
	assert.Equal(t, 2.0, st["currentIndex"])
	assert.Equal(t, "backward", st["direction"])

	_, body = do(t, http.MethodPost, base+"/goto", `{"index":1}`)
	assert.Equal(t, 1.0, stateOf(t, body)["currentIndex"])
	current := body["current"].(map[string]interface{})
	assert.Equal(t, "Severance", current["title"])

	_, body = do(t, http.MethodPost, base+"/drag", `{"offsetX":-40}`)
	assert.Equal(t, 1.0, stateOf(t, body)["currentIndex"])
	_, body = do(t, http.MethodPost, base+"/drag", `{"offsetX":-140}`)
	assert.Equal(t, 2.0, stateOf(t, body)["currentIndex"])

	_, body = do(t, http.MethodPut, base+"/hover", `{"hovering":true}`)
	assert.Equal(t, true, stateOf(t, body)["hovering"])

	_, body = do(t, http.MethodPut, base+"/autoplay", `{"enabled":false}`)
	assert.Equal(t, false, stateOf(t, body)["autoplayEnabled"])

	_, body = do(t, http.MethodPost, base+"/trailer", "")
	assert.Equal(t, true, stateOf(t, body)["trailerEnabled"])

	// No trailer showing: mute stays on.
	_, body = do(t, http.MethodPost, base+"/mute", "")
	assert.Equal(t, true, stateOf(t, body)["muted"])

	resp, body = do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, stateOf(t, body)["currentIndex"])
}

func TestCarouselBadInput(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "")
	base := srv.URL + "/carousel/" + id

	resp, _ := do(t, http.MethodPost, base+"/goto", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, base+"/drag", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/carousel/nope/next", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnmount(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "")

	resp, _ := do(t, http.MethodDelete, srv.URL+"/carousel/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/carousel/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/carousel/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivateRecordsHistory(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "client-7")
	base := srv.URL + "/carousel/" + id

	_, body := do(t, http.MethodPost, base+"/activate", "")
	assert.Equal(t, "/movie/11", body["route"])

	do(t, http.MethodPost, base+"/next", "")
	_, body = do(t, http.MethodPost, base+"/activate", `{"watch":true}`)
	assert.Equal(t, "/tv/22/watch", body["route"])

	resp, body := do(t, http.MethodGet, srv.URL+"/history/client-7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "Severance", entries[0].(map[string]interface{})["title"])

	resp, body = do(t, http.MethodGet, srv.URL+"/history/unknown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["entries"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/history/client-7?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeaturedRefreshReplacesItems(t *testing.T) {
	src := &stubTrending{titles: testTitles()}
	_, srv := newTestAPI(t, src)
	id := mount(t, srv, "")
	do(t, http.MethodPost, srv.URL+"/carousel/"+id+"/goto", `{"index":2}`)

	src.titles = testTitles()[:2]
	resp, _ := do(t, http.MethodPost, srv.URL+"/featured/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := do(t, http.MethodGet, srv.URL+"/carousel/"+id, "")
	st := stateOf(t, body)
	assert.Equal(t, 0.0, st["currentIndex"])
	assert.Equal(t, 2.0, st["length"])
}

func TestEventsStream(t *testing.T) {
	_, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/carousel/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, 0.0, first["currentIndex"])

	do(t, http.MethodPost, srv.URL+"/carousel/"+id+"/next", "")
	next := readEvent(t, reader)
	assert.Equal(t, 1.0, next["currentIndex"])
}

func TestFrameStreamMakesWindowAvailable(t *testing.T) {
	a, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	id := mount(t, srv, "")
	sess, err := a.sessions.Get(id)
	require.NoError(t, err)
	assert.Nil(t, sess.Frame.ContentWindow())

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/carousel/"+id+"/frame", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	assert.NotNil(t, sess.Frame.ContentWindow())

	sess.Frame.PostMessage([]byte(`{"event":"command","func":"mute","args":[]}`), "*")
	_, _ = reader.ReadString('\n') // blank line after the comment
	ev, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: command\n", ev)
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"command","func":"mute","args":[]}`, strings.TrimPrefix(strings.TrimSpace(data), "data: "))

	cancel()
	resp.Body.Close()
	require.Eventually(t, func() bool {
		return sess.Frame.Connected() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeaturedRefreshWithEmptySetUnmounts(t *testing.T) {
	src := &stubTrending{titles: testTitles()}
	a, srv := newTestAPI(t, src)
	id := mount(t, srv, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/carousel/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, 0.0, readEvent(t, reader)["currentIndex"])

	src.titles = nil
	resp2, body := do(t, http.MethodPost, srv.URL+"/featured/refresh", "")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Empty(t, body["items"])

	var last map[string]interface{}
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			last = nil
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &last))
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, true, last["disposed"])

	resp2, _ = do(t, http.MethodGet, srv.URL+"/carousel/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.Equal(t, 0, a.sessions.Len())
}

func TestHistoryLimitIsCapped(t *testing.T) {
	a, srv := newTestAPI(t, &stubTrending{titles: testTitles()})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 130; i++ {
		require.NoError(t, a.history.Record(context.Background(), "binge", history.Entry{
			ItemID:    strconv.Itoa(i),
			MediaType: "movie",
			Title:     "Title " + strconv.Itoa(i),
			WatchedAt: start.Add(time.Duration(i) * time.Minute),
		}))
	}

	cases := map[string]int{
		"":           20,
		"?limit=5":   5,
		"?limit=0":   100,
		"?limit=500": 100,
	}
	for query, want := range cases {
		resp, body := do(t, http.MethodGet, srv.URL+"/history/binge"+query, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, query)
		assert.Len(t, body["entries"], want, query)
	}

	resp, _ := do(t, http.MethodGet, srv.URL+"/history/binge?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readEvent(t *testing.T, r *bufio.Reader) map[string]interface{} {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &out))
		return out
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "postgres")
	t.Setenv("DB_URL", "")
	_, err := loadConfig()
	assert.Error(t, err)

	t.Setenv("HISTORY_BACKEND", "memory")
	t.Setenv("TRAILER_CACHE", "redis")
	t.Setenv("REDIS_ADDR", "")
	_, err = loadConfig()
	assert.Error(t, err)

	t.Setenv("TRAILER_CACHE", "off")
	t.Setenv("SESSION_IDLE_MINUTES", "5")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdle)
	assert.Equal(t, "cinereel", cfg.Keyspace)
}
