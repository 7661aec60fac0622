package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "secret", BaseURL: srv.URL}, zerolog.Nop())
}

func TestTrendingFiltersPeople(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trending/all/week", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"results":[
			{"id":1,"media_type":"movie","title":"Dune","backdrop_path":"/d.jpg","vote_average":8.1,"release_date":"2024-03-01"},
			{"id":2,"media_type":"person","name":"Someone"},
			{"id":3,"media_type":"tv","name":"Shogun","first_air_date":"2024-02-27"}
		]}`))
	})

	titles, err := c.Trending(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, titles, 2)
	assert.Equal(t, "Dune", titles[0].DisplayTitle())
	assert.Equal(t, "Shogun", titles[1].DisplayTitle())
	assert.Equal(t, "2024-02-27", titles[1].Date())
}

func TestVideos(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/42/videos", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":42,"results":[{"key":"abc","site":"YouTube","type":"Trailer","official":true}]}`))
	})

	videos, err := c.Videos(context.Background(), "tv", "42")
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "abc", videos[0].Key)
	assert.Equal(t, "Trailer", videos[0].Type)
}

func TestVideosRejectsBadInput(t *testing.T) {
	c := NewClient(Config{APIKey: "k"}, zerolog.Nop())
	_, err := c.Videos(context.Background(), "person", "1")
	assert.Error(t, err)
	_, err = c.Videos(context.Background(), "movie", "../etc")
	assert.Error(t, err)
}

func TestErrorsAreWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.Videos(context.Background(), "movie", "9")
	assert.True(t, errors.Is(err, ErrNotFound))

	unconfigured := NewClient(Config{}, zerolog.Nop())
	_, err = unconfigured.Trending(context.Background(), "day")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestRedactAPIKey(t *testing.T) {
	got := redactAPIKey("https://api.themoviedb.org/3/movie/1/videos?api_key=abc&language=en-US")
	assert.Contains(t, got, "api_key=REDACTED")
	assert.NotContains(t, got, "abc")
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "https://image.tmdb.org/t/p/w1280/b.jpg", ImageURL("/b.jpg", SizeBackdrop))
	assert.Equal(t, "https://image.tmdb.org/t/p/original/b.jpg", ImageURL("b.jpg", ""))
	assert.Equal(t, "https://cdn.example/x.jpg", ImageURL("https://cdn.example/x.jpg", SizePoster))
	assert.Empty(t, ImageURL("  ", SizePoster))
}
