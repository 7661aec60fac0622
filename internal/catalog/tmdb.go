package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cinereel/internal/trailer"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

var (
	ErrNotConfigured = errors.New("tmdb key missing")
	ErrNotFound      = errors.New("not found")
)

// Title is a movie or show as returned by the trending endpoint.
type Title struct {
	ID           int     `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	BackdropPath string  `json:"backdrop_path"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
}

func (t Title) DisplayTitle() string {
	if v := strings.TrimSpace(t.Title); v != "" {
		return v
	}
	if v := strings.TrimSpace(t.Name); v != "" {
		return v
	}
	return "Untitled"
}

func (t Title) Date() string {
	if t.ReleaseDate != "" {
		return t.ReleaseDate
	}
	return t.FirstAirDate
}

type Config struct {
	APIKey   string
	BaseURL  string
	Language string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With().Str("component", "tmdb").Logger(),
	}
}

// Trending lists movies and shows trending over window ("day" or "week").
// People and other media types are dropped.
func (c *Client) Trending(ctx context.Context, window string) ([]Title, error) {
	if window != "day" {
		window = "week"
	}
	var out struct {
		Results []Title `json:"results"`
	}
	if err := c.get(ctx, "/trending/all/"+window, nil, &out); err != nil {
		return nil, fmt.Errorf("tmdb trending: %w", err)
	}
	titles := make([]Title, 0, len(out.Results))
	for _, t := range out.Results {
		if t.MediaType != "movie" && t.MediaType != "tv" {
			continue
		}
		titles = append(titles, t)
	}
	return titles, nil
}

// Videos lists the video candidates attached to a movie or show.
func (c *Client) Videos(ctx context.Context, mediaType, id string) ([]trailer.Video, error) {
	if mediaType != "movie" && mediaType != "tv" {
		return nil, fmt.Errorf("tmdb videos: unsupported media type %q", mediaType)
	}
	if _, err := strconv.Atoi(id); err != nil {
		return nil, fmt.Errorf("tmdb videos: invalid id %q", id)
	}
	var out struct {
		Results []trailer.Video `json:"results"`
	}
	if err := c.get(ctx, "/"+mediaType+"/"+id+"/videos", nil, &out); err != nil {
		return nil, fmt.Errorf("tmdb videos: %w", err)
	}
	return out.Results, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if c.cfg.APIKey == "" {
		return ErrNotConfigured
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("language", c.cfg.Language)
	reqURL := c.cfg.BaseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.log.Debug().Str("url", redactAPIKey(reqURL)).Msg("tmdb request")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.log.Warn().Int("status", resp.StatusCode).Str("body", snippet(body, 300)).Msg("tmdb response")
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func redactAPIKey(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func snippet(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
