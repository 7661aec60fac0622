package featured

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Example env config:
// FEATURED_LIMIT=8
// FEATURED_WINDOW=week
// FEATURED_MIN_RATING=6.5
// FEATURED_IMAGE_RESIZE=false
// FEATURED_CACHE_TTL_MINUTES=30
// FEATURED_TRAILER_SITE=YouTube
// FEATURED_UI_AUTOPLAY=true
// FEATURED_UI_AUTOPLAY_INTERVAL_MS=12000
// FEATURED_UI_TRAILERS=true
// FEATURED_UI_TRAILER_DELAY_MS=2000
// FEATURED_UI_DRAG_THRESHOLD=100
// FEATURED_UI_SHOW_OVERVIEW=true
// FEATURED_UI_SHOW_RATINGS=true
type Config struct {
	Limit              int
	Window             string
	MinRating          float64
	ImageResizeEnabled bool
	CacheTTL           time.Duration
	TrailerSite        string
	UI                 UIConfig
}

type UIConfig struct {
	Autoplay           bool    `json:"autoplay"`
	AutoplayIntervalMs int     `json:"autoplayIntervalMs"`
	Trailers           bool    `json:"trailers"`
	TrailerDelayMs     int     `json:"trailerDelayMs"`
	DragThreshold      float64 `json:"dragThreshold"`
	ShowOverview       bool    `json:"showOverview"`
	ShowRatings        bool    `json:"showRatings"`
}

const (
	WindowDay  = "day"
	WindowWeek = "week"
)

func DefaultConfig() Config {
	return Config{
		Limit:              8,
		Window:             WindowWeek,
		MinRating:          0,
		ImageResizeEnabled: false,
		CacheTTL:           30 * time.Minute,
		TrailerSite:        "YouTube",
		UI: UIConfig{
			Autoplay:           true,
			AutoplayIntervalMs: 12000,
			Trailers:           true,
			TrailerDelayMs:     2000,
			DragThreshold:      100,
			ShowOverview:       true,
			ShowRatings:        true,
		},
	}
}

func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("FEATURED_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEATURED_WINDOW")); v != "" {
		cfg.Window = strings.ToLower(v)
	}
	if v := os.Getenv("FEATURED_MIN_RATING"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.MinRating = f
		}
	}
	if v := os.Getenv("FEATURED_IMAGE_RESIZE"); v != "" {
		cfg.ImageResizeEnabled = parseBool(v, cfg.ImageResizeEnabled)
	}
	if v := os.Getenv("FEATURED_CACHE_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.CacheTTL = time.Duration(n) * time.Minute
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEATURED_TRAILER_SITE")); v != "" {
		cfg.TrailerSite = v
	}
	if v := os.Getenv("FEATURED_UI_AUTOPLAY"); v != "" {
		cfg.UI.Autoplay = parseBool(v, cfg.UI.Autoplay)
	}
	if v := os.Getenv("FEATURED_UI_AUTOPLAY_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.UI.AutoplayIntervalMs = n
		}
	}
	if v := os.Getenv("FEATURED_UI_TRAILERS"); v != "" {
		cfg.UI.Trailers = parseBool(v, cfg.UI.Trailers)
	}
	if v := os.Getenv("FEATURED_UI_TRAILER_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.UI.TrailerDelayMs = n
		}
	}
	if v := os.Getenv("FEATURED_UI_DRAG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.UI.DragThreshold = f
		}
	}
	if v := os.Getenv("FEATURED_UI_SHOW_OVERVIEW"); v != "" {
		cfg.UI.ShowOverview = parseBool(v, cfg.UI.ShowOverview)
	}
	if v := os.Getenv("FEATURED_UI_SHOW_RATINGS"); v != "" {
		cfg.UI.ShowRatings = parseBool(v, cfg.UI.ShowRatings)
	}

	return cfg.normalize()
}

func (c Config) normalize() Config {
	if c.Limit <= 0 {
		c.Limit = 8
	}
	if c.Window != WindowDay {
		c.Window = WindowWeek
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.TrailerSite == "" {
		c.TrailerSite = "YouTube"
	}
	if c.UI.AutoplayIntervalMs <= 0 {
		c.UI.AutoplayIntervalMs = 12000
	}
	if c.UI.TrailerDelayMs <= 0 {
		c.UI.TrailerDelayMs = 2000
	}
	if c.UI.DragThreshold <= 0 {
		c.UI.DragThreshold = 100
	}
	return c
}

func (u UIConfig) AutoplayInterval() time.Duration {
	return time.Duration(u.AutoplayIntervalMs) * time.Millisecond
}

func (u UIConfig) TrailerDelay() time.Duration {
	return time.Duration(u.TrailerDelayMs) * time.Millisecond
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
