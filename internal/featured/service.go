package featured

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cinereel/internal/catalog"
)

// TrendingSource is the catalog read the rotation set is built from.
type TrendingSource interface {
	Trending(ctx context.Context, window string) ([]catalog.Title, error)
}

type Service struct {
	source TrendingSource
	cfg    Config
	cache  *rotationCache
	log    zerolog.Logger
}

func NewService(source TrendingSource, cfg Config, log zerolog.Logger) *Service {
	cfg = cfg.normalize()
	return &Service{
		source: source,
		cfg:    cfg,
		cache:  newRotationCache(cfg.CacheTTL),
		log:    log.With().Str("component", "featured").Logger(),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// Items returns the rotation set, served from cache while it is fresh.
func (s *Service) Items(ctx context.Context, now time.Time) ([]Item, PublicConfig, error) {
	cfg := s.cfg
	key := cfg.Window + ":" + cfg.selectionHash()
	if cached, ok := s.cache.Get(key, now); ok {
		return cached, cfg.Public(), nil
	}

	titles, err := s.source.Trending(ctx, cfg.Window)
	if err != nil {
		return nil, cfg.Public(), err
	}
	items := selectItems(titles, cfg)
	s.cache.Put(key, items, now)
	s.log.Debug().Int("candidates", len(titles)).Int("selected", len(items)).Msg("rotation set built")
	return items, cfg.Public(), nil
}

// Refresh forgets cached rotation sets.
func (s *Service) Refresh() {
	s.cache.Invalidate()
}

func (c Config) selectionHash() string {
	payload := struct {
		Limit              int
		MinRating          float64
		ImageResizeEnabled bool
	}{
		Limit:              c.Limit,
		MinRating:          c.MinRating,
		ImageResizeEnabled: c.ImageResizeEnabled,
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func selectItems(titles []catalog.Title, cfg Config) []Item {
	candidates := dedupeTitles(titles)
	filtered := make([]catalog.Title, 0, len(candidates))
	for _, t := range candidates {
		if cfg.MinRating > 0 && t.VoteAverage < cfg.MinRating {
			continue
		}
		filtered = append(filtered, t)
	}
	if len(filtered) == 0 {
		// Relax the rating filter rather than show an empty hero.
		filtered = candidates
	}
	filtered = preferBackdrop(filtered, cfg.Limit)

	items := make([]Item, 0, len(filtered))
	for _, t := range filtered {
		items = append(items, toItem(t, cfg))
	}
	return items
}

func toItem(t catalog.Title, cfg Config) Item {
	id := strconv.Itoa(t.ID)
	backdropSize := catalog.SizeBackdrop
	posterSize := catalog.SizePoster
	if cfg.ImageResizeEnabled {
		backdropSize = catalog.SizeMedium
		posterSize = catalog.SizeThumb
	}
	backdrop := catalog.ImageURL(t.BackdropPath, backdropSize)
	poster := catalog.ImageURL(t.PosterPath, posterSize)
	if backdrop == "" {
		backdrop = poster
	}
	return Item{
		ID:          id,
		MediaType:   t.MediaType,
		Title:       t.DisplayTitle(),
		Overview:    strings.TrimSpace(t.Overview),
		Rating:      t.VoteAverage,
		ReleaseDate: t.Date(),
		Year:        yearFromDate(t.Date()),
		Images: Images{
			Backdrop: backdrop,
			Poster:   poster,
		},
		Actions: Actions{
			DetailsURL: "/" + t.MediaType + "/" + id,
			WatchURL:   "/" + t.MediaType + "/" + id + "/watch",
		},
	}
}

func preferBackdrop(titles []catalog.Title, limit int) []catalog.Title {
	withBackdrop := make([]catalog.Title, 0, len(titles))
	withoutBackdrop := make([]catalog.Title, 0, len(titles))
	for _, t := range titles {
		if strings.TrimSpace(t.BackdropPath) != "" {
			withBackdrop = append(withBackdrop, t)
		} else {
			withoutBackdrop = append(withoutBackdrop, t)
		}
	}
	out := append(withBackdrop, withoutBackdrop...)
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

func dedupeTitles(titles []catalog.Title) []catalog.Title {
	seen := make(map[string]bool, len(titles))
	out := make([]catalog.Title, 0, len(titles))
	for _, t := range titles {
		key := t.MediaType + ":" + strconv.Itoa(t.ID)
		if t.ID == 0 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func yearFromDate(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
