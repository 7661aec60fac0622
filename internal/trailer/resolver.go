package trailer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cinereel/internal/metrics"
)

// VideoLister is the slice of the catalog client the resolver needs.
type VideoLister interface {
	Videos(ctx context.Context, mediaType, id string) ([]Video, error)
}

type ResolverConfig struct {
	PreferredSite string
	Cache         Cache
	CacheTTL      time.Duration
}

// Resolver turns an item into a best-effort trailer reference. It never
// returns an error: failures are logged and reported as "no trailer".
type Resolver struct {
	videos  VideoLister
	cfg     ResolverConfig
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewResolver(videos VideoLister, cfg ResolverConfig, log zerolog.Logger, m *metrics.Metrics) *Resolver {
	if cfg.PreferredSite == "" {
		cfg.PreferredSite = DefaultSite
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 6 * time.Hour
	}
	return &Resolver{
		videos:  videos,
		cfg:     cfg,
		log:     log.With().Str("component", "trailer").Logger(),
		metrics: m,
	}
}

func (r *Resolver) Resolve(ctx context.Context, mediaType, id string) (Ref, bool) {
	key := cacheKey(mediaType, id)
	if r.cfg.Cache != nil {
		ref, found, err := r.cfg.Cache.Get(ctx, key)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("trailer cache read failed")
		} else if found {
			r.metrics.Resolution("cache")
			return ref, !ref.IsZero()
		}
	}

	videos, err := r.videos.Videos(ctx, mediaType, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			r.metrics.Resolution("cancelled")
			return Ref{}, false
		}
		r.metrics.Resolution("error")
		r.log.Warn().Err(err).Str("media_type", mediaType).Str("id", id).Msg("trailer lookup failed")
		return Ref{}, false
	}

	ref, ok := Select(videos, r.cfg.PreferredSite)
	if ok {
		r.metrics.Resolution(strings.ToLower(string(ref.Kind)))
	} else {
		r.metrics.Resolution("none")
	}
	if r.cfg.Cache != nil {
		if err := r.cfg.Cache.Set(ctx, key, ref, r.cfg.CacheTTL); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("trailer cache write failed")
		}
	}
	r.log.Debug().Str("media_type", mediaType).Str("id", id).Int("candidates", len(videos)).Bool("found", ok).Msg("trailer resolved")
	return ref, ok
}

func cacheKey(mediaType, id string) string {
	return strings.ToLower(strings.TrimSpace(mediaType)) + ":" + strings.TrimSpace(id)
}
