package preload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"cinereel/internal/metrics"
)

// Preloader warms upstream and intermediary caches for the next backdrop so
// the slide transition has no pop-in. Results are never reported.
type Preloader struct {
	client  *http.Client
	group   singleflight.Group
	log     zerolog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration

	mu     sync.Mutex
	warmed map[string]time.Time
	now    func() time.Time
}

func New(client *http.Client, ttl time.Duration, log zerolog.Logger, m *metrics.Metrics) *Preloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Preloader{
		client:  client,
		log:     log.With().Str("component", "preload").Logger(),
		metrics: m,
		ttl:     ttl,
		warmed:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Preload starts a one-shot background fetch of url and returns at once.
// The fetch is abandoned when ctx ends. Concurrent calls for the same url
// share the first caller's fetch.
func (p *Preloader) Preload(ctx context.Context, url string) {
	url = strings.TrimSpace(url)
	if url == "" || ctx.Err() != nil {
		return
	}
	if p.recentlyWarmed(url) {
		p.metrics.Preload("skipped")
		return
	}
	go func() {
		_, _, _ = p.group.Do(url, func() (interface{}, error) {
			return nil, p.fetch(ctx, url)
		})
	}()
}

func (p *Preloader) recentlyWarmed(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.warmed[url]
	if !ok {
		return false
	}
	if p.now().Sub(at) > p.ttl {
		delete(p.warmed, url)
		return false
	}
	return true
}

func (p *Preloader) fetch(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.client.Timeout+time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.metrics.Preload("error")
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.metrics.Preload("cancelled")
			return err
		}
		p.metrics.Preload("error")
		p.log.Debug().Err(err).Str("url", url).Msg("preload failed")
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		p.metrics.Preload("error")
		p.log.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("preload failed")
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	p.mu.Lock()
	p.warmed[url] = p.now()
	p.mu.Unlock()
	p.metrics.Preload("ok")
	return nil
}
