// Package session mounts one carousel per connected client and keeps it
// alive between requests.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cinereel/internal/carousel"
	"cinereel/internal/featured"
	"cinereel/internal/history"
	"cinereel/internal/metrics"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNoItems  = errors.New("no featured items to show")
)

const DefaultIdleTimeout = 30 * time.Minute

type Session struct {
	ID       string
	ClientID string
	Engine   *carousel.Engine
	Frame    *Frame

	states     *states
	lastAccess time.Time
}

// Watch streams snapshots, starting with the current one.
func (s *Session) Watch() (<-chan carousel.State, func()) {
	return s.states.watch()
}

type Config struct {
	// Engine is the template every session's carousel starts from.
	Engine      carousel.Options
	IdleTimeout time.Duration
	History     history.Store
}

type Manager struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open mounts a new carousel over items for clientID.
func (m *Manager) Open(clientID string, items []featured.Item) (*Session, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	id := uuid.NewString()
	sess := &Session{
		ID:       id,
		ClientID: clientID,
		Frame:    NewFrame(),
		states:   newStates(),
	}
	opts := m.cfg.Engine
	opts.Log = m.log.With().Str("session", id).Logger()
	opts.Metrics = m.metrics
	opts.OnChange = sess.states.publish
	sess.Engine = carousel.New(items, opts)
	sess.Engine.AttachFrame(sess.Frame)
	sess.states.publish(sess.Engine.Snapshot())

	m.mu.Lock()
	sess.lastAccess = m.now()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.log.Info().Str("session", id).Str("client", clientID).Int("items", len(items)).Msg("carousel mounted")
	return sess, nil
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.lastAccess = m.now()
	return sess, nil
}

// Close unmounts a session: its carousel is torn down and every stream on
// it ends.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.teardown(sess)
	return nil
}

// CloseAll unmounts every session and waits for in-flight trailer lookups.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, sess := range all {
		m.teardown(sess)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReplaceItems hands a refreshed rotation set to every mounted carousel.
// An empty set leaves nothing to show, so every session is unmounted.
func (m *Manager) ReplaceItems(items []featured.Item) {
	if len(items) == 0 {
		m.log.Info().Int("sessions", m.Len()).Msg("rotation set empty; unmounting carousels")
		m.CloseAll()
		return
	}
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.Unlock()
	for _, sess := range all {
		sess.Engine.SetItems(items)
	}
}

// Activate resolves the route for the slide currently shown. With watch
// set it points at the player and the title lands in the client's history.
func (m *Manager) Activate(ctx context.Context, id string, watch bool) (featured.Item, string, error) {
	sess, err := m.Get(id)
	if err != nil {
		return featured.Item{}, "", err
	}
	item, ok := sess.Engine.Current()
	if !ok {
		return featured.Item{}, "", ErrNoItems
	}
	if !watch {
		return item, item.Actions.DetailsURL, nil
	}
	if m.cfg.History != nil && sess.ClientID != "" {
		entry := history.Entry{
			ItemID:    item.ID,
			MediaType: item.MediaType,
			Title:     item.Title,
			WatchedAt: m.now().UTC(),
		}
		if err := m.cfg.History.Record(ctx, sess.ClientID, entry); err != nil {
			m.log.Warn().Err(err).Str("session", id).Msg("record watch history")
		}
	}
	return item, item.Actions.WatchURL, nil
}

// Run evicts idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdle()
		}
	}
}

func (m *Manager) cleanupIdle() int {
	m.mu.Lock()
	now := m.now()
	var idle []*Session
	for id, sess := range m.sessions {
		if now.Sub(sess.lastAccess) > m.cfg.IdleTimeout {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, sess := range idle {
		m.log.Debug().Str("session", sess.ID).Msg("evicting idle carousel")
		m.teardown(sess)
	}
	return len(idle)
}

func (m *Manager) teardown(sess *Session) {
	sess.Engine.Dispose()
	sess.Engine.Wait()
	sess.Frame.close()
	sess.states.close()
	m.metrics.SessionClosed()
}
