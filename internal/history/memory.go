package history

import (
	"context"
	"sync"
)

type Memory struct {
	mu   sync.RWMutex
	logs map[string]map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{logs: make(map[string]map[string]Entry)}
}

func (m *Memory) Record(_ context.Context, clientID string, e Entry) error {
	if err := validate(clientID, e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[clientID]
	if !ok {
		log = make(map[string]Entry)
		m.logs[clientID] = log
	}
	log[e.Key()] = e
	return nil
}

func (m *Memory) List(_ context.Context, clientID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.logs[clientID]))
	for _, e := range m.logs[clientID] {
		out = append(out, e)
	}
	m.mu.RUnlock()
	return newestFirst(out, limit), nil
}
