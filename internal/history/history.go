// Package history keeps a per-client log of titles opened for watching.
// Entries are keyed by item, so re-watching a title moves it to the front
// instead of adding a duplicate.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrInvalidEntry = errors.New("history: client id and item id are required")

type Entry struct {
	ItemID    string    `json:"itemId"`
	MediaType string    `json:"mediaType"`
	Title     string    `json:"title"`
	WatchedAt time.Time `json:"watchedAt"`
}

// Key identifies an entry within one client's log.
func (e Entry) Key() string {
	return e.MediaType + ":" + e.ItemID
}

type Store interface {
	Record(ctx context.Context, clientID string, e Entry) error
	// List returns the most recently watched entries first. limit <= 0
	// returns everything.
	List(ctx context.Context, clientID string, limit int) ([]Entry, error)
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendScylla   = "scylla"
)

func validate(clientID string, e Entry) error {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(e.ItemID) == "" {
		return ErrInvalidEntry
	}
	return nil
}

func newestFirst(entries []Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].WatchedAt.After(entries[j].WatchedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
