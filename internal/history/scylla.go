package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

type Scylla struct {
	session  *gocql.Session
	keyspace string
}

func NewScylla(session *gocql.Session, keyspace string) *Scylla {
	return &Scylla{session: session, keyspace: keyspace}
}

func EnsureKeyspace(session *gocql.Session, keyspace string, replicationFactor int) error {
	if replicationFactor <= 0 {
		replicationFactor = 3
	}
	stmt := fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}", keyspace, replicationFactor)
	return session.Query(stmt).Exec()
}

func (s *Scylla) EnsureSchema() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.watch_history (
		client_id text,
		item_key text,
		item_id text,
		media_type text,
		title text,
		watched_at timestamp,
		PRIMARY KEY (client_id, item_key)
	)`, s.keyspace)
	return s.session.Query(stmt).Exec()
}

func (s *Scylla) Record(ctx context.Context, clientID string, e Entry) error {
	if err := validate(clientID, e); err != nil {
		return err
	}
	err := s.session.Query(fmt.Sprintf(`UPDATE %s.watch_history SET item_id=?, media_type=?, title=?, watched_at=? WHERE client_id=? AND item_key=?`, s.keyspace),
		e.ItemID, e.MediaType, e.Title, e.WatchedAt, clientID, e.Key()).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// List reads the whole partition; watched_at is not a clustering column so
// ordering happens here.
func (s *Scylla) List(ctx context.Context, clientID string, limit int) ([]Entry, error) {
	iter := s.session.Query(fmt.Sprintf(`SELECT item_id, media_type, title, watched_at FROM %s.watch_history WHERE client_id=?`, s.keyspace),
		clientID).WithContext(ctx).Iter()
	var (
		out       []Entry
		itemID    string
		mediaType string
		title     string
		watchedAt time.Time
	)
	for iter.Scan(&itemID, &mediaType, &title, &watchedAt) {
		out = append(out, Entry{ItemID: itemID, MediaType: mediaType, Title: title, WatchedAt: watchedAt})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return newestFirst(out, limit), nil
}

func ParseConsistency(c string) gocql.Consistency {
	switch strings.ToUpper(c) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}
