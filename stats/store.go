// Package stats provides persistent error-stat counters for the tunnel
// client. Counters are stored in a small SQLite database so failure
// history survives restarts; increments are buffered through a worker
// goroutine so the connection controller is never blocked on disk I/O.
package stats

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/skobel/tunnelclient/common"
)

// queueSize bounds the number of increments waiting for the worker.
// Increments beyond it are dropped rather than blocking the caller.
const queueSize = 128

const schema = `
CREATE TABLE IF NOT EXISTS error_stats (
	name  TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);
`

// Store is a StatsSink backed by SQLite.
type Store struct {
	db *sql.DB

	incoming chan string
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the stats database at the given path.
// An empty path uses the default location in the user's data directory.
func Open(path string) (*Store, error) {
	if path == "" {
		dataDir, err := common.GetDataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dataDir, common.StatsFileName)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "failed to open stats database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "failed to initialize stats schema")
	}

	s := &Store{
		db:       db,
		incoming: make(chan string, queueSize),
		done:     make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// Error increments the named counter. Never blocks: when the queue is
// full the increment is dropped.
func (s *Store) Error(name string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.incoming <- name:
	default:
		common.LogWarn("stats: queue full, dropping increment of %q", name)
	}
}

// worker applies queued increments until Close.
func (s *Store) worker() {
	defer close(s.done)
	for name := range s.incoming {
		if _, err := s.db.Exec(
			`INSERT INTO error_stats (name, count) VALUES (?, 1)
			 ON CONFLICT(name) DO UPDATE SET count = count + 1`, name); err != nil {
			common.LogError("stats: failed to increment %q: %v", name, err)
		}
	}
}

// Counter holds one named counter value.
type Counter struct {
	Name  string
	Count int64
}

// Snapshot returns all counters sorted by name.
func (s *Store) Snapshot() ([]Counter, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, common.ErrStatsClosed
	}

	rows, err := s.db.Query(`SELECT name, count FROM error_stats`)
	if err != nil {
		return nil, common.WrapError(err, "failed to read stats")
	}
	defer rows.Close()

	var counters []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(counters, func(i, j int) bool {
		return counters[i].Name < counters[j].Name
	})
	return counters, nil
}

// Get returns the value of one counter. Missing counters read as zero.
func (s *Store) Get(name string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT count FROM error_stats WHERE name = ?`, name).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %q: %w", name, err)
	}
	return count, nil
}

// Close drains pending increments and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.incoming)
	<-s.done
	return s.db.Close()
}
