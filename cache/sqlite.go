package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteCache keeps entries in an in-memory SQLite database. Recency is tracked with a
// use counter; the lowest counter is evicted first.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex sync.Mutex
	capacity   int
	seq        int64
}

// NewSQLiteCache opens a private in-memory database holding up to capacity entries.
// A capacity below one means DefaultCapacity.
func NewSQLiteCache(capacity int) (*SQLiteCache, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	// a named shared-cache database lives as long as one connection to it is open
	dsn := fmt.Sprintf("file:respcache-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		host TEXT,
		target TEXT,
		date TEXT,
		requested_at INTEGER,
		received_at INTEGER,
		expires INTEGER,
		used INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS used_idx ON cache (used)")
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{
		db:       db,
		capacity: capacity,
	}, nil
}

const columns = "key, host, target, date, requested_at, received_at, expires, bytes"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var entry Entry
	var req, rec, exp int64
	err := row.Scan(&entry.Key, &entry.Host, &entry.Target, &entry.Date, &req, &rec, &exp, &entry.Bytes)
	if err != nil {
		return entry, err
	}
	entry.RequestedAt = fromUnixNano(req)
	entry.ReceivedAt = fromUnixNano(rec)
	entry.Expires = fromUnixNano(exp)
	return entry, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *SQLiteCache) Get(key string) (Entry, bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	entry, err := scanEntry(s.db.QueryRow("SELECT "+columns+" FROM cache WHERE key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	s.seq++
	if _, err := s.db.Exec("UPDATE cache SET used = ? WHERE key = ?", s.seq, key); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *SQLiteCache) Put(entry Entry) ([]Entry, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT COUNT(*) FROM cache WHERE key = ?", entry.Key).Scan(&exists)
	if err != nil {
		return nil, err
	}
	var evicted []Entry
	if exists == 0 {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
			return nil, err
		}
		for ; count >= s.capacity; count-- {
			victim, err := scanEntry(tx.QueryRow("SELECT " + columns + " FROM cache ORDER BY used ASC LIMIT 1"))
			if err != nil {
				return nil, err
			}
			if _, err := tx.Exec("DELETE FROM cache WHERE key = ?", victim.Key); err != nil {
				return nil, err
			}
			evicted = append(evicted, victim)
		}
	}
	s.seq++
	_, err = tx.Exec(`INSERT OR REPLACE INTO cache
		(key, host, target, date, requested_at, received_at, expires, used, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.Host, entry.Target, entry.Date,
		unixNano(entry.RequestedAt), unixNano(entry.ReceivedAt), unixNano(entry.Expires),
		s.seq, entry.Bytes)
	if err != nil {
		return nil, err
	}
	return evicted, tx.Commit()
}

func (s *SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s *SQLiteCache) PurgeAll() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache")
	return err
}

func (s *SQLiteCache) Entries() ([]Entry, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	entries := make([]Entry, 0)
	rows, err := s.db.Query("SELECT " + columns + " FROM cache ORDER BY used DESC")
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteCache) Len() int {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
		return 0
	}
	return count
}

func (s *SQLiteCache) Close() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.db.Close()
}
