// Package store persists parsed bibliography files in sqlite so that a
// restarted server does not parse unchanged files again.
package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bibli.store")

// Entry is the cached parse of one bibliography file.
type Entry struct {
	Path     string
	ModTime  time.Time
	Checksum []byte
	Records  []bibliography.Record
}

// Fresh reports whether the entry still describes a file with the given
// modification time and content.
func (e Entry) Fresh(modTime time.Time, content []byte) bool {
	if modTime.After(e.ModTime) {
		return false
	}
	sum := Checksum(content)
	return bytes.Equal(sum, e.Checksum)
}

// Checksum is the digest stored with every entry.
func Checksum(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

// Store is the parse cache used by the library loader.
type Store interface {
	Get(path string) (Entry, error)
	Put(entry Entry) error
	Delete(path string) error
	Paths() ([]string, error)
	Retain(keep []string) error
	Clear() error
	Close() error
}

// Both are safe for concurrent use through EncodeAll and DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens or creates the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(path string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Entry{}, ErrDatabaseClosed
	}

	var (
		modTime int64
		blob    []byte
	)
	entry := Entry{Path: path}
	err := s.db.QueryRow(
		"SELECT mod_time, checksum, records FROM bibfiles WHERE path = ?",
		path,
	).Scan(&modTime, &entry.Checksum, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to query bibfile: %w", err)
	}

	entry.ModTime = time.Unix(0, modTime)
	entry.Records, err = decodeRecords(blob)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *SQLiteStore) Put(entry Entry) error {
	blob, err := encodeRecords(entry.Records)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDatabaseClosed
	}

	_, err = s.db.Exec(
		`INSERT INTO bibfiles (path, mod_time, checksum, records) VALUES (?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET
            mod_time = excluded.mod_time,
            checksum = excluded.checksum,
            records = excluded.records`,
		entry.Path, entry.ModTime.UnixNano(), entry.Checksum, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to store bibfile: %w", err)
	}
	log.Debugf("cached %d records of %s (%d bytes)", len(entry.Records), entry.Path, len(blob))
	return nil
}

func (s *SQLiteStore) Delete(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDatabaseClosed
	}

	if _, err := s.db.Exec("DELETE FROM bibfiles WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete bibfile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Paths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrDatabaseClosed
	}

	rows, err := s.db.Query("SELECT path FROM bibfiles ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to query bibfiles: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan bibfile: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// Retain deletes every entry whose path is not in keep, in one transaction.
func (s *SQLiteStore) Retain(keep []string) error {
	paths, err := s.Paths()
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(keep))
	for _, p := range keep {
		wanted[p] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDatabaseClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	defer tx.Rollback()
	for _, p := range paths {
		if wanted[p] {
			continue
		}
		if _, err := tx.Exec("DELETE FROM bibfiles WHERE path = ?", p); err != nil {
			return fmt.Errorf("failed to delete bibfile: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDatabaseClosed
	}

	if _, err := s.db.Exec("DELETE FROM bibfiles"); err != nil {
		return fmt.Errorf("failed to clear bibfiles: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func encodeRecords(records []bibliography.Record) ([]byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

func decodeRecords(blob []byte) ([]bibliography.Record, error) {
	data, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var records []bibliography.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return records, nil
}
