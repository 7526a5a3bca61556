// Package ledger is the system of record for submitted downloads: the durable
// mapping from a download title to the Seedr identifier tracking it. The
// ledger is the only writer of this mapping; the reconciler and completion
// pipeline are read-only consumers.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mescon/Seedrarr/internal/db"
	"github.com/mescon/Seedrarr/internal/domain"
)

// ErrNotFound is returned by Lookup when no entry exists for a title.
var ErrNotFound = errors.New("download not found")

// ErrUnavailable wraps storage I/O failures. Callers must treat it as
// "status unknown", never as "download absent" - a broken disk does not mean
// the download was never submitted.
var ErrUnavailable = errors.New("ledger unavailable")

// Store persists ledger entries in the downloads table.
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store over the given database handle.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// Record upserts an entry for title. A prior entry for the same title is
// overwritten without warning (last-write-wins: resubmitting a title
// supersedes the old tracking id). The write is synchronous and durable -
// a crash after Record returns never loses a submitted download.
func (s *Store) Record(title, torrentID string, seriesID *int64) error {
	_, err := db.ExecWithRetry(s.db, `
		INSERT INTO downloads (title, torrent_id, series_id, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			torrent_id = excluded.torrent_id,
			series_id = excluded.series_id,
			added_at = excluded.added_at
	`, title, torrentID, seriesID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to record %q: %v", ErrUnavailable, title, err)
	}
	return nil
}

// Lookup returns the entry for title, ErrNotFound if absent, or
// ErrUnavailable on storage failure.
func (s *Store) Lookup(title string) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var seriesID sql.NullInt64

	err := s.db.QueryRow(`
		SELECT title, torrent_id, series_id, added_at
		FROM downloads WHERE title = ?
	`, title).Scan(&entry.Title, &entry.TorrentID, &seriesID, &entry.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("%w: failed to look up %q: %v", ErrUnavailable, title, err)
	}

	if seriesID.Valid {
		entry.SeriesID = &seriesID.Int64
	}
	return entry, nil
}

// ListAll returns every ledger entry in insertion order.
func (s *Store) ListAll() ([]domain.LedgerEntry, error) {
	rows, err := db.QueryWithRetry(s.db, `
		SELECT title, torrent_id, series_id, added_at
		FROM downloads ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list downloads: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		var seriesID sql.NullInt64
		if err := rows.Scan(&entry.Title, &entry.TorrentID, &seriesID, &entry.AddedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan download row: %v", ErrUnavailable, err)
		}
		if seriesID.Valid {
			entry.SeriesID = &seriesID.Int64
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate downloads: %v", ErrUnavailable, err)
	}

	return entries, nil
}

// Remove deletes the entry for title. Removing an absent title is a no-op.
func (s *Store) Remove(title string) error {
	_, err := db.ExecWithRetry(s.db, "DELETE FROM downloads WHERE title = ?", title)
	if err != nil {
		return fmt.Errorf("%w: failed to remove %q: %v", ErrUnavailable, title, err)
	}
	return nil
}
