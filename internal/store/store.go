// Package store persists chat messages and produced summaries in an
// embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the database handle and the queries the service needs.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open creates or opens the SQLite database and brings the schema up to
// date.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent analyses.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{
		db:  db,
		log: logrus.WithField("component", "store"),
	}, nil
}

func runMigrations(db *sqlx.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type messageRow struct {
	ChatID     string `db:"chat_id"`
	Date       string `db:"date"`
	SenderID   string `db:"sender_id"`
	SenderName string `db:"sender_name"`
	Text       string `db:"text"`
	Timestamp  int64  `db:"timestamp"`
}

// AddMessages inserts messages for one chat and date. Re-ingesting the same
// batch is a no-op: duplicates on (chat_id, sender_id, timestamp, text) are
// ignored.
func (s *Store) AddMessages(ctx context.Context, chatID, date string, messages []providers.ChatMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT OR IGNORE INTO messages (chat_id, date, sender_id, sender_name, text, timestamp)
		VALUES (:chat_id, :date, :sender_id, :sender_name, :text, :timestamp)`

	inserted := 0
	for _, m := range messages {
		res, err := tx.NamedExecContext(ctx, q, messageRow{
			ChatID:     chatID,
			Date:       date,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Text:       m.Text,
			Timestamp:  m.Timestamp,
		})
		if err != nil {
			return 0, fmt.Errorf("inserting message: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing messages: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"date":     date,
		"received": len(messages),
		"inserted": inserted,
	}).Debug("messages ingested")
	return inserted, nil
}

// MessagesByDate returns the messages of one chat day in timestamp order.
func (s *Store) MessagesByDate(ctx context.Context, chatID, date string) ([]providers.ChatMessage, error) {
	var rows []messageRow
	const q = `SELECT chat_id, date, sender_id, sender_name, text, timestamp
		FROM messages WHERE chat_id = ? AND date = ? ORDER BY timestamp ASC`
	if err := s.db.SelectContext(ctx, &rows, q, chatID, date); err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}

	messages := make([]providers.ChatMessage, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, providers.ChatMessage{
			SenderID:   r.SenderID,
			SenderName: r.SenderName,
			Text:       r.Text,
			Timestamp:  r.Timestamp,
		})
	}
	return messages, nil
}

// SummaryType distinguishes the stored variants of one chat day.
type SummaryType string

const (
	SummaryPlain      SummaryType = "summary"
	SummaryImproved   SummaryType = "improved"
	SummaryStructured SummaryType = "structured"
)

// SummaryRecord is one stored summary.
type SummaryRecord struct {
	ChatID    string      `db:"chat_id"`
	Date      string      `db:"date"`
	Type      SummaryType `db:"type"`
	Content   string      `db:"content"`
	Provider  string      `db:"provider"`
	Model     string      `db:"model"`
	CreatedAt time.Time   `db:"created_at"`
}

// SaveSummary stores a summary, overwriting any previous one for the same
// chat, date and type. Re-running an analysis replaces the old result.
func (s *Store) SaveSummary(ctx context.Context, rec SummaryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO summaries (chat_id, date, type, content, provider, model, created_at)
		VALUES (:chat_id, :date, :type, :content, :provider, :model, :created_at)
		ON CONFLICT (chat_id, date, type) DO UPDATE SET
			content = excluded.content,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at`

	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"chat_id": rec.ChatID,
		"date":    rec.Date,
		"type":    rec.Type,
	}).Debug("summary saved")
	return nil
}

// Summary returns one stored summary, or nil when absent.
func (s *Store) Summary(ctx context.Context, chatID, date string, typ SummaryType) (*SummaryRecord, error) {
	var rec SummaryRecord
	const q = `SELECT chat_id, date, type, content, provider, model, created_at
		FROM summaries WHERE chat_id = ? AND date = ? AND type = ?`
	err := s.db.GetContext(ctx, &rec, q, chatID, date, typ)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting summary: %w", err)
	}
	return &rec, nil
}

// DeleteSummaries removes every stored variant of one chat day. Returns the
// number of rows removed; deleting an absent day is not an error.
func (s *Store) DeleteSummaries(ctx context.Context, chatID, date string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE chat_id = ? AND date = ?`, chatID, date)
	if err != nil {
		return 0, fmt.Errorf("deleting summaries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted summaries: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"chat_id": chatID,
		"date":    date,
		"deleted": n,
	}).Debug("summaries deleted")
	return int(n), nil
}

// SummaryListing names one chat day that has stored summaries.
type SummaryListing struct {
	Date         string `db:"date" json:"date"`
	Types        string `db:"types" json:"types"`
	MessageCount int    `db:"message_count" json:"message_count"`
}

// AvailableSummaries lists the dates of one chat that have summaries,
// newest first, with the variants present and the day's message count.
func (s *Store) AvailableSummaries(ctx context.Context, chatID string) ([]SummaryListing, error) {
	var listings []SummaryListing
	const q = `SELECT s.date AS date,
			GROUP_CONCAT(DISTINCT s.type) AS types,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = s.chat_id AND m.date = s.date) AS message_count
		FROM summaries s WHERE s.chat_id = ?
		GROUP BY s.date ORDER BY s.date DESC`
	if err := s.db.SelectContext(ctx, &listings, q, chatID); err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	return listings, nil
}
