// Package archive keeps a write-behind SQLite transcript of every message
// appended to History. It is never read back into History.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
)

var ErrQueueFull = errors.New("archive queue is full")

// Config holds archive settings.
type Config struct {
	Path           string
	QueueSize      int
	MaxConnections int
	RetryDelay     time.Duration
}

// Store is the SQLite-backed interfaces.Archive.
// TECHNICAL DISCOVERY: SQLite tolerates one writer at a time, so all inserts
// go through writeLoop while reads use the pool directly.
type Store struct {
	db      *sql.DB
	cfg     Config
	logger  *slog.Logger
	writeCh chan writeOperation

	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error // nil for fire-and-forget stores
}

var _ interfaces.Archive = (*Store)(nil)

// Open creates the database file if needed, applies migrations and starts
// the writer.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive")

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	applied, err := migrate(ctx, db, migrationFS)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("archive migrations applied", "versions", applied)
	}

	s := &Store{
		db:       db,
		cfg:      cfg,
		logger:   logger,
		writeCh:  make(chan writeOperation, cfg.QueueSize),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()

	logger.Info("archive opened", "path", cfg.Path)
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			s.run(op)
		case <-s.shutdown:
			for {
				select {
				case op := <-s.writeCh:
					s.run(op)
				default:
					return
				}
			}
		}
	}
}

// run executes one write, retrying once after RetryDelay.
func (s *Store) run(op writeOperation) {
	err := op.operation(s.db)
	if err != nil {
		s.logger.Warn("archive write failed, retrying", "err", err, "retry_in", s.cfg.RetryDelay)
		time.Sleep(s.cfg.RetryDelay)
		if err = op.operation(s.db); err != nil {
			s.logger.Error("archive write failed after retry", "err", err)
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

func (s *Store) enqueue(op writeOperation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return interfaces.ErrArchiveClosed
	}
	select {
	case s.writeCh <- op:
		return nil
	default:
		return ErrQueueFull
	}
}

// Store queues the message without waiting for the insert.
func (s *Store) Store(m types.Message) error {
	return s.enqueue(writeOperation{operation: func(db *sql.DB) error {
		return insert(db, m)
	}})
}

// Flush waits until every write queued before the call has completed.
func (s *Store) Flush(ctx context.Context) error {
	result := make(chan error, 1)
	if err := s.enqueue(writeOperation{
		operation: func(*sql.DB) error { return nil },
		result:    result,
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func insert(db *sql.DB, m types.Message) error {
	const query = `
		INSERT OR IGNORE INTO messages
			(id, kind, sender_id, sender_name, content, created_at, target_id, target_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query,
		m.ID,
		string(m.Kind),
		m.SenderID,
		m.SenderName,
		m.Content,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.TargetID,
		m.TargetName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	return nil
}

// Recent returns up to limit archived non-private messages, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, kind, sender_id, sender_name, content, created_at
		FROM messages
		WHERE kind != ?
		ORDER BY seq DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, string(types.KindPrivate), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var kind, created string
		if err := rows.Scan(&m.ID, &kind, &m.SenderID, &m.SenderName, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		m.Kind = types.Kind(kind)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.CreatedAt = t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of archived messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n)
	return n, err
}

// HealthCheck pings the database and runs a trivial read.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return interfaces.ErrArchiveClosed
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("archive ping failed: %w", err)
	}
	if _, err := s.Count(ctx); err != nil {
		return fmt.Errorf("archive read test failed: %w", err)
	}
	return nil
}

// Close drains queued writes and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	s.logger.Info("archive closed")
	return nil
}
