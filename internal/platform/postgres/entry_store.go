// Package postgres provides the PostgreSQL-backed implementation of the
// entry store. Optimistic concurrency rides on a version column: every
// write is conditioned on the version the caller observed and bumps it.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/platform/logger"
	"github.com/pixelvault/pixelvault-api/internal/store"
)

// PostgreSQL error codes
const pgUniqueViolationCode = "23505"

// entryColumns is the select list shared by every query that scans a full
// entry row.
const entryColumns = `id, user_id, correlation_token, external_job_id, status, queue_position,
	result, failure_reason, retry_count, version, submitted_at, started_at, completed_at`

// PostgresEntryStore implements the store.EntryStore interface
// using a PostgreSQL database as the storage backend.
type PostgresEntryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEntryStore creates a new PostgreSQL implementation of the
// EntryStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresEntryStore(db store.DBTX, logger *slog.Logger) *PostgresEntryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEntryStore{
		db:     db,
		logger: logger.With(slog.String("component", "entry_store")),
	}
}

// Ensure PostgresEntryStore implements store.EntryStore interface
var _ store.EntryStore = (*PostgresEntryStore)(nil)

// Create implements store.EntryStore.Create
// It saves a new queue entry to the database, handling domain validation.
func (s *PostgresEntryStore) Create(ctx context.Context, entry *domain.QueueEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		log.Warn("entry validation failed during create",
			slog.String("error", err.Error()),
			slog.String("queue_id", entry.ID.String()))
		return err
	}

	query := `
		INSERT INTO queue_entries (id, user_id, correlation_token, external_job_id, status,
			queue_position, result, failure_reason, retry_count, version, submitted_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.UserID,
		entry.CorrelationToken,
		nullString(entry.ExternalJobID),
		entry.Status,
		entry.Position,
		[]byte(entry.Result),
		nullString(entry.FailureReason),
		entry.RetryCount,
		entry.Version,
		entry.SubmittedAt,
		entry.StartedAt,
		entry.CompletedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Warn("unique violation during entry creation",
				slog.String("error", err.Error()),
				slog.String("queue_id", entry.ID.String()))
			return store.ErrDuplicate
		}

		log.Error("failed to create entry",
			slog.String("error", err.Error()),
			slog.String("queue_id", entry.ID.String()),
			slog.String("user_id", entry.UserID.String()))
		return err
	}

	log.Info("entry created successfully",
		slog.String("queue_id", entry.ID.String()),
		slog.String("user_id", entry.UserID.String()),
		slog.Int("position", entry.Position))
	return nil
}

// GetByID implements store.EntryStore.GetByID
// Returns store.ErrEntryNotFound if the entry does not exist.
func (s *PostgresEntryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE id = $1`, entryColumns)
	return s.scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// GetByExternalJobID implements store.EntryStore.GetByExternalJobID
// The unique index on external_job_id guarantees at most one row.
func (s *PostgresEntryStore) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE external_job_id = $1`, entryColumns)
	return s.scanEntry(s.db.QueryRowContext(ctx, query, externalJobID))
}

// GetByCorrelationToken implements store.EntryStore.GetByCorrelationToken
// It returns the most recently submitted non-terminal entry for the token.
func (s *PostgresEntryStore) GetByCorrelationToken(ctx context.Context, token string) (*domain.QueueEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM queue_entries
		WHERE correlation_token = $1 AND status IN ('queued', 'processing')
		ORDER BY submitted_at DESC, id DESC
		LIMIT 1`, entryColumns)
	return s.scanEntry(s.db.QueryRowContext(ctx, query, token))
}

// ConditionalUpdate implements store.EntryStore.ConditionalUpdate
// The UPDATE is guarded by the version column; zero rows means either the
// entry is gone or another writer got there first.
func (s *PostgresEntryStore) ConditionalUpdate(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	patch store.EntryPatch,
) (*domain.QueueEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	sets := []string{"version = version + 1"}
	args := []any{}
	next := 1
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Position != nil {
		add("queue_position", *patch.Position)
	}
	if patch.ExternalJobID != nil {
		if *patch.ExternalJobID == "" {
			sets = append(sets, "external_job_id = NULL")
		} else {
			add("external_job_id", *patch.ExternalJobID)
		}
	}
	if patch.Result != nil {
		add("result", patch.Result)
	}
	if patch.FailureReason != nil {
		add("failure_reason", *patch.FailureReason)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}

	query := fmt.Sprintf(`
		UPDATE queue_entries SET %s
		WHERE id = $%d AND version = $%d
		RETURNING %s`,
		strings.Join(sets, ", "), next, next+1, entryColumns)
	args = append(args, id, expectedVersion)

	entry, err := s.scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return entry, nil
	}

	if errors.Is(err, store.ErrEntryNotFound) {
		// Zero rows: distinguish a missing entry from a version mismatch.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		log.Debug("conditional update lost version race",
			slog.String("queue_id", id.String()),
			slog.Int64("expected_version", expectedVersion))
		return nil, store.ErrVersionConflict
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		log.Warn("external job binding already taken",
			slog.String("queue_id", id.String()))
		return nil, store.ErrExternalJobTaken
	}

	log.Error("failed to apply conditional update",
		slog.String("error", err.Error()),
		slog.String("queue_id", id.String()))
	return nil, err
}

// ListQueued implements store.EntryStore.ListQueued
// Ordering by (submitted_at, id) keeps the ranking deterministic for
// entries submitted in the same instant.
func (s *PostgresEntryStore) ListQueued(ctx context.Context) ([]*domain.QueueEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM queue_entries
		WHERE status = 'queued'
		ORDER BY submitted_at ASC, id ASC`, entryColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, store.NewStoreError("queue_entry", "list_queued", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.QueueEntry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("queue_entry", "list_queued", "row iteration failed", err)
	}

	return entries, nil
}

// CountQueuedByUser implements store.EntryStore.CountQueuedByUser
func (s *PostgresEntryStore) CountQueuedByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM queue_entries WHERE user_id = $1 AND status = 'queued'`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, store.NewStoreError("queue_entry", "count_queued", "query failed", err)
	}
	return count, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry maps one row onto a domain entry, translating the nullable
// columns.
func (s *PostgresEntryStore) scanEntry(row rowScanner) (*domain.QueueEntry, error) {
	var (
		entry         domain.QueueEntry
		externalJobID sql.NullString
		result        []byte
		failureReason sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.CorrelationToken,
		&externalJobID,
		&entry.Status,
		&entry.Position,
		&result,
		&failureReason,
		&entry.RetryCount,
		&entry.Version,
		&entry.SubmittedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, err
	}

	if externalJobID.Valid {
		entry.ExternalJobID = externalJobID.String
	}
	if result != nil {
		entry.Result = result
	}
	if failureReason.Valid {
		entry.FailureReason = failureReason.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}

	return &entry, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
