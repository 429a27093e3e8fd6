// Package db persists submitted transactions and their confirmation
// outcomes in Postgres.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("db: not found")

// Store provides database operations for the service.
// It implements pipeline.Recorder.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they don't exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SubmissionRecord is a stored submission joined with its outcome, if any.
type SubmissionRecord struct {
	pipeline.Submission
	CreatedAt time.Time
	Outcome   *OutcomeRecord
}

// OutcomeRecord is the stored form of a confirm.Outcome.
type OutcomeRecord struct {
	Hash       string
	Outcome    confirm.OutcomeKind
	Success    bool
	VMStatus   string
	Version    uint64
	Attempts   int
	Elapsed    time.Duration
	Error      *string
	RecordedAt time.Time
}

func (s *Store) observe(op, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
	}
}

const insertSubmission = `
INSERT INTO submissions (hash, sender, sequence_number, authenticator, secondaries, expires_at, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (hash) DO NOTHING`

// RecordSubmission stores sub. Recording the same hash twice is a no-op.
func (s *Store) RecordSubmission(ctx context.Context, sub pipeline.Submission) (err error) {
	start := time.Now()
	defer func() { s.observe("insert", "submissions", start, err) }()

	secondaries := make([]string, len(sub.Secondaries))
	for i, a := range sub.Secondaries {
		secondaries[i] = a.String()
	}

	_, err = s.pool.Exec(ctx, insertSubmission,
		sub.Hash,
		sub.Sender.String(),
		int64(sub.SequenceNumber),
		sub.Authenticator,
		secondaries,
		pgtype.Timestamptz{Time: sub.ExpiresAt, Valid: true},
		pgtype.Timestamptz{Time: sub.SubmittedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission %s: %w", sub.Hash, err)
	}
	return nil
}

const upsertOutcome = `
INSERT INTO outcomes (hash, outcome, success, vm_status, version, attempts, elapsed_ms, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (hash) DO UPDATE SET
    outcome = EXCLUDED.outcome,
    success = EXCLUDED.success,
    vm_status = EXCLUDED.vm_status,
    version = EXCLUDED.version,
    attempts = EXCLUDED.attempts,
    elapsed_ms = EXCLUDED.elapsed_ms,
    error = EXCLUDED.error,
    recorded_at = NOW()
WHERE outcomes.outcome <> 'committed'`

// RecordOutcome stores the latest outcome for o.Hash, replacing any earlier
// one unless that one is committed. A later await of the same hash may turn a
// timeout into a commit, never the other way round.
func (s *Store) RecordOutcome(ctx context.Context, o confirm.Outcome) (err error) {
	start := time.Now()
	defer func() { s.observe("upsert", "outcomes", start, err) }()

	var errText pgtype.Text
	if o.Err != nil {
		errText = pgtype.Text{String: o.Err.Error(), Valid: true}
	}

	_, err = s.pool.Exec(ctx, upsertOutcome,
		o.Hash,
		o.Kind.String(),
		o.Success,
		o.VMStatus,
		int64(o.Version),
		int32(o.Attempts),
		o.Elapsed.Milliseconds(),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome %s: %w", o.Hash, err)
	}
	return nil
}

const selectSubmission = `
SELECT s.hash, s.sender, s.sequence_number, s.authenticator, s.secondaries,
       s.expires_at, s.submitted_at, s.created_at,
       o.outcome, o.success, o.vm_status, o.version, o.attempts, o.elapsed_ms, o.error, o.recorded_at
FROM submissions s
LEFT JOIN outcomes o ON o.hash = s.hash`

// GetSubmission retrieves a submission by hash. ErrNotFound when absent.
func (s *Store) GetSubmission(ctx context.Context, hash string) (rec *SubmissionRecord, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	rows, err := s.pool.Query(ctx, selectSubmission+` WHERE s.hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}
	rec, err = pgx.CollectExactlyOneRow(rows, scanSubmission)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}
	return rec, nil
}

// ListSubmissionsParams contains pagination parameters.
type ListSubmissionsParams struct {
	Sender txn.Address
	Limit  int32
	Offset int32
}

// ListSubmissionsBySender returns a sender's submissions, most recent first.
func (s *Store) ListSubmissionsBySender(ctx context.Context, params ListSubmissionsParams) (recs []*SubmissionRecord, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectSubmission+` WHERE s.sender = $1 ORDER BY s.submitted_at DESC, s.sequence_number DESC LIMIT $2 OFFSET $3`,
		params.Sender.String(), limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	recs, err = pgx.CollectRows(rows, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("failed to scan submissions: %w", err)
	}
	return recs, nil
}

// ListPending returns submissions without a committed outcome, oldest
// first. These are the hashes a worker should resume confirming.
func (s *Store) ListPending(ctx context.Context, limit int32) (recs []*SubmissionRecord, err error) {
	start := time.Now()
	defer func() { s.observe("select", "submissions", start, err) }()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectSubmission+` WHERE o.hash IS NULL OR o.outcome <> 'committed'
ORDER BY s.submitted_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	recs, err = pgx.CollectRows(rows, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("failed to scan submissions: %w", err)
	}
	return recs, nil
}

// DeleteSubmissionsOlderThan deletes submissions and outcomes submitted before t.
func (s *Store) DeleteSubmissionsOlderThan(ctx context.Context, before time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { s.observe("delete", "submissions", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ts := pgtype.Timestamptz{Time: before, Valid: true}
	if _, err = tx.Exec(ctx, `DELETE FROM outcomes WHERE hash IN (SELECT hash FROM submissions WHERE submitted_at < $1)`, ts); err != nil {
		return 0, fmt.Errorf("failed to delete outcomes: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM submissions WHERE submitted_at < $1`, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to delete submissions: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubmission(row pgx.CollectableRow) (*SubmissionRecord, error) {
	var (
		rec         SubmissionRecord
		sender      string
		seq         int64
		secondaries []string
		expiresAt   pgtype.Timestamptz
		submittedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz

		outcome    pgtype.Text
		success    pgtype.Bool
		vmStatus   pgtype.Text
		version    pgtype.Int8
		attempts   pgtype.Int4
		elapsedMS  pgtype.Int8
		errText    pgtype.Text
		recordedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&rec.Hash, &sender, &seq, &rec.Authenticator, &secondaries,
		&expiresAt, &submittedAt, &createdAt,
		&outcome, &success, &vmStatus, &version, &attempts, &elapsedMS, &errText, &recordedAt,
	); err != nil {
		return nil, err
	}

	addr, err := txn.ParseAddress(sender)
	if err != nil {
		return nil, err
	}
	rec.Sender = addr
	rec.SequenceNumber = uint64(seq)
	rec.Secondaries = make([]txn.Address, len(secondaries))
	for i, s := range secondaries {
		if rec.Secondaries[i], err = txn.ParseAddress(s); err != nil {
			return nil, err
		}
	}
	rec.ExpiresAt = expiresAt.Time
	rec.SubmittedAt = submittedAt.Time
	rec.CreatedAt = createdAt.Time

	if outcome.Valid {
		kind, err := confirm.ParseOutcomeKind(outcome.String)
		if err != nil {
			return nil, err
		}
		rec.Outcome = &OutcomeRecord{
			Hash:       rec.Hash,
			Outcome:    kind,
			Success:    success.Bool,
			VMStatus:   vmStatus.String,
			Version:    uint64(version.Int64),
			Attempts:   int(attempts.Int32),
			Elapsed:    time.Duration(elapsedMS.Int64) * time.Millisecond,
			Error:      stringPtrFromPgtext(errText),
			RecordedAt: recordedAt.Time,
		}
	}
	return &rec, nil
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

var _ pipeline.Recorder = (*Store)(nil)
