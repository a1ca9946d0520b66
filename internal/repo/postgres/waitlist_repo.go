package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yagsothebrand/waitlist-api/internal/domain"
)

// WaitlistRepo persists waitlist entries. Expected schema:
//
//	CREATE TABLE waitlist_entries (
//	    id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
//	    email              text NOT NULL UNIQUE,
//	    passcode           text NOT NULL DEFAULT '',
//	    status             text NOT NULL DEFAULT 'pending',
//	    login_attempt      int  NOT NULL DEFAULT 0,
//	    email_send_count   int  NOT NULL DEFAULT 0,
//	    created_at         timestamptz NOT NULL DEFAULT now(),
//	    updated_at         timestamptz NOT NULL DEFAULT now(),
//	    last_login         timestamptz,
//	    last_email_sent_at timestamptz
//	);
type WaitlistRepo interface {
	// CreateIfAbsent inserts a pending entry for email, or returns the
	// existing one. The upsert keeps exactly one row per normalized email
	// even under concurrent requests. created reports whether a new row was
	// inserted.
	CreateIfAbsent(ctx context.Context, email, passcode string) (rec *domain.WaitlistRecord, created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.WaitlistRecord, error)
	FindByEmail(ctx context.Context, email string) (*domain.WaitlistRecord, error)
	// EnsurePasscode backfills a passcode on entries that lost one; a no-op
	// when the entry already has a passcode. Returns the passcode now on the
	// row, whichever write won.
	EnsurePasscode(ctx context.Context, id, passcode string) (string, error)
	// MarkVerified performs the one-way pending -> verified transition and
	// stamps last_login. Idempotent; login_attempt never decreases.
	MarkVerified(ctx context.Context, id string) error
	// RecordEmailSent bumps email_send_count and stamps last_email_sent_at.
	RecordEmailSent(ctx context.Context, id string) error
	// TouchLastLogin stamps last_login and bumps login_attempt on an already
	// verified entry. Best-effort bookkeeping for session hydration.
	TouchLastLogin(ctx context.Context, id string) error
}

const recordColumns = `id, email, passcode, status, login_attempt, email_send_count, created_at, updated_at, last_login, last_email_sent_at`

type WaitlistRepoImpl struct{ pool *pgxpool.Pool }

func NewWaitlistRepo(pool *pgxpool.Pool) *WaitlistRepoImpl { return &WaitlistRepoImpl{pool: pool} }

func (r *WaitlistRepoImpl) CreateIfAbsent(ctx context.Context, email, passcode string) (*domain.WaitlistRecord, bool, error) {
	// The DO UPDATE arm is a no-op write whose only purpose is making the
	// existing row visible to RETURNING; xmax=0 distinguishes a fresh insert.
	const q = `
INSERT INTO waitlist_entries (email, passcode)
VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE SET email = excluded.email
RETURNING ` + recordColumns + `, (xmax = 0) AS inserted`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		rec     domain.WaitlistRecord
		created bool
	)
	if err := r.pool.QueryRow(ctx, q, email, passcode).Scan(
		&rec.ID, &rec.Email, &rec.Passcode, &rec.Status, &rec.LoginAttempt, &rec.EmailSendCount,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LastLogin, &rec.LastEmailSentAt, &created,
	); err != nil {
		return nil, false, err
	}
	return &rec, created, nil
}

func (r *WaitlistRepoImpl) GetByID(ctx context.Context, id string) (*domain.WaitlistRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM waitlist_entries WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.queryOne(ctx, q, id)
}

func (r *WaitlistRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.WaitlistRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM waitlist_entries WHERE email=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.queryOne(ctx, q, email)
}

func (r *WaitlistRepoImpl) EnsurePasscode(ctx context.Context, id, passcode string) (string, error) {
	// Conditional write instead of read-then-update, so two concurrent
	// backfills settle on a single passcode.
	const q = `
UPDATE waitlist_entries
SET passcode = CASE WHEN passcode = '' THEN $2 ELSE passcode END,
    updated_at = now()
WHERE id = $1
RETURNING passcode`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var current string
	err := r.pool.QueryRow(ctx, q, id, passcode).Scan(&current)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return current, err
}

func (r *WaitlistRepoImpl) MarkVerified(ctx context.Context, id string) error {
	const q = `
UPDATE waitlist_entries
SET status = 'verified',
    login_attempt = GREATEST(login_attempt, 1),
    last_login = now(),
    updated_at = now()
WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *WaitlistRepoImpl) RecordEmailSent(ctx context.Context, id string) error {
	const q = `
UPDATE waitlist_entries
SET email_send_count = email_send_count + 1,
    last_email_sent_at = now(),
    updated_at = now()
WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *WaitlistRepoImpl) TouchLastLogin(ctx context.Context, id string) error {
	const q = `
UPDATE waitlist_entries
SET login_attempt = login_attempt + 1,
    last_login = now(),
    updated_at = now()
WHERE id = $1 AND status = 'verified'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *WaitlistRepoImpl) queryOne(ctx context.Context, q string, arg any) (*domain.WaitlistRecord, error) {
	var rec domain.WaitlistRecord
	err := r.pool.QueryRow(ctx, q, arg).Scan(
		&rec.ID, &rec.Email, &rec.Passcode, &rec.Status, &rec.LoginAttempt, &rec.EmailSendCount,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LastLogin, &rec.LastEmailSentAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
