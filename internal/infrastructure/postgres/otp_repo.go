package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OTPRepository struct {
	pool *pgxpool.Pool
}

func NewOTPRepository(pool *pgxpool.Pool) *OTPRepository {
	return &OTPRepository{pool: pool}
}

func (r *OTPRepository) Replace(ctx context.Context, otp *domain.OTP, sharedEmail string) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise issuers for the same subject so two concurrent Replace calls
	// cannot both leave an active code behind.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, otp.Subject.String()); err != nil {
		return fmt.Errorf("lock otp subject: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM otps
		WHERE subject_kind = $1 AND subject_value = $2 AND purpose = $3 AND NOT used`,
		string(otp.Subject.Kind), otp.Subject.Value, string(otp.Purpose),
	); err != nil {
		return fmt.Errorf("delete prior otps: %w", err)
	}

	if sharedEmail != "" {
		if _, err := tx.Exec(ctx, `
			DELETE FROM otps o
			USING users u
			WHERE o.subject_kind = 'user'
			  AND o.subject_value = u.id
			  AND lower(u.email) = lower($1)
			  AND o.purpose = $2
			  AND NOT o.used`,
			sharedEmail, string(otp.Purpose),
		); err != nil {
			return fmt.Errorf("delete user otps for email: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO otps (id, subject_kind, subject_value, code_hash, purpose, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		otp.ID, string(otp.Subject.Kind), otp.Subject.Value, otp.CodeHash, string(otp.Purpose), otp.CreatedAt, otp.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit otp: %w", err)
	}
	return nil
}

func (r *OTPRepository) Consume(ctx context.Context, subject domain.SubjectRef, codeHash string, purpose domain.OTPPurpose, now time.Time) (bool, error) {
	// Single statement: the row lock taken by UPDATE makes a second consumer
	// see used = TRUE and match nothing.
	var id string
	err := r.pool.QueryRow(ctx, `
		UPDATE otps
		SET    used = TRUE
		WHERE  id = (
			SELECT id FROM otps
			WHERE  subject_kind = $1
			  AND  subject_value = $2
			  AND  code_hash = $3
			  AND  purpose = $4
			  AND  NOT used
			  AND  expires_at > $5
			LIMIT 1
			FOR UPDATE
		)
		AND NOT used
		RETURNING id`,
		string(subject.Kind), subject.Value, codeHash, string(purpose), now,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return true, nil
}

func (r *OTPRepository) DeleteStale(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM otps WHERE used OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete stale otps: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
