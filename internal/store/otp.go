package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jalsetu/apiserver/types"
)

// OTPRepository persists signup one-time passwords, one live code per email.
type OTPRepository struct {
	db *sql.DB
}

func NewOTPRepository(db *sql.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Upsert stores otp, replacing any previous code for the same email.
func (r *OTPRepository) Upsert(ctx context.Context, otp types.SignupOTP) error {
	const query = `
		INSERT INTO signup_otps (email, code_hash, expires_at, attempts, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (email) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			attempts = 0,
			created_at = EXCLUDED.created_at`
	_, err := r.db.ExecContext(ctx, query, strings.ToLower(otp.Email), otp.CodeHash, otp.ExpiresAt, otp.CreatedAt)
	return err
}

func (r *OTPRepository) Get(ctx context.Context, email string) (types.SignupOTP, error) {
	const query = `
		SELECT email, code_hash, expires_at, attempts, created_at
		FROM signup_otps
		WHERE email = $1`
	var otp types.SignupOTP
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(email)).Scan(
		&otp.Email,
		&otp.CodeHash,
		&otp.ExpiresAt,
		&otp.Attempts,
		&otp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SignupOTP{}, ErrNotFound
		}
		return types.SignupOTP{}, err
	}
	return otp, nil
}

func (r *OTPRepository) IncrementAttempts(ctx context.Context, email string) error {
	const query = `UPDATE signup_otps SET attempts = attempts + 1 WHERE email = $1`
	result, err := r.db.ExecContext(ctx, query, strings.ToLower(email))
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *OTPRepository) Delete(ctx context.Context, email string) error {
	const query = `DELETE FROM signup_otps WHERE email = $1`
	_, err := r.db.ExecContext(ctx, query, strings.ToLower(email))
	return err
}
