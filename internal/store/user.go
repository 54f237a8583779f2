package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jalsetu/apiserver/types"
)

const accountColumns = `
	u.id, u.email, u.password_hash, u.email_verified, u.created_at, u.updated_at,
	p.id, p.full_name, p.phone, p.address, p.role`

// UserRepository handles persistence for users and their profiles.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var account types.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.EmailVerified,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.Profile.ID,
		&account.Profile.FullName,
		&account.Profile.Phone,
		&account.Profile.Address,
		&role,
	)
	if err != nil {
		return types.Account{}, err
	}
	account.Profile.Role = types.Role(role)
	return account, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM users u
		JOIN profiles p ON p.id = u.id
		WHERE u.id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM users u
		JOIN profiles p ON p.id = u.id
		WHERE u.email = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role types.Role) ([]types.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM users u
		JOIN profiles p ON p.id = u.id
		WHERE ($1 = '' OR p.role = $1)
		ORDER BY u.id`
	rows, err := r.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Create inserts the user and its profile in one transaction.
func (r *UserRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now()
	account.Email = strings.ToLower(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Account{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const userQuery = `
		INSERT INTO users (email, password_hash, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		userQuery,
		account.Email,
		account.PasswordHash,
		account.EmailVerified,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID); err != nil {
		return types.Account{}, translateError(err)
	}

	account.Profile.ID = account.ID
	const profileQuery = `
		INSERT INTO profiles (id, full_name, phone, address, role)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(
		ctx,
		profileQuery,
		account.Profile.ID,
		account.Profile.FullName,
		account.Profile.Phone,
		account.Profile.Address,
		string(account.Profile.Role),
	); err != nil {
		return types.Account{}, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, id int, verified bool) error {
	const query = `UPDATE users SET email_verified = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, verified, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, profile types.Profile) (types.Profile, error) {
	const query = `
		UPDATE profiles
		SET full_name = $1,
			phone = $2,
			address = $3
		WHERE id = $4
		RETURNING role`
	var role string
	err := r.db.QueryRowContext(ctx, query, profile.FullName, profile.Phone, profile.Address, profile.ID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Profile{}, ErrNotFound
		}
		return types.Profile{}, err
	}
	profile.Role = types.Role(role)
	return profile, nil
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
