// Package users implements the credential store on PostgreSQL.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/dbx"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, is_active, is_verified, role, avatar_key, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (email, password_hash, is_active, is_verified, role)
         VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.IsActive, user.IsVerified, user.Role).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE email = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) LockUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 FOR UPDATE
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query :=
		`UPDATE users SET password_hash = $2
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *PostgresRepository) SetAvatar(ctx context.Context, id, avatarKey string) error {
	query :=
		`UPDATE users SET avatar_key = $2
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, avatarKey)
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive,
		&user.IsVerified, &user.Role, &user.AvatarKey, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
