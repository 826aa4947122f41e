package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/database"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// UserRepository defines data access for registered identities.
type UserRepository interface {
	// Create inserts a new user. Returns apperrors.ErrConflict if the
	// username is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by id. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, id int64) (*models.User, error)

	// GetByUsername retrieves a user by username. Returns apperrors.ErrNotFound if absent.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// SetTag updates the user's free-form tag.
	SetTag(ctx context.Context, id int64, tag string) error

	// Exists reports whether a user with the given id exists.
	Exists(ctx context.Context, id int64) (bool, error)
}

type userRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, user.Username, user.DisplayName, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.get(ctx, `SELECT id, username, display_name, password_hash, tag, created_at
		FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.get(ctx, `SELECT id, username, display_name, password_hash, tag, created_at
		FROM users WHERE username = $1`, username)
}

func (r *userRepository) get(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Tag, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) SetTag(ctx context.Context, id int64, tag string) error {
	ct, err := r.db.Exec(ctx, `UPDATE users SET tag = $1 WHERE id = $2`, tag, id)
	if err != nil {
		return fmt.Errorf("failed to set user tag: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *userRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
