package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cliphive/ms-go-account/app/entity"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicateEntry is returned when an insert or update violates the
// unique index on email or username.
var ErrDuplicateEntry = errors.New("duplicate entry")

const mysqlDuplicateEntry = 1062

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (id, username, email, full_name, password_hash, avatar_url, cover_image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.AvatarURL,
		user.CoverImageURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return ErrDuplicateEntry
	}
	return err
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	query := `
		SELECT id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at
		FROM users WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmailOrUsername resolves a user by either identifier. An empty
// string never matches because both columns are non-empty by construction.
func (r *UserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error) {
	query := `
		SELECT id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at
		FROM users WHERE email = ? OR username = ? LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email, username))
}

// SetRefreshToken overwrites the single refresh-token slot unconditionally.
// Like every update below it touches only the named column, so rotating a
// token never re-validates unrelated fields of the record.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id, refreshToken string) error {
	query := `UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, refreshToken, time.Now(), id)
	return err
}

// RotateRefreshToken replaces the slot only when it still holds oldToken.
// The compare-and-set closes the race between two concurrent refreshes:
// at most one presenter of the same token can win.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error) {
	query := `UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ? AND refresh_token = ?`
	result, err := r.db.ExecContext(ctx, query, newToken, time.Now(), id, oldToken)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string) error {
	query := `UPDATE users SET refresh_token = NULL, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
	return err
}

func (r *UserRepository) UpdateFullName(ctx context.Context, id, fullName string) error {
	query := `UPDATE users SET full_name = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, fullName, time.Now(), id)
	return err
}

func (r *UserRepository) UpdateEmail(ctx context.Context, id, email string) error {
	query := `UPDATE users SET email = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, email, time.Now(), id)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return ErrDuplicateEntry
	}
	return err
}

func (r *UserRepository) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	query := `UPDATE users SET avatar_url = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, avatarURL, time.Now(), id)
	return err
}

func (r *UserRepository) UpdateCoverImageURL(ctx context.Context, id, coverImageURL string) error {
	query := `UPDATE users SET cover_image_url = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, coverImageURL, time.Now(), id)
	return err
}

func (r *UserRepository) scanOne(row *sql.Row) (*entity.User, error) {
	user := &entity.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.CoverImageURL,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
