package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/cliphive/ms-go-account/app/entity"
	"github.com/cliphive/ms-go-account/app/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

const (
	insertUserQuery         = `(?s)INSERT INTO users \(id, username, email, full_name, password_hash, avatar_url, cover_image_url, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?\)`
	findByIDQuery           = `(?s)SELECT id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at\s+FROM users WHERE id = \?`
	findByIdentifierQuery   = `(?s)SELECT id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at\s+FROM users WHERE email = \? OR username = \? LIMIT 1`
	setRefreshTokenQuery    = `UPDATE users SET refresh_token = \?, updated_at = \? WHERE id = \?`
	rotateRefreshTokenQuery = `UPDATE users SET refresh_token = \?, updated_at = \? WHERE id = \? AND refresh_token = \?`
	clearRefreshTokenQuery  = `UPDATE users SET refresh_token = NULL, updated_at = \? WHERE id = \?`
	updatePasswordQuery     = `UPDATE users SET password_hash = \?, updated_at = \? WHERE id = \?`
	updateEmailQuery        = `UPDATE users SET email = \?, updated_at = \? WHERE id = \?`
	updateAvatarQuery       = `UPDATE users SET avatar_url = \?, updated_at = \? WHERE id = \?`
)

var userColumns = []string{
	"id",
	"username",
	"email",
	"full_name",
	"password_hash",
	"avatar_url",
	"cover_image_url",
	"refresh_token",
	"created_at",
	"updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func userRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).AddRow(
		"user-1",
		"alice",
		"alice@x.com",
		"Alice",
		"$2a$10$hash",
		"https://cdn.example.com/avatar.png",
		nil,
		nil,
		now,
		now,
	)
}

func TestUserRepository_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)
	now := time.Now()
	user := &entity.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@x.com",
		FullName:     "Alice",
		PasswordHash: "$2a$10$hash",
		AvatarURL:    "https://cdn.example.com/avatar.png",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec(insertUserQuery).
		WithArgs("user-1", "alice", "alice@x.com", "Alice", "$2a$10$hash", "https://cdn.example.com/avatar.png", user.CoverImageURL, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)
	now := time.Now()
	user := &entity.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@x.com",
		FullName:     "Alice",
		PasswordHash: "$2a$10$hash",
		AvatarURL:    "https://cdn.example.com/avatar.png",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec(insertUserQuery).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.Create(context.Background(), user)
	if !errors.Is(err, repository.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestUserRepository_FindByEmailOrUsername(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)
	now := time.Now()

	mock.ExpectQuery(findByIdentifierQuery).
		WithArgs("alice@x.com", "alice").
		WillReturnRows(userRow(now))

	user, err := repo.FindByEmailOrUsername(context.Background(), "alice@x.com", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "user-1" || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.RefreshToken.Valid {
		t.Fatal("expected an empty refresh-token slot")
	}
}

func TestUserRepository_FindByEmailOrUsernameNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectQuery(findByIdentifierQuery).
		WithArgs("missing@x.com", "missing").
		WillReturnRows(sqlmock.NewRows(userColumns))

	user, err := repo.FindByEmailOrUsername(context.Background(), "missing@x.com", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}

func TestUserRepository_FindByID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)
	now := time.Now()

	mock.ExpectQuery(findByIDQuery).
		WithArgs("user-1").
		WillReturnRows(userRow(now))

	user, err := repo.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.Email != "alice@x.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUserRepository_SetRefreshToken(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(setRefreshTokenQuery).
		WithArgs("token-1", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetRefreshToken(context.Background(), "user-1", "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserRepository_RotateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(rotateRefreshTokenQuery).
		WithArgs("token-2", sqlmock.AnyArg(), "user-1", "token-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rotated, err := repo.RotateRefreshToken(context.Background(), "user-1", "token-1", "token-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation to succeed")
	}
}

func TestUserRepository_RotateRefreshTokenStale(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(rotateRefreshTokenQuery).
		WithArgs("token-2", sqlmock.AnyArg(), "user-1", "stale-token").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rotated, err := repo.RotateRefreshToken(context.Background(), "user-1", "stale-token", "token-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated {
		t.Fatal("expected rotation with a stale token to miss")
	}
}

func TestUserRepository_ClearRefreshToken(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(clearRefreshTokenQuery).
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ClearRefreshToken(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(updatePasswordQuery).
		WithArgs("$2a$10$newhash", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePassword(context.Background(), "user-1", "$2a$10$newhash"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserRepository_UpdateEmailDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(updateEmailQuery).
		WithArgs("taken@x.com", sqlmock.AnyArg(), "user-1").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.UpdateEmail(context.Background(), "user-1", "taken@x.com")
	if !errors.Is(err, repository.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestUserRepository_UpdateAvatarURL(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewUserRepository(db)

	mock.ExpectExec(updateAvatarQuery).
		WithArgs("https://cdn.example.com/new-avatar.png", sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateAvatarURL(context.Background(), "user-1", "https://cdn.example.com/new-avatar.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
