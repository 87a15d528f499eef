package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

func newRepoWithMock(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepo(sqlx.NewDb(db, "postgres")), mock
}

const insertQuery = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*name,\s*email,\s*password_hash,\s*role\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+created_at$`

const selectQuery = `(?s)^SELECT\s+id,\s*name,\s*email,\s*password_hash,\s*role,\s*created_at\s+FROM\s+users\s+WHERE\s+email=\$1$`

func TestCreate(t *testing.T) {
	r, mock := newRepoWithMock(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(insertQuery).
		WithArgs("42", "Alice", "alice@x.com", "hash", entity.RoleUser).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	u := &entity.User{ID: "42", Name: "Alice", Email: "alice@x.com", PasswordHash: "hash", Role: entity.RoleUser}
	require.NoError(t, r.Create(context.Background(), u))
	assert.Equal(t, created, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicate(t *testing.T) {
	r, mock := newRepoWithMock(t)
	mock.ExpectQuery(insertQuery).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := r.Create(context.Background(), &entity.User{ID: "1", Email: "alice@x.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestCreateDBError(t *testing.T) {
	r, mock := newRepoWithMock(t)
	mock.ExpectQuery(insertQuery).WillReturnError(errors.New("db down"))

	err := r.Create(context.Background(), &entity.User{ID: "1", Email: "alice@x.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
	assert.Contains(t, err.Error(), "db down")
}

func TestGetByEmail(t *testing.T) {
	r, mock := newRepoWithMock(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(selectQuery).
		WithArgs("alice@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at"}).
			AddRow("42", "Alice", "alice@x.com", "hash", "ADMIN", created))

	u, err := r.GetByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "42", u.ID)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, entity.RoleAdmin, u.Role)
	assert.Equal(t, "hash", u.PasswordHash)
}

func TestGetByEmailNotFound(t *testing.T) {
	r, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectQuery).
		WithArgs("nobody@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at"}))

	_, err := r.GetByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureTable(t *testing.T) {
	r, mock := newRepoWithMock(t)
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS users`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, r.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
