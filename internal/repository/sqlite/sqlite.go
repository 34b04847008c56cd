package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/mockprep/internal/db"
	"github.com/garnizeh/mockprep/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.UserRepo = (*SQLiteRepo)(nil)
var _ repository.JobPostingRepo = (*SQLiteRepo)(nil)
var _ repository.InterviewRepo = (*SQLiteRepo)(nil)
var _ repository.TraitRepo = (*SQLiteRepo)(nil)
var _ repository.ResponseRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// execer is satisfied by *sql.Tx and *sql.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
