package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garnizeh/mockprep/pkg/models"
)

func (r *SQLiteRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if u == nil {
		return 0, fmt.Errorf("user is nil")
	}
	if strings.TrimSpace(u.Username) == "" {
		return 0, fmt.Errorf("username is required")
	}

	created := now()
	res, err := r.conn.Exec(ctx, `INSERT INTO users (username, email, password_hash, created) VALUES (?, ?, ?, ?)`, u.Username, u.Email, u.PasswordHash, created)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID, u.Created = id, created
	return id, nil
}

func (r *SQLiteRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.scanUser(r.conn.QueryRow(ctx, `SELECT id, username, email, password_hash, created FROM users WHERE id = ?`, id))
}

func (r *SQLiteRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.scanUser(r.conn.QueryRow(ctx, `SELECT id, username, email, password_hash, created FROM users WHERE username = ?`, username))
}

func (r *SQLiteRepo) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
