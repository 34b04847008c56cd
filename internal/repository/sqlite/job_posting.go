package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/google/uuid"
)

func (r *SQLiteRepo) CreateJobPosting(ctx context.Context, j *models.JobPosting) (string, error) {
	if j == nil {
		return "", fmt.Errorf("job posting is nil")
	}
	if err := insertJobPosting(ctx, r.conn.GetConn(), j); err != nil {
		return "", err
	}
	return j.ID, nil
}

func insertJobPosting(ctx context.Context, ex execer, j *models.JobPosting) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.Created = now()
	_, err := ex.ExecContext(ctx, `INSERT INTO job_postings (id, user_id, url, title, company, location, description, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.URL, j.Title, j.Company, j.Location, j.Description, j.Created)
	if err != nil {
		return fmt.Errorf("insert job posting: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetJobPosting(ctx context.Context, id string) (*models.JobPosting, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, user_id, url, title, company, location, description, created FROM job_postings WHERE id = ?`, id)
	var j models.JobPosting
	if err := row.Scan(&j.ID, &j.UserID, &j.URL, &j.Title, &j.Company, &j.Location, &j.Description, &j.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}
