package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/google/uuid"
)

func (r *SQLiteRepo) CreateResponse(ctx context.Context, resp *models.Response) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("response is nil")
	}
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	resp.Created = now()

	var fb sql.NullString
	if len(resp.Feedback) > 0 {
		fb = sql.NullString{String: string(resp.Feedback), Valid: true}
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO responses (id, question_id, transcript_excerpt, start_ms, end_ms, feedback_json, created) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.QuestionID, resp.TranscriptExcerpt, resp.StartMS, resp.EndMS, fb, resp.Created)
	if err != nil {
		return "", fmt.Errorf("insert response: %w", err)
	}
	return resp.ID, nil
}

func (r *SQLiteRepo) ListResponses(ctx context.Context, questionID string) ([]models.Response, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, question_id, transcript_excerpt, start_ms, end_ms, feedback_json, created FROM responses WHERE question_id = ? ORDER BY COALESCE(start_ms, 0), created`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Response
	for rows.Next() {
		var (
			resp       models.Response
			start, end sql.NullInt64
			fb         sql.NullString
		)
		if err := rows.Scan(&resp.ID, &resp.QuestionID, &resp.TranscriptExcerpt, &start, &end, &fb, &resp.Created); err != nil {
			return nil, err
		}
		if start.Valid {
			v := start.Int64
			resp.StartMS = &v
		}
		if end.Valid {
			v := end.Int64
			resp.EndMS = &v
		}
		if fb.Valid {
			resp.Feedback = []byte(fb.String)
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}
