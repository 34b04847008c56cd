package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garnizeh/mockprep/internal/interview"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/repository"
	"github.com/google/uuid"
)

const interviewColumns = `id, user_id, job_id, status, video_ref, video_mime, video_size, transcript,
	feedback_json, personality_fit_json, generated_questions_json, error_json, attempts, retryable, created, updated`

// CreateInterview writes the interview, its job posting and its questions in
// one transaction. Question order is reassigned densely from zero.
func (r *SQLiteRepo) CreateInterview(ctx context.Context, n repository.NewInterview) error {
	iv := n.Interview
	if iv == nil {
		return fmt.Errorf("interview is nil")
	}
	if !iv.Status.Valid() {
		return fmt.Errorf("invalid status %q", iv.Status)
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}

	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if n.Job != nil {
			n.Job.UserID = iv.UserID
			if err := insertJobPosting(ctx, tx, n.Job); err != nil {
				return err
			}
			iv.JobID = &n.Job.ID
		}

		ts := now()
		var gq sql.NullString
		if len(iv.GeneratedQuestions) > 0 {
			gq = sql.NullString{String: string(iv.GeneratedQuestions), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO interviews (id, user_id, job_id, status, generated_questions_json, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			iv.ID, iv.UserID, iv.JobID, string(iv.Status), gq, ts, ts)
		if err != nil {
			return fmt.Errorf("insert interview: %w", err)
		}
		iv.Created, iv.Updated = fromMillis(ts), fromMillis(ts)

		iv.Questions = make([]models.Question, 0, len(n.Questions))
		for i, q := range n.Questions {
			if q.ID == "" {
				q.ID = uuid.NewString()
			}
			q.InterviewID = iv.ID
			q.Order = i
			q.Created = ts
			if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id, interview_id, position, prompt, competency, created) VALUES (?, ?, ?, ?, ?, ?)`,
				q.ID, q.InterviewID, q.Order, q.Prompt, q.Competency, q.Created); err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
			iv.Questions = append(iv.Questions, q)
		}
		return nil
	})
}

func (r *SQLiteRepo) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE id = ?`, id)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return iv, nil
}

func (r *SQLiteRepo) ListInterviewsByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Interview, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.conn.QueryRows(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE user_id = ? ORDER BY created DESC, id LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ListQuestions(ctx context.Context, interviewID string) ([]models.Question, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, interview_id, position, prompt, competency, created FROM questions WHERE interview_id = ? ORDER BY position`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.InterviewID, &q.Order, &q.Prompt, &q.Competency, &q.Created); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) DeleteInterview(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM interviews WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepo) GetStatus(ctx context.Context, id string) (interview.Status, error) {
	var s string
	err := r.conn.QueryRow(ctx, `SELECT status FROM interviews WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return interview.Status(s), nil
}

// AttachVideo fires EventVideoUploaded and resets the outputs of any earlier run.
func (r *SQLiteRepo) AttachVideo(ctx context.Context, id, ref, mime string, size *int64) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("video reference is required")
	}
	ok, err := r.transition(ctx, r.conn.GetConn(), id, interview.EventVideoUploaded,
		`video_ref = ?, video_mime = ?, video_size = ?, transcript = '', feedback_json = NULL,
		 personality_fit_json = NULL, error_json = NULL, retryable = 0`,
		[]any{ref, mime, size}, "", nil)
	if err != nil {
		return err
	}
	if !ok {
		return r.transitionError(ctx, id, interview.EventVideoUploaded)
	}
	return nil
}

// BeginProcessing is the per-interview lock: only one caller can move an
// interview into processing for a given attempt number.
func (r *SQLiteRepo) BeginProcessing(ctx context.Context, id string) (int, bool, error) {
	started := interview.Sources(interview.EventProcessingStarted)
	retried := interview.Sources(interview.EventRetryStarted)
	target, _ := interview.Target(interview.EventProcessingStarted)

	args := []any{string(target), now(), id}
	for _, s := range started {
		args = append(args, string(s))
	}
	for _, s := range retried {
		args = append(args, string(s))
	}

	q := `UPDATE interviews
		SET status = ?, attempts = attempts + 1, error_json = NULL, retryable = 0, updated = ?
		WHERE id = ? AND video_ref != ''
		  AND (status IN (` + placeholders(len(started)) + `)
		       OR (status IN (` + placeholders(len(retried)) + `) AND retryable = 1))
		RETURNING attempts`

	var attempt int
	err := r.conn.QueryRow(ctx, q, args...).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("begin processing: %w", err)
	}
	return attempt, true, nil
}

// ReclaimProcessing fires EventProcessingReclaimed for an interview that has
// sat in processing, untouched, for at least idle. The attempt counter moves
// on, so the abandoned attempt can no longer commit.
func (r *SQLiteRepo) ReclaimProcessing(ctx context.Context, id string, idle time.Duration) (int, bool, error) {
	sources := interview.Sources(interview.EventProcessingReclaimed)
	target, _ := interview.Target(interview.EventProcessingReclaimed)
	ts := now()

	args := []any{string(target), ts, id, ts - idle.Milliseconds()}
	for _, s := range sources {
		args = append(args, string(s))
	}
	q := `UPDATE interviews
		SET status = ?, attempts = attempts + 1, updated = ?
		WHERE id = ? AND video_ref != '' AND updated <= ?
		  AND status IN (` + placeholders(len(sources)) + `)
		RETURNING attempts`

	var attempt int
	err := r.conn.QueryRow(ctx, q, args...).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reclaim processing: %w", err)
	}
	r.logger.Info("reclaimed abandoned interview", "id", id, "attempt", attempt)
	return attempt, true, nil
}

func (r *SQLiteRepo) Fail(ctx context.Context, id string, attempt int, perr models.PipelineError) (bool, error) {
	b, err := json.Marshal(perr)
	if err != nil {
		return false, fmt.Errorf("encode pipeline error: %w", err)
	}

	where, whereArgs := "", []any(nil)
	if attempt > 0 {
		where, whereArgs = "attempts = ?", []any{attempt}
	}
	retryable := 0
	if perr.Retryable {
		retryable = 1
	}
	return r.transition(ctx, r.conn.GetConn(), id, interview.EventProcessingFailed,
		`error_json = ?, retryable = ?`, []any{string(b), retryable}, where, whereArgs)
}

// Complete commits a successful run. The status guard and the trait update
// share one transaction, so a superseded attempt writes nothing.
func (r *SQLiteRepo) Complete(ctx context.Context, id string, attempt int, c repository.Completion) (bool, error) {
	fb, err := json.Marshal(c.Feedback)
	if err != nil {
		return false, fmt.Errorf("encode feedback: %w", err)
	}
	fit, err := json.Marshal(c.PersonalityFit)
	if err != nil {
		return false, fmt.Errorf("encode personality fit: %w", err)
	}

	var ok bool
	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = r.transition(ctx, tx, id, interview.EventProcessingSucceeded,
			`transcript = ?, feedback_json = ?, personality_fit_json = ?, error_json = NULL, retryable = 0`,
			[]any{c.Transcript, string(fb), string(fit)},
			"attempts = ?", []any{attempt})
		if err != nil || !ok {
			return err
		}
		if c.Traits == nil {
			return nil
		}

		var userID int64
		if err := tx.QueryRowContext(ctx, `SELECT user_id FROM interviews WHERE id = ?`, id).Scan(&userID); err != nil {
			return fmt.Errorf("load interview owner: %w", err)
		}
		current, err := getTraits(ctx, tx, userID)
		if err != nil {
			return err
		}
		return setTraits(ctx, tx, userID, c.Traits(current))
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *SQLiteRepo) ClearRetryable(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `UPDATE interviews SET retryable = 0, updated = ? WHERE id = ? AND status = ?`, now(), id, string(interview.StatusFailed))
	return err
}

// transition applies ev as a compare-and-set on the current status. set and
// where extend the UPDATE; it reports whether a row changed.
func (r *SQLiteRepo) transition(ctx context.Context, ex execer, id string, ev interview.Event, set string, setArgs []any, where string, whereArgs []any) (bool, error) {
	target, ok := interview.Target(ev)
	if !ok {
		return false, fmt.Errorf("%w: unknown event %q", interview.ErrIllegalTransition, ev)
	}
	sources := interview.Sources(ev)

	q := `UPDATE interviews SET status = ?, updated = ?`
	args := []any{string(target), now()}
	if set != "" {
		q += ", " + set
		args = append(args, setArgs...)
	}
	q += ` WHERE id = ? AND status IN (` + placeholders(len(sources)) + `)`
	args = append(args, id)
	for _, s := range sources {
		args = append(args, string(s))
	}
	if where != "" {
		q += " AND " + where
		args = append(args, whereArgs...)
	}

	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", ev, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		r.logger.Debug("interview transition", "id", id, "event", string(ev), "to", string(target))
	}
	return n == 1, nil
}

// transitionError explains why ev did not apply to id.
func (r *SQLiteRepo) transitionError(ctx context.Context, id string, ev interview.Event) error {
	cur, err := r.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	_, terr := interview.Transition(cur, ev)
	if terr == nil {
		terr = fmt.Errorf("%w: %s on %s", interview.ErrIllegalTransition, ev, cur)
	}
	return terr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (*models.Interview, error) {
	var (
		iv                         models.Interview
		status                     string
		jobID                      sql.NullString
		size                       sql.NullInt64
		feedback, fit, gq, errJSON sql.NullString
		retryable                  int
		created, updated           int64
	)
	if err := row.Scan(&iv.ID, &iv.UserID, &jobID, &status, &iv.VideoRef, &iv.VideoMIME, &size, &iv.Transcript,
		&feedback, &fit, &gq, &errJSON, &iv.Attempts, &retryable, &created, &updated); err != nil {
		return nil, err
	}

	iv.Status = interview.Status(status)
	iv.Retryable = retryable == 1
	iv.Created, iv.Updated = fromMillis(created), fromMillis(updated)
	if jobID.Valid {
		v := jobID.String
		iv.JobID = &v
	}
	if size.Valid {
		v := size.Int64
		iv.VideoSize = &v
	}
	if gq.Valid {
		iv.GeneratedQuestions = json.RawMessage(gq.String)
	}
	if feedback.Valid {
		iv.Feedback = &models.Feedback{}
		if err := json.Unmarshal([]byte(feedback.String), iv.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
	}
	if fit.Valid {
		iv.PersonalityFit = &models.PersonalityFit{}
		if err := json.Unmarshal([]byte(fit.String), iv.PersonalityFit); err != nil {
			return nil, fmt.Errorf("decode personality fit: %w", err)
		}
	}
	if errJSON.Valid {
		iv.Error = &models.PipelineError{}
		if err := json.Unmarshal([]byte(errJSON.String), iv.Error); err != nil {
			return nil, fmt.Errorf("decode pipeline error: %w", err)
		}
	}
	return &iv, nil
}
