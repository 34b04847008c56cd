package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garnizeh/mockprep/internal/jobs"
)

// JobType is the queue job type that runs Process.
const JobType = "process_interview"

// Payload is the body of a JobType job.
type Payload struct {
	InterviewID string `json:"interview_id"`
}

// Handler adapts Process to the job queue. On the last attempt a retryable
// failure is made final so the interview stays failed.
func (o *Orchestrator) Handler() jobs.Handler {
	return func(ctx context.Context, j *jobs.Job) error {
		var p Payload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		if p.InterviewID == "" {
			return errors.New("payload has no interview_id")
		}

		err := o.Process(ctx, p.InterviewID)
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		if err != nil && jobs.IsRetryable(err) && j.FinalAttempt() {
			if cerr := o.store.ClearRetryable(context.WithoutCancel(ctx), p.InterviewID); cerr != nil {
				o.logger.Error("clear retryable flag", "interview_id", p.InterviewID, "err", cerr)
			}
		}
		return err
	}
}
