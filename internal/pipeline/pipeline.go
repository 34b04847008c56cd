// Package pipeline drives an uploaded interview through video analysis,
// feedback synthesis and trait scoring, and commits the outcome.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/traits"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/repository"
	"github.com/garnizeh/mockprep/pkg/videoindex"
)

// VideoAnalyzer extracts a transcript and a free-text analysis from a stored
// recording. *videoindex.Client implements it.
type VideoAnalyzer interface {
	Analyze(ctx context.Context, ref, prompt string) (videoindex.Analysis, error)
}

// Synthesizer derives feedback, an archetype and a fit score. It never fails;
// fallbacks are reported through the result.
type Synthesizer interface {
	SynthesizeFeedback(ctx context.Context, transcript string) ai.Result[models.Feedback]
	ClassifyArchetype(ctx context.Context, transcript, analysis string) ai.Result[models.ArchetypeResult]
	ScoreFit(ctx context.Context, traits map[string]float64, job ai.JobContext) ai.Result[models.FitScore]
}

// Store is the persistence the orchestrator needs.
type Store interface {
	repository.InterviewRepo
	repository.JobPostingRepo
	repository.TraitRepo
}

type Orchestrator struct {
	store        Store
	video        VideoAnalyzer
	synth        Synthesizer
	policy       traits.Policy
	logger       *slog.Logger
	reclaimAfter time.Duration
}

// DefaultReclaimAfter is how long a processing interview may go untouched
// before a redelivered job takes it over.
const DefaultReclaimAfter = 15 * time.Minute

// New builds an orchestrator. A nil video analyzer fails every run with a
// non-retryable analysis error.
func New(store Store, video VideoAnalyzer, synth Synthesizer, policy traits.Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, video: video, synth: synth, policy: policy, logger: logger, reclaimAfter: DefaultReclaimAfter}
}

// SetReclaimAfter sets the idle window after which a processing interview
// is treated as abandoned. Non-positive values keep the current window.
func (o *Orchestrator) SetReclaimAfter(d time.Duration) {
	if d > 0 {
		o.reclaimAfter = d
	}
}

// Process runs the pipeline once for interviewID. A missing interview or one
// claimed by a live worker is a no-op. An interview left in processing past
// the reclaim window is taken over under a new attempt. Failures are
// recorded on the interview before being returned.
func (o *Orchestrator) Process(ctx context.Context, interviewID string) error {
	log := o.logger.With("interview_id", interviewID)

	iv, err := o.store.GetInterview(ctx, interviewID)
	if err != nil {
		return &Error{Kind: KindPersistenceFailure, Err: err}
	}
	if iv == nil {
		log.Info("interview not found, skipping")
		return nil
	}

	if strings.TrimSpace(iv.VideoRef) == "" {
		o.fail(ctx, log, interviewID, 0, &Error{Kind: KindMissingVideoReference, Err: ErrMissingVideo})
		return &Error{Kind: KindMissingVideoReference, Err: ErrMissingVideo}
	}

	attempt, ok, err := o.store.BeginProcessing(ctx, interviewID)
	if err != nil {
		return &Error{Kind: KindPersistenceFailure, Err: err}
	}
	if !ok {
		attempt, ok, err = o.store.ReclaimProcessing(ctx, interviewID, o.reclaimAfter)
		if err != nil {
			return &Error{Kind: KindPersistenceFailure, Err: err}
		}
	}
	if !ok {
		log.Info("interview not startable or owned by another worker", "status", string(iv.Status))
		return nil
	}
	log = log.With("attempt", attempt)
	log.Info("processing started")

	analysis, err := o.analyze(ctx, interviewID, iv.VideoRef)
	if err != nil {
		perr := &Error{Kind: KindAnalysisBackendFailure, Err: err}
		o.fail(ctx, log, interviewID, attempt, perr)
		return perr
	}

	fb := o.synth.SynthesizeFeedback(ctx, analysis.Transcript)
	feedback := fb.Value
	feedback.Analysis = analysis.Text
	arch := o.synth.ClassifyArchetype(ctx, analysis.Transcript, analysis.Text)

	profile, err := o.store.GetTraits(ctx, iv.UserID)
	if err != nil {
		log.Warn("load trait profile", "err", err)
		profile = map[string]float64{}
	}
	fit := o.synth.ScoreFit(ctx, profile, o.jobContext(ctx, log, iv))

	outcome := traits.Outcome{Succeeded: true, Archetype: arch.Value.Archetype}
	done, err := o.store.Complete(ctx, interviewID, attempt, repository.Completion{
		Transcript:     analysis.Transcript,
		Feedback:       feedback,
		PersonalityFit: models.PersonalityFit{JobFit: fit.Value, Archetype: arch.Value},
		Traits: func(current map[string]float64) map[string]float64 {
			return traits.Apply(current, outcome, o.policy)
		},
	})
	if err != nil {
		perr := &Error{Kind: KindPersistenceFailure, Err: err}
		o.fail(ctx, log, interviewID, attempt, perr)
		return perr
	}
	if !done {
		log.Warn("completion discarded, attempt superseded")
		return ErrSuperseded
	}

	log.Info("processing complete",
		"feedback_fallback", fb.IsFallback(),
		"archetype", arch.Value.Archetype,
		"fit_score", fit.Value.Score)
	return nil
}

// AnalysisPrompt grounds the default analysis instruction on the interview's
// first question.
func AnalysisPrompt(questions []models.Question) string {
	for _, q := range questions {
		if p := strings.TrimSpace(q.Prompt); p != "" {
			return "Question: " + p + "\n\n" + videoindex.DefaultPrompt
		}
	}
	return videoindex.DefaultPrompt
}

func (o *Orchestrator) analyze(ctx context.Context, interviewID, ref string) (videoindex.Analysis, error) {
	if o.video == nil {
		return videoindex.Analysis{}, videoindex.ErrNotConfigured
	}
	qs, err := o.store.ListQuestions(ctx, interviewID)
	if err != nil {
		o.logger.Warn("list questions, using default prompt", "interview_id", interviewID, "err", err)
	}
	return o.video.Analyze(ctx, ref, AnalysisPrompt(qs))
}

func (o *Orchestrator) jobContext(ctx context.Context, log *slog.Logger, iv *models.Interview) ai.JobContext {
	if iv.JobID == nil {
		return ai.JobContext{}
	}
	j, err := o.store.GetJobPosting(ctx, *iv.JobID)
	if err != nil || j == nil {
		if err != nil {
			log.Warn("load job posting", "err", err)
		}
		return ai.JobContext{}
	}
	return ai.JobContext{URL: j.URL, Company: j.Company, Title: j.Title, Description: j.Description}
}

// fail records perr on the interview. It survives cancellation of ctx so a
// shutdown mid-run does not leave the interview stuck in processing.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, id string, attempt int, perr *Error) {
	ctx = context.WithoutCancel(ctx)
	ok, err := o.store.Fail(ctx, id, attempt, models.PipelineError{
		Kind:      string(perr.Kind),
		Message:   perr.Err.Error(),
		Retryable: perr.Retryable(),
		At:        time.Now().UTC(),
	})
	switch {
	case err != nil:
		log.Error("record pipeline failure", "kind", string(perr.Kind), "err", err)
	case !ok:
		log.Warn("pipeline failure not recorded, interview moved on", "kind", string(perr.Kind))
	default:
		log.Error("processing failed", "kind", string(perr.Kind), "err", perr.Err, "retryable", perr.Retryable())
	}
}
