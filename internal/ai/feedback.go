package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/tidwall/gjson"
)

const maxSummaryLen = 8000

// neutralFit is the score used when there are no traits to derive one from.
const neutralFit = 0.5

// FeedbackSynthesizer turns a transcript into feedback, an archetype and a
// job-fit estimate.
type FeedbackSynthesizer struct {
	backend TextGenerator
	loader  *Loader
	opts    Options
}

// NewFeedbackSynthesizer builds the adapter; a nil backend makes every call
// fall back with ErrNotConfigured.
func NewFeedbackSynthesizer(backend TextGenerator, loader *Loader, opts Options) *FeedbackSynthesizer {
	if loader == nil {
		loader = MustLoader()
	}
	return &FeedbackSynthesizer{backend: backend, loader: loader, opts: opts.withDefaults()}
}

// StubFeedback is the well-formed payload used when synthesis is impossible.
func StubFeedback() models.Feedback {
	return models.Feedback{
		Summary: "Automated feedback is unavailable for this recording; review the transcript against the STAR structure.",
		Strengths: []string{
			"Clear structure (Situation/Task/Action/Result) in parts of the response",
			"Concise communication",
		},
		Weaknesses: []string{
			"Add more quantifiable outcomes (metrics/impact)",
			"Tighten the 'Task' portion to clarify ownership",
		},
	}
}

// SynthesizeFeedback never fails. Structured output is parsed tolerantly;
// plain prose is kept as the summary.
func (s *FeedbackSynthesizer) SynthesizeFeedback(ctx context.Context, transcript string) Result[models.Feedback] {
	fallback := func(reason error) Result[models.Feedback] {
		fb := StubFeedback()
		fb.Source = models.SourceFallback
		fb.Reason = reason.Error()
		s.opts.Logger.Warn("feedback synthesis fell back", slog.String("reason", reason.Error()))
		return Fallback(fb, reason)
	}

	if strings.TrimSpace(transcript) == "" {
		return fallback(ErrNoContext)
	}
	prompt, err := render(feedbackTmpl, transcript)
	if err != nil {
		return fallback(fmt.Errorf("render prompt: %w", err))
	}
	out, err := call(ctx, s.backend, s.opts.Timeout, prompt)
	if err != nil {
		return fallback(err)
	}

	fb := models.Feedback{Strengths: []string{}, Weaknesses: []string{}, Source: models.SourceBackend}
	if payload := ExtractJSON(out); payload != "" && s.loader.Validate(ctx, SchemaFeedback, []byte(payload)) == nil {
		doc := gjson.Parse(payload)
		fb.Summary = strings.TrimSpace(doc.Get("summary").String())
		if v := stringList(doc.Get("strengths")); v != nil {
			fb.Strengths = v
		}
		if v := stringList(doc.Get("weaknesses")); v != nil {
			fb.Weaknesses = v
		}
		return Enriched(fb)
	}

	text := strings.TrimSpace(out)
	if text == "" {
		return fallback(ErrMalformedOutput)
	}
	fb.Summary = truncate(text, maxSummaryLen)
	return Enriched(fb)
}

// ClassifyArchetype never fails; anything outside the closed set becomes
// ArchetypeUnknown.
func (s *FeedbackSynthesizer) ClassifyArchetype(ctx context.Context, transcript, analysis string) Result[models.ArchetypeResult] {
	fallback := func(reason error) Result[models.ArchetypeResult] {
		s.opts.Logger.Warn("archetype classification fell back", slog.String("reason", reason.Error()))
		return Fallback(models.ArchetypeResult{
			Archetype: ArchetypeUnknown,
			Source:    models.SourceFallback,
			Reason:    reason.Error(),
		}, reason)
	}

	if strings.TrimSpace(transcript) == "" && strings.TrimSpace(analysis) == "" {
		return fallback(ErrNoContext)
	}
	prompt, err := render(archetypeTmpl, map[string]any{
		"Archetypes": Archetypes,
		"Transcript": transcript,
		"Analysis":   analysis,
	})
	if err != nil {
		return fallback(fmt.Errorf("render prompt: %w", err))
	}
	out, err := call(ctx, s.backend, s.opts.Timeout, prompt)
	if err != nil {
		return fallback(err)
	}

	var label, rationale string
	if payload := ExtractJSON(out); payload != "" && gjson.Valid(payload) {
		doc := gjson.Parse(payload)
		label = doc.Get("archetype").String()
		rationale = strings.TrimSpace(doc.Get("rationale").String())
	} else {
		// a bare label is acceptable
		label = out
	}

	name := NormalizeArchetype(label)
	if name == ArchetypeUnknown {
		return fallback(fmt.Errorf("%w: archetype %q not in the known set", ErrMalformedOutput, truncate(label, 64)))
	}
	return Enriched(models.ArchetypeResult{Archetype: name, Rationale: rationale, Source: models.SourceBackend})
}

// ScoreFit never fails. When the backend gives no usable number the score is
// derived from the trait profile.
func (s *FeedbackSynthesizer) ScoreFit(ctx context.Context, traits map[string]float64, job JobContext) Result[models.FitScore] {
	derived := TraitFit(traits)
	fallback := func(reason error) Result[models.FitScore] {
		s.opts.Logger.Warn("fit scoring fell back", slog.String("reason", reason.Error()))
		return Fallback(models.FitScore{
			Score:     derived,
			Rationale: "Estimated from the current trait profile; no model rationale is available.",
			Source:    models.SourceFallback,
			Reason:    reason.Error(),
		}, reason)
	}

	tj, err := json.Marshal(sortedTraits(traits))
	if err != nil {
		return fallback(fmt.Errorf("encode traits: %w", err))
	}
	prompt, err := render(fitTmpl, map[string]any{"Traits": string(tj), "Job": job})
	if err != nil {
		return fallback(fmt.Errorf("render prompt: %w", err))
	}
	out, err := call(ctx, s.backend, s.opts.Timeout, prompt)
	if err != nil {
		return fallback(err)
	}

	fit := models.FitScore{Score: derived, Source: models.SourceBackend}
	if payload := ExtractJSON(out); payload != "" && s.loader.Validate(ctx, SchemaFit, []byte(payload)) == nil {
		doc := gjson.Parse(payload)
		fit.Score = normalizeScore(doc.Get("score").Float())
		fit.Rationale = strings.TrimSpace(doc.Get("rationale").String())
		return Enriched(fit)
	}

	fit.Rationale = truncate(strings.TrimSpace(out), maxSummaryLen)
	if fit.Rationale == "" {
		return fallback(ErrMalformedOutput)
	}
	return Enriched(fit)
}

// TraitFit derives a score in [0,1] from the mean trait value on a 0-100
// scale; an empty profile is neutral.
func TraitFit(traits map[string]float64) float64 {
	if len(traits) == 0 {
		return neutralFit
	}
	var sum float64
	for _, v := range traits {
		sum += v
	}
	return normalizeScore(sum / float64(len(traits)))
}

// normalizeScore accepts either a fraction or a percentage.
func normalizeScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		v /= 100
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*100) / 100
}

type traitScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func sortedTraits(traits map[string]float64) []traitScore {
	out := make([]traitScore, 0, len(traits))
	for k, v := range traits {
		out = append(out, traitScore{Name: k, Score: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
