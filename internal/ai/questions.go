package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// JobContext is the optional target-role context for an interview.
type JobContext struct {
	URL         string `json:"url,omitempty"`
	Company     string `json:"company,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Empty reports whether no field carries any text.
func (j JobContext) Empty() bool {
	return strings.TrimSpace(j.URL) == "" &&
		strings.TrimSpace(j.Company) == "" &&
		strings.TrimSpace(j.Title) == "" &&
		strings.TrimSpace(j.Description) == ""
}

// GeneratedQuestion is one item of the generated question set.
type GeneratedQuestion struct {
	Prompt         string   `json:"prompt"`
	Competency     string   `json:"competency"`
	WhyThisMatters string   `json:"why_this_matters,omitempty"`
	GoodSignals    []string `json:"good_signals,omitempty"`
	RedFlags       []string `json:"red_flags,omitempty"`
}

// QuestionGenerator produces behavioral questions for a job.
type QuestionGenerator struct {
	backend TextGenerator
	loader  *Loader
	opts    Options
}

// NewQuestionGenerator builds the adapter. backend may be nil, in which case
// every call with context falls back with ErrNotConfigured. A nil loader uses
// the embedded schemas.
func NewQuestionGenerator(backend TextGenerator, loader *Loader, opts Options) *QuestionGenerator {
	if loader == nil {
		loader = MustLoader()
	}
	return &QuestionGenerator{backend: backend, loader: loader, opts: opts.withDefaults()}
}

// Generate never fails: without context it returns the general set and
// does not call the backend; on any backend problem it returns a set
// interpolated from the context.
func (g *QuestionGenerator) Generate(ctx context.Context, jc JobContext) Result[[]GeneratedQuestion] {
	if jc.Empty() {
		return Fallback(GeneralQuestions(), ErrNoContext)
	}

	prompt, err := render(questionsTmpl, jc)
	if err != nil {
		return Fallback(ContextQuestions(jc), fmt.Errorf("render prompt: %w", err))
	}

	out, err := call(ctx, g.backend, g.opts.Timeout, prompt)
	if err != nil {
		g.opts.Logger.Warn("question generation fell back", slog.String("reason", err.Error()))
		return Fallback(ContextQuestions(jc), err)
	}

	qs, err := ParseQuestions(ctx, g.loader, out)
	if err != nil {
		g.opts.Logger.Warn("question generation output rejected",
			slog.String("reason", err.Error()),
			slog.Int("output_len", len(out)),
		)
		return Fallback(ContextQuestions(jc), err)
	}
	if len(qs) > g.opts.MaxQuestions {
		qs = qs[:g.opts.MaxQuestions]
	}

	return Enriched(qs)
}

// ParseQuestions extracts the question list from raw model output. Items
// failing the question schema are dropped; it is an error only when no item
// survives.
func ParseQuestions(ctx context.Context, loader *Loader, out string) ([]GeneratedQuestion, error) {
	payload := ExtractJSON(out)
	if payload == "" || !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: no JSON payload", ErrMalformedOutput)
	}

	root := gjson.Parse(payload)
	if root.IsObject() {
		// {"questions": [...]} or a single item
		if qs := root.Get("questions"); qs.IsArray() {
			root = qs
		}
	}

	var items []gjson.Result
	if root.IsArray() {
		items = root.Array()
	} else {
		items = []gjson.Result{root}
	}

	var rejected []error
	qs := make([]GeneratedQuestion, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			rejected = append(rejected, fmt.Errorf("item %d: not an object", i))
			continue
		}
		if err := loader.Validate(ctx, SchemaQuestion, []byte(item.Raw)); err != nil {
			rejected = append(rejected, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		q := GeneratedQuestion{
			Prompt:         strings.TrimSpace(item.Get("prompt").String()),
			Competency:     strings.TrimSpace(item.Get("competency").String()),
			WhyThisMatters: strings.TrimSpace(item.Get("why_this_matters").String()),
			GoodSignals:    stringList(item.Get("good_signals")),
			RedFlags:       stringList(item.Get("red_flags")),
		}
		if q.Prompt == "" || q.Competency == "" {
			rejected = append(rejected, fmt.Errorf("item %d: blank prompt or competency", i))
			continue
		}
		qs = append(qs, q)
	}

	if len(qs) == 0 {
		if len(rejected) == 0 {
			return nil, fmt.Errorf("%w: empty question list", ErrMalformedOutput)
		}
		return nil, fmt.Errorf("%w: no usable questions: %w", ErrMalformedOutput, errors.Join(rejected...))
	}
	return qs, nil
}

// stringList keeps the string elements of an array and ignores anything else.
func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				out = append(out, s)
			}
		}
		return true
	})
	return out
}

// GeneralQuestions is the fixed set used when no job context is given.
func GeneralQuestions() []GeneratedQuestion {
	return []GeneratedQuestion{
		{Prompt: "Tell me about a time you had to handle conflict on a team.", Competency: "Conflict resolution"},
		{Prompt: "Describe a time you took initiative without being asked.", Competency: "Ownership"},
		{Prompt: "Tell me about a time you made a mistake. What did you do next?", Competency: "Accountability"},
		{Prompt: "Give an example of working under a tight deadline.", Competency: "Execution"},
		{Prompt: "Tell me about a time you had to learn something quickly to succeed.", Competency: "Learning agility"},
		{Prompt: "Describe a time you influenced someone without authority.", Competency: "Influence"},
	}
}

// ContextQuestions is the deterministic set used when the backend cannot
// help. Each prompt carries the available role context.
func ContextQuestions(jc JobContext) []GeneratedQuestion {
	var base []string
	if role := strings.TrimSpace(strings.TrimSpace(jc.Company) + " " + strings.TrimSpace(jc.Title)); role != "" {
		base = append(base, "Role context: "+role)
	}
	if u := strings.TrimSpace(jc.URL); u != "" {
		base = append(base, "Job link: "+u)
	}
	roleCtx := "General behavioral interview"
	if len(base) > 0 {
		roleCtx = strings.Join(base, " | ")
	}

	return []GeneratedQuestion{
		{Prompt: fmt.Sprintf("Tell me about a time you handled conflict on a team. (%s)", roleCtx), Competency: "Conflict resolution"},
		{Prompt: fmt.Sprintf("Describe a time you took ownership of a problem end-to-end. (%s)", roleCtx), Competency: "Ownership"},
		{Prompt: fmt.Sprintf("Tell me about a time you failed and what you learned. (%s)", roleCtx), Competency: "Growth mindset"},
		{Prompt: fmt.Sprintf("Give an example of navigating ambiguity under time pressure. (%s)", roleCtx), Competency: "Execution"},
		{Prompt: fmt.Sprintf("Describe a time you learned a new skill quickly to deliver results. (%s)", roleCtx), Competency: "Learning agility"},
		{Prompt: fmt.Sprintf("Tell me about a time you influenced a decision without authority. (%s)", roleCtx), Competency: "Influence"},
	}
}
