package ai

import (
	"bytes"
	"text/template"
)

var (
	questionsTmpl = template.Must(template.New("questions").Parse(`You are an interview coach. Generate exactly 6 behavioral interview questions tailored to the job.
Return ONLY valid JSON (no markdown), as an array of objects.
Schema for each item:
{ "prompt": string, "competency": string, "why_this_matters": string, "good_signals": [string], "red_flags": [string] }
Make prompts concise and role-specific; vary competencies.

Job URL: {{.URL}}
Company: {{.Company}}
Title: {{.Title}}

Job description text:
{{.Description}}
`))

	feedbackTmpl = template.Must(template.New("feedback").Parse(`You are an interview coach. Given the transcript, produce JSON with keys:
summary (string), strengths (array of strings), weaknesses (array of strings).
Transcript:
{{.}}
`))

	archetypeTmpl = template.Must(template.New("archetype").Parse(`Classify the candidate's dominant behavioral archetype from the interview below.
Choose exactly one label:
{{range .Archetypes}}- {{.Name}}: {{.Traits}}
{{end}}
Return ONLY JSON: {"archetype": "<label>", "rationale": "<one or two sentences>"}

Transcript:
{{.Transcript}}

Analysis:
{{.Analysis}}
`))

	fitTmpl = template.Must(template.New("fit").Parse(`Given personality trait scores (0-100) and a target job, estimate the candidate's fit.
Return JSON: {"score": <number between 0 and 1>, "rationale": "<1-3 sentences>"}.

Traits: {{.Traits}}
Job: {{.Job.Title}} at {{.Job.Company}} {{.Job.URL}}
{{.Job.Description}}
`))
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
