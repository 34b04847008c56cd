package models

import (
	"encoding/json"
	"time"

	"github.com/garnizeh/mockprep/internal/interview"
)

// Domain models matching the database schema in db/migrations/0001_init.sql

type User struct {
	ID           int64  `json:"id" db:"id"`
	Username     string `json:"username" db:"username" validate:"required"`
	Email        string `json:"email,omitempty" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	Created      int64  `json:"created" db:"created"`
}

// JobPosting is the target role an interview is practising for.
type JobPosting struct {
	ID          string `json:"id" db:"id"`
	UserID      int64  `json:"user_id" db:"user_id"`
	URL         string `json:"url" db:"url"`
	Title       string `json:"title,omitempty" db:"title"`
	Company     string `json:"company,omitempty" db:"company"`
	Location    string `json:"location,omitempty" db:"location"`
	Description string `json:"description,omitempty" db:"description"`
	Created     int64  `json:"created" db:"created"`
}

type Interview struct {
	ID                 string           `json:"id" db:"id"`
	UserID             int64            `json:"user_id" db:"user_id"`
	JobID              *string          `json:"job_id,omitempty" db:"job_id"`
	Status             interview.Status `json:"status" db:"status"`
	VideoRef           string           `json:"video_ref,omitempty" db:"video_ref"`
	VideoMIME          string           `json:"video_mime,omitempty" db:"video_mime"`
	VideoSize          *int64           `json:"video_size,omitempty" db:"video_size"`
	Transcript         string           `json:"transcript,omitempty" db:"transcript"`
	Feedback           *Feedback        `json:"feedback,omitempty" db:"feedback_json"`
	PersonalityFit     *PersonalityFit  `json:"personality_fit,omitempty" db:"personality_fit_json"`
	GeneratedQuestions json.RawMessage  `json:"generated_questions,omitempty" db:"generated_questions_json"`
	Error              *PipelineError   `json:"error,omitempty" db:"error_json"`
	Attempts           int              `json:"attempts" db:"attempts"`
	Retryable          bool             `json:"-" db:"retryable"`
	Created            time.Time        `json:"created" db:"created"`
	Updated            time.Time        `json:"updated" db:"updated"`

	Questions []Question `json:"questions,omitempty" db:"-"`
}

type Question struct {
	ID          string `json:"id" db:"id"`
	InterviewID string `json:"interview_id" db:"interview_id"`
	Order       int    `json:"order" db:"position"`
	Prompt      string `json:"prompt" db:"prompt"`
	Competency  string `json:"competency,omitempty" db:"competency"`
	Created     int64  `json:"created" db:"created"`
}

// Response is one answer inside the recording.
type Response struct {
	ID                string          `json:"id" db:"id"`
	QuestionID        string          `json:"question_id" db:"question_id"`
	TranscriptExcerpt string          `json:"transcript_excerpt,omitempty" db:"transcript_excerpt"`
	StartMS           *int64          `json:"start_ms,omitempty" db:"start_ms"`
	EndMS             *int64          `json:"end_ms,omitempty" db:"end_ms"`
	Feedback          json.RawMessage `json:"feedback,omitempty" db:"feedback_json"`
	Created           int64           `json:"created" db:"created"`
}

type TraitProfile struct {
	UserID  int64              `json:"user_id" db:"user_id"`
	Traits  map[string]float64 `json:"traits" db:"traits_json"`
	Updated int64              `json:"updated" db:"updated"`
}

// Source tells whether a derived artifact came from the backend or a fallback.
type Source string

const (
	SourceBackend  Source = "backend"
	SourceFallback Source = "fallback"
)

type Feedback struct {
	Summary    string   `json:"summary"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	Analysis   string   `json:"analysis,omitempty"`
	Source     Source   `json:"source,omitempty"`
	Reason     string   `json:"fallback_reason,omitempty"`
}

type FitScore struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Source    Source  `json:"source,omitempty"`
	Reason    string  `json:"fallback_reason,omitempty"`
}

type ArchetypeResult struct {
	Archetype string `json:"archetype"`
	Rationale string `json:"rationale,omitempty"`
	Source    Source `json:"source,omitempty"`
	Reason    string `json:"fallback_reason,omitempty"`
}

type PersonalityFit struct {
	JobFit    FitScore        `json:"job_fit"`
	Archetype ArchetypeResult `json:"archetype"`
}

// PipelineError is the structured failure recorded on an interview.
type PipelineError struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}
