// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import "time"

// Analysis modes accepted by SubmitAnalysisRequest.
const (
	ModePage  = "page"
	ModeBatch = "batch"
)

// SubmitAnalysisRequest is the request body for starting an analysis job.
type SubmitAnalysisRequest struct {
	// URL of the page (mode=page) or site (mode=batch) to analyze.
	URL string `json:"url"`

	// Mode selects the job class: "page" for a single page, "batch" for a
	// multi-page run. Defaults to "page" when empty.
	Mode string `json:"mode,omitempty"`

	// Language for the generated descriptions, e.g. "en", "de".
	Language string `json:"language,omitempty"`

	// Provider/model overrides passed through to the analyzer.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// MaxImages caps how many images a batch run may process.
	MaxImages int `json:"max_images,omitempty"`
}

// SubmitAnalysisResponse is the response body after submitting a job.
type SubmitAnalysisResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// AnalysisResult summarizes the artifacts a completed job produced.
type AnalysisResult struct {
	Artifacts []string `json:"artifacts"`
	OutputDir string   `json:"output_dir"`
	ExitCode  int      `json:"exit_code"`
	Duration  string   `json:"duration"`
}

// JobStatusResponse is the response body for job status polls.
type JobStatusResponse struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	Percent      int             `json:"percent"`
	Message      string          `json:"message"`
	Phase        string          `json:"phase,omitempty"`
	CurrentImage int             `json:"current_image,omitempty"`
	TotalImages  int             `json:"total_images,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Result       *AnalysisResult `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// SessionResponse is the response body for session queries.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
