// Package jobs provides the in-memory job registry and the runner that
// supervises one analyzer subprocess per job.
package jobs

import (
	"time"

	"altlens/pkg/api"
)

// Status represents the lifecycle state of a job. Transitions are strictly
// forward: starting -> running -> {complete | error}.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// statusRank orders statuses for the forward-only transition guard.
var statusRank = map[Status]int{
	StatusStarting: 0,
	StatusRunning:  1,
	StatusComplete: 2,
	StatusError:    2,
}

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Result summarizes what a completed job produced.
type Result struct {
	// Artifacts are the file names the analyzer wrote to the output directory.
	Artifacts []string
	// OutputDir is the session output directory the artifacts live in.
	OutputDir string
	// ExitCode is the analyzer's exit code. It can be non-zero on a complete
	// job when the run partially failed but still produced artifacts.
	ExitCode int
	// Duration is the job's wall-clock run time.
	Duration time.Duration
}

// Record is the tracked state of one job. While non-terminal it is mutated
// only by its owning worker through the registry; Get hands out copies.
type Record struct {
	ID           string
	Status       Status
	Percent      int
	Message      string
	Phase        string
	CurrentImage int
	TotalImages  int
	CreatedAt    time.Time
	FinishedAt   time.Time
	Result       *Result
	Error        string
}

// clone returns a deep copy safe to hand to callers.
func (rec *Record) clone() Record {
	c := *rec
	if rec.Result != nil {
		res := *rec.Result
		res.Artifacts = append([]string(nil), rec.Result.Artifacts...)
		c.Result = &res
	}
	return c
}

// ToAPI converts the record into its wire representation.
func (rec *Record) ToAPI() api.JobStatusResponse {
	resp := api.JobStatusResponse{
		JobID:        rec.ID,
		Status:       string(rec.Status),
		Percent:      rec.Percent,
		Message:      rec.Message,
		Phase:        rec.Phase,
		CurrentImage: rec.CurrentImage,
		TotalImages:  rec.TotalImages,
		CreatedAt:    rec.CreatedAt,
		Error:        rec.Error,
	}

	if rec.Result != nil {
		resp.Result = &api.AnalysisResult{
			Artifacts: rec.Result.Artifacts,
			OutputDir: rec.Result.OutputDir,
			ExitCode:  rec.Result.ExitCode,
			Duration:  rec.Result.Duration.String(),
		}
	}

	return resp
}
