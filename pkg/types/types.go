// Package types defines the core domain model shared by the judge engine and its callers.
package types

import (
	"fmt"
	"strings"
)

// Language identifies the target language of a submission.
type Language string

// Supported languages.
const (
	LangPython Language = "python"
	LangJava   Language = "java"
	LangC      Language = "c"
)

// ParseLanguage maps a caller-supplied tag to a Language, case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case LangPython, LangJava, LangC:
		return l, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// Languages lists every supported language in a stable order.
func Languages() []Language {
	return []Language{LangPython, LangJava, LangC}
}

// Verdict is the classification of a single test or of a whole job.
type Verdict string

// Verdict constants.
const (
	VerdictAC  Verdict = "AC"  // accepted
	VerdictWA  Verdict = "WA"  // wrong answer
	VerdictTLE Verdict = "TLE" // time limit exceeded
	VerdictRE  Verdict = "RE"  // runtime error
	VerdictCE  Verdict = "CE"  // compile error (job-level only)
)

// HiddenPlaceholder replaces expected/actual output of hidden test cases.
const HiddenPlaceholder = "[Hidden]"

// TLEMessage is the fixed message attached to TLE results.
const TLEMessage = "Time Limit Exceeded"

// SubmissionID is an opaque token supplied by the caller.
type SubmissionID string

// TestCase is one input/expected-output pair.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expectedOutput" yaml:"expectedOutput"`
	Hidden         bool   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// TestResult is the outcome of running one test case.
type TestResult struct {
	TestCase int     `json:"testCase"` // 1-based index into the submission's test cases
	Verdict  Verdict `json:"verdict"`
	Time     int64   `json:"time"` // milliseconds

	// Expected and Actual are set only on WA; they carry HiddenPlaceholder for hidden tests.
	Expected *string `json:"expected,omitempty"`
	Actual   *string `json:"actual,omitempty"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Hidden  bool   `json:"hidden"`
}

// JobResult is the aggregated outcome of a submission.
type JobResult struct {
	Verdict         Verdict      `json:"verdict"`
	Results         []TestResult `json:"results"`
	TotalTestCases  int          `json:"totalTestCases"`
	PassedTestCases int          `json:"passedTestCases"`
	Error           string       `json:"error,omitempty"`
}

// Submission is an accepted judging job. It is never mutated after acceptance.
type Submission struct {
	ID          SubmissionID
	Code        string
	Language    Language
	TestCases   []TestCase
	TimeLimitMs int64
}

// JobID identifies one admitted request inside the engine.
type JobID string

// JobStatus is the tracker state of an admitted request.
type JobStatus string

// Job status constants.
const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job is the tracker record of an admitted request. Timestamps are Unix
// milliseconds; zero means the step has not happened yet.
type Job struct {
	ID           JobID        `json:"jobId"`
	SubmissionID SubmissionID `json:"submissionId,omitempty"`
	Language     Language     `json:"language"`
	Status       JobStatus    `json:"status"`
	Verdict      Verdict      `json:"verdict,omitempty"`
	Error        string       `json:"error,omitempty"`
	QueuedAt     int64        `json:"queuedAt"`
	StartedAt    int64        `json:"startedAt,omitempty"`
	FinishedAt   int64        `json:"finishedAt,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
