package verdict

import (
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// Sheet accumulates per-test results of one job with fail-fast semantics.
//
//	sheet := verdict.NewSheet(len(tests))
//	for i := range tests {
//	    if !sheet.Add(run(i)) {
//	        break
//	    }
//	}
//	return sheet.Result()
type Sheet struct {
	total   int
	results []types.TestResult
	final   types.Verdict
	passed  int
}

// NewSheet creates a sheet for a job with total test cases.
func NewSheet(total int) *Sheet {
	return &Sheet{
		total:   total,
		results: make([]types.TestResult, 0, total),
		final:   types.VerdictAC,
	}
}

// Add records a result and reports whether the job should continue.
// Adding after a non-AC result is a no-op returning false.
func (s *Sheet) Add(r types.TestResult) bool {
	if s.Stopped() {
		return false
	}
	s.results = append(s.results, r)
	if r.Verdict != types.VerdictAC {
		s.final = r.Verdict
		return false
	}
	s.passed++
	return true
}

// Stopped reports whether a non-AC result has been recorded.
func (s *Sheet) Stopped() bool {
	return s.final != types.VerdictAC
}

// Result returns the aggregated JobResult.
func (s *Sheet) Result() *types.JobResult {
	results := make([]types.TestResult, len(s.results))
	copy(results, s.results)
	return &types.JobResult{
		Verdict:         s.final,
		Results:         results,
		TotalTestCases:  s.total,
		PassedTestCases: s.passed,
	}
}

// CompileError returns the JobResult of a submission that failed to compile.
func CompileError(total int, diagnostics string) *types.JobResult {
	if diagnostics == "" {
		diagnostics = "Compilation failed"
	}
	return &types.JobResult{
		Verdict:        types.VerdictCE,
		Results:        []types.TestResult{},
		TotalTestCases: total,
		Error:          diagnostics,
	}
}

// Failure returns a job-level RE result for errors raised outside any single test.
func Failure(total int, err error) *types.JobResult {
	msg := "Internal error"
	if err != nil {
		msg = err.Error()
	}
	return &types.JobResult{
		Verdict:        types.VerdictRE,
		Results:        []types.TestResult{},
		TotalTestCases: total,
		Error:          msg,
	}
}
