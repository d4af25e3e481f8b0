package verdict

import (
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// Compare judges a test that exited cleanly: AC when the normalized outputs match, otherwise WA.
// WA results carry both normalized strings, redacted to types.HiddenPlaceholder for hidden tests.
func Compare(norm Normalizer, index int, tc types.TestCase, stdout string, timeMs int64) types.TestResult {
	actual := norm(stdout)
	expected := norm(tc.ExpectedOutput)

	res := types.TestResult{
		TestCase: index + 1,
		Verdict:  types.VerdictAC,
		Time:     timeMs,
		Hidden:   tc.Hidden,
	}
	if actual == expected {
		return res
	}

	res.Verdict = types.VerdictWA
	if tc.Hidden {
		actual, expected = types.HiddenPlaceholder, types.HiddenPlaceholder
	}
	res.Expected = &expected
	res.Actual = &actual
	return res
}

// TimeLimit builds a TLE result.
func TimeLimit(index int, tc types.TestCase, timeMs int64) types.TestResult {
	return types.TestResult{
		TestCase: index + 1,
		Verdict:  types.VerdictTLE,
		Time:     timeMs,
		Message:  types.TLEMessage,
		Hidden:   tc.Hidden,
	}
}

// Runtime builds an RE result.
func Runtime(index int, tc types.TestCase, timeMs int64, msg string) types.TestResult {
	if msg == "" {
		msg = "Runtime Error"
	}
	return types.TestResult{
		TestCase: index + 1,
		Verdict:  types.VerdictRE,
		Time:     timeMs,
		Error:    msg,
		Hidden:   tc.Hidden,
	}
}
