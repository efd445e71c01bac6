package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/juny6654/longplan/internal/replay"
)

// Violation is one check the run did not meet.
type Violation struct {
	Check string `json:"check"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

// CheckResult holds the outcome of checking a run against its expect block.
type CheckResult struct {
	Violations []Violation `json:"violations"`
}

// HasViolations returns true if any check failed.
func (r *CheckResult) HasViolations() bool {
	return len(r.Violations) > 0
}

func (r *CheckResult) add(check, want, got string) {
	r.Violations = append(r.Violations, Violation{Check: check, Want: want, Got: got})
}

// verifyRun checks the trace shape and then the fixture's expectations. A nil
// expect block leaves only the shape checks, so every run gets at least a
// sanity pass.
func verifyRun(res *replay.Result, exp *replay.ExpectSpec) CheckResult {
	var out CheckResult

	if len(res.Trace) == 0 {
		out.add("trace", "at least one cycle", "empty trace")
		return out
	}
	for i := 1; i < len(res.Trace); i++ {
		if res.Trace[i].Cycle <= res.Trace[i-1].Cycle {
			out.add("cycle_order",
				fmt.Sprintf("cycle above %d at row %d", res.Trace[i-1].Cycle, i),
				strconv.FormatUint(res.Trace[i].Cycle, 10))
			break
		}
	}
	for i := range res.Trace {
		if res.Trace[i].VTarget < 0 {
			out.add("v_target",
				"non-negative target speed on every cycle",
				fmt.Sprintf("%.3f at cycle %d", res.Trace[i].VTarget, res.Trace[i].Cycle))
			break
		}
	}

	if exp == nil {
		return out
	}

	finalVEgo := res.Trace[len(res.Trace)-1].VEgo
	if exp.FinalSource != "" && res.Final.Source.String() != exp.FinalSource {
		out.add("final_source", exp.FinalSource, res.Final.Source.String())
	}
	if exp.FinalVEgoMin != nil && finalVEgo < *exp.FinalVEgoMin {
		out.add("final_v_ego", fmt.Sprintf(">= %.2f", *exp.FinalVEgoMin), fmt.Sprintf("%.2f", finalVEgo))
	}
	if exp.FinalVEgoMax != nil && finalVEgo > *exp.FinalVEgoMax {
		out.add("final_v_ego", fmt.Sprintf("<= %.2f", *exp.FinalVEgoMax), fmt.Sprintf("%.2f", finalVEgo))
	}
	if exp.FCW != nil {
		switch {
		case *exp.FCW && res.FCWCycles == 0:
			out.add("fcw", "at least one warning cycle", "none")
		case !*exp.FCW && res.FCWCycles > 0:
			out.add("fcw", "no warning cycles", strconv.Itoa(res.FCWCycles))
		}
	}
	if exp.MaxStaleCycles != nil && res.StaleCycles > *exp.MaxStaleCycles {
		out.add("stale_cycles", fmt.Sprintf("<= %d", *exp.MaxStaleCycles), strconv.Itoa(res.StaleCycles))
	}

	return out
}

// printTextReport writes a human-readable report to w.
func printTextReport(w io.Writer, sum replay.Summary, checks CheckResult) {
	fmt.Fprintln(w, "=== Scenario Replay Report ===")
	fmt.Fprintf(w, "Scenario: %s\n", sum.Scenario)
	fmt.Fprintf(w, "Cycles: %d (%.1fs drive time)\n", sum.Cycles, sum.DriveSeconds)
	fmt.Fprintf(w, "Sources: %s\n", formatSources(sum.Sources))
	fmt.Fprintf(w, "Transitions: %d\n", len(sum.Transitions))
	fmt.Fprintf(w, "FCW cycles: %d\n", sum.FCWCycles)
	fmt.Fprintf(w, "Stale cycles: %d\n", sum.StaleCycles)
	fmt.Fprintf(w, "Final: v_ego=%.2f source=%s v_target=%.2f a_target=%.2f\n",
		sum.FinalVEgo, sum.FinalSource, sum.FinalVTarget, sum.FinalATarget)

	if checks.HasViolations() {
		fmt.Fprintln(w, "\n--- Violations ---")
		for _, v := range checks.Violations {
			fmt.Fprintf(w, "  %s: want %s, got %s\n", v.Check, v.Want, v.Got)
		}
	}

	fmt.Fprintln(w)
	if checks.HasViolations() {
		fmt.Fprintln(w, "Result: FAIL")
	} else {
		fmt.Fprintln(w, "Result: PASS")
	}
}

func formatSources(sources map[string]int) string {
	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, sources[k])
	}
	return strings.Join(parts, " ")
}

// printJSONReport writes a machine-readable report to w.
func printJSONReport(w io.Writer, sum replay.Summary, checks CheckResult) error {
	report := struct {
		Summary replay.Summary `json:"summary"`
		Checks  CheckResult    `json:"checks"`
		Result  string         `json:"result"`
	}{
		Summary: sum,
		Checks:  checks,
	}
	if checks.HasViolations() {
		report.Result = "FAIL"
	} else {
		report.Result = "PASS"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
