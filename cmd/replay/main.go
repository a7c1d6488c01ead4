package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "print observed transitions as JSON (for authoring fixtures)")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json]")
		os.Exit(2)
	}

	f, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	result := replay.Run(f, zap.NewNop())

	if *jsonOut {
		if err := printJSON(result.Transitions); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	os.Exit(printComparison(f, result))
}

// #endregion main

// #region output

// printComparison outputs an expected-vs-observed table and returns the
// exit code: 0 on a clean match, 1 when any transition diverges.
func printComparison(f *replay.Fixture, r replay.Result) int {
	if f.Description != "" {
		fmt.Println(f.Description)
		fmt.Println()
	}

	mismatches := replay.Verify(f, r)
	diverged := make(map[int]bool, len(mismatches))
	for _, m := range mismatches {
		diverged[m.Index] = true
	}

	fmt.Printf("%-4s| %-8s| %-24s| %-24s| %s\n", "#", "Kind", "Expected", "Observed", "Match")
	fmt.Printf("%-4s+%-9s+%-25s+%-25s+%s\n", "----", "---------", "-------------------------", "-------------------------", "------")

	n := len(f.ExpectedTransitions)
	if len(r.Transitions) > n {
		n = len(r.Transitions)
	}
	for i := 0; i < n; i++ {
		kind, exp, obs := "?", "—", "—"
		if i < len(f.ExpectedTransitions) {
			e := f.ExpectedTransitions[i]
			kind = e.Kind
			exp = fmt.Sprintf("%s -> %s", e.From, e.To)
		}
		if i < len(r.Transitions) {
			o := r.Transitions[i]
			kind = o.Kind
			obs = fmt.Sprintf("%s -> %s @%dms", o.From, o.To, o.OffsetMS)
		}
		match := "OK"
		if diverged[i] {
			match = "DIFF"
		}
		fmt.Printf("%-4d| %-8s| %-24s| %-24s| %s\n", i, kind, exp, obs, match)
	}

	fmt.Printf("\nSummary: %d frames, %d transitions, %d diverge\n",
		r.Frames, len(r.Transitions), len(mismatches))
	fmt.Printf("Final emotion: %s (intensity %.2f)\n", r.FinalEmotion.Label, r.FinalEmotion.Intensity)
	fmt.Printf("Final segment: %s (confidence %.2f)\n", r.FinalSegment.Label, r.FinalSegment.Confidence)

	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// #endregion output
