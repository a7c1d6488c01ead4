package replay

import (
	"time"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/classify"
)

// #region types

// Transition is one detector transition observed during a run.
type Transition struct {
	Kind     string `json:"kind"` // "emotion" | "segment"
	From     string `json:"from"`
	To       string `json:"to"`
	OffsetMS int64  `json:"offset_ms"`
}

// Result captures the outcome of one fixture run.
type Result struct {
	Frames       int
	Transitions  []Transition
	FinalEmotion classify.EmotionState
	FinalSegment classify.SegmentInfo
}

// Mismatch describes one divergence between observed and expected
// transitions.
type Mismatch struct {
	Index    int
	Expected *ExpectedTransition // nil when there were more observed than expected
	Observed *Transition         // nil when there were fewer observed than expected
}

// #endregion types

// #region run

// Run replays a fixture's frames through fresh detectors wired to an
// isolated router and records every transition they publish. Frames
// are stamped relative to the wall clock at call time, so detector
// hold windows and segment durations behave as they would live.
func Run(f *Fixture, log *zap.Logger) Result {
	bcfg := bus.DefaultConfig()
	bcfg.DefaultRateLimits = false
	router := bus.NewRouter(bcfg, log)
	defer router.Close()

	emotion := classify.NewEmotionDetector(f.Config.Emotion.ToEmotionConfig(), router, log)
	segment := classify.NewSegmentDetector(f.Config.Segment.ToSegmentConfig(), router, log)
	defer emotion.Close()
	defer segment.Close()

	base := time.Now().UnixMilli()
	var transitions []Transition
	var offset int64

	router.Subscribe(bus.NamespaceEmotion, "mood_change", func(e bus.Event) {
		mc := e.Data.(classify.MoodChange)
		transitions = append(transitions, Transition{
			Kind:     "emotion",
			From:     string(mc.From.Label),
			To:       string(mc.To.Label),
			OffsetMS: offset,
		})
	})
	router.Subscribe(bus.NamespaceMusic, "segment_change", func(e bus.Event) {
		sc := e.Data.(classify.SegmentChange)
		transitions = append(transitions, Transition{
			Kind:     "segment",
			From:     string(sc.From),
			To:       string(sc.To),
			OffsetMS: offset,
		})
	})

	var last int64
	for _, frame := range f.Frames {
		offset = frame.OffsetMS
		ts := base + frame.OffsetMS
		emotion.Process(frame.Features(), ts)
		segment.Process(frame.Features(), ts)
		last = ts
	}
	if last == 0 {
		last = base
	}

	return Result{
		Frames:       len(f.Frames),
		Transitions:  transitions,
		FinalEmotion: emotion.Current(),
		FinalSegment: segment.Current(last),
	}
}

// Verify compares observed transitions against the fixture's
// expectations, in order. An empty return means the run matched.
func Verify(f *Fixture, r Result) []Mismatch {
	var mismatches []Mismatch
	n := len(f.ExpectedTransitions)
	if len(r.Transitions) > n {
		n = len(r.Transitions)
	}
	for i := 0; i < n; i++ {
		var exp *ExpectedTransition
		var obs *Transition
		if i < len(f.ExpectedTransitions) {
			exp = &f.ExpectedTransitions[i]
		}
		if i < len(r.Transitions) {
			obs = &r.Transitions[i]
		}
		if exp == nil || obs == nil ||
			exp.Kind != obs.Kind || exp.From != obs.From || exp.To != obs.To {
			mismatches = append(mismatches, Mismatch{Index: i, Expected: exp, Observed: obs})
		}
	}
	return mismatches
}

// #endregion run
