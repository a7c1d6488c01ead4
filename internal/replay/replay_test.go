package replay

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/classify"
)

// #region fixture-tests

// TestFixture_ClubSet loads the club_set fixture, runs it, and compares
// the observed transitions against the expectations. This is the primary
// regression test for the detector parameters.
func TestFixture_ClubSet(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "club_set.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	r := Run(f, zap.NewNop())

	if r.Frames != len(f.Frames) {
		t.Fatalf("frames replayed = %d, want %d", r.Frames, len(f.Frames))
	}
	if mm := Verify(f, r); len(mm) != 0 {
		for _, m := range mm {
			t.Errorf("transition %d: expected %+v, observed %+v", m.Index, m.Expected, m.Observed)
		}
		t.FailNow()
	}
	if r.FinalEmotion.Label != classify.EmotionIntense {
		t.Fatalf("final emotion = %s, want intense", r.FinalEmotion.Label)
	}
	if r.FinalSegment.Label != classify.SegmentDrop {
		t.Fatalf("final segment = %s, want drop", r.FinalSegment.Label)
	}
}

// #endregion fixture-tests

// #region harness-tests

func dropFixture() *Fixture {
	return &Fixture{
		Description: "inline quiet-to-drop",
		Frames: []FixtureFrame{
			{OffsetMS: 0, Energy: 0.2, Flux: 0.2, Centroid: 0.3, Crest: 0.4, Bass: 0.3, Presence: 0.2},
			{OffsetMS: 9000, Energy: 0.95, Flux: 0.9, Centroid: 0.95, Crest: 0.6, Bass: 0.9, Presence: 0.95},
		},
		ExpectedTransitions: []ExpectedTransition{
			{Kind: "emotion", From: "calm", To: "intense"},
			{Kind: "segment", From: "steady", To: "drop"},
		},
	}
}

func TestRunRecordsTransitionOffsets(t *testing.T) {
	r := Run(dropFixture(), zap.NewNop())
	if len(r.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %+v", len(r.Transitions), r.Transitions)
	}
	for _, tr := range r.Transitions {
		if tr.OffsetMS != 9000 {
			t.Fatalf("transition %s at offset %d, want 9000", tr.Kind, tr.OffsetMS)
		}
	}
}

func TestVerifyFlagsDivergence(t *testing.T) {
	f := dropFixture()
	r := Run(f, zap.NewNop())

	f.ExpectedTransitions[1].To = "build"
	mm := Verify(f, r)
	if len(mm) != 1 || mm[0].Index != 1 {
		t.Fatalf("expected one mismatch at index 1, got %+v", mm)
	}

	// An extra expectation with nothing observed is also a mismatch.
	f.ExpectedTransitions[1].To = "drop"
	f.ExpectedTransitions = append(f.ExpectedTransitions, ExpectedTransition{Kind: "emotion", From: "intense", To: "calm"})
	mm = Verify(f, r)
	if len(mm) != 1 || mm[0].Observed != nil {
		t.Fatalf("missing transition not flagged: %+v", mm)
	}
}

func TestFixtureConfigOverridesSuppressTransitions(t *testing.T) {
	f := dropFixture()
	// A 20s hold window keeps the emotion pinned to calm.
	f.Config.Emotion.HoldWindowMS = 20_000
	f.ExpectedTransitions = f.ExpectedTransitions[1:]

	r := Run(f, zap.NewNop())
	if mm := Verify(f, r); len(mm) != 0 {
		t.Fatalf("unexpected mismatches: %+v", mm)
	}
	if r.FinalEmotion.Label != classify.EmotionCalm {
		t.Fatalf("final emotion = %s, want calm", r.FinalEmotion.Label)
	}
}

// #endregion harness-tests

// #region loader-tests

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFixtureRejectsBadOffsets(t *testing.T) {
	tooFar := writeFixture(t, `{"frames":[{"offset_ms":90000}]}`)
	if _, err := LoadFixture(tooFar); err == nil {
		t.Fatal("offset beyond the span limit accepted")
	}

	backwards := writeFixture(t, `{"frames":[{"offset_ms":5000},{"offset_ms":1000}]}`)
	if _, err := LoadFixture(backwards); err == nil {
		t.Fatal("non-monotonic offsets accepted")
	}
}

func TestLoadFixtureRejectsMalformedJSON(t *testing.T) {
	path := writeFixture(t, `{"frames": [not json`)
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("malformed fixture accepted")
	}
}

// #endregion loader-tests
