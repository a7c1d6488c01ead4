package classify

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
)

func newTestRouter() *bus.Router {
	cfg := bus.DefaultConfig()
	cfg.DefaultRateLimits = false
	return bus.NewRouter(cfg, zap.NewNop())
}

func TestRangeMatch(t *testing.T) {
	r := Range{Min: 0.4, Max: 0.7}

	cases := []struct {
		value float64
		want  float64
	}{
		{0.4, 1},
		{0.55, 1},
		{0.7, 1},
		{0.2, 1 - 0.2/0.4},
		{0.0, 0},
		{0.84, 1 - 0.14/0.7},
		{10, 0},
	}
	for _, c := range cases {
		if got := r.Match(c.value); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("Match(%v) = %v, want %v", c.value, got, c.want)
		}
	}
}

func quietFrame() bus.AudioFeatures {
	return bus.AudioFeatures{Energy: 0.2, Flux: 0.2, Centroid: 0.3, Crest: 0.4, Bass: 0.3, Presence: 0.2}
}

func loudFrame() bus.AudioFeatures {
	return bus.AudioFeatures{Energy: 0.95, Flux: 0.9, Centroid: 0.95, Crest: 0.6, Bass: 0.9, Presence: 0.95}
}

func TestEmotionTransitionFiresOnce(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewEmotionDetector(DefaultEmotionConfig(), router, zap.NewNop())

	var changes []MoodChange
	router.Subscribe(bus.NamespaceEmotion, "mood_change", func(e bus.Event) {
		changes = append(changes, e.Data.(MoodChange))
	})

	base := time.Now().UnixMilli()
	d.Process(loudFrame(), base+4000)

	if len(changes) != 1 {
		t.Fatalf("expected 1 mood_change, got %d", len(changes))
	}
	if changes[0].From.Label != EmotionCalm {
		t.Fatalf("transition source = %s, want calm", changes[0].From.Label)
	}
	if changes[0].To.Label != EmotionIntense {
		t.Fatalf("transition target = %s, want intense", changes[0].To.Label)
	}
	if changes[0].ChangeMagnitude <= 0 {
		t.Fatalf("change magnitude = %v, want > 0", changes[0].ChangeMagnitude)
	}

	// Same frame inside the hold window must not retrigger.
	d.Process(loudFrame(), base+4500)
	if len(changes) != 1 {
		t.Fatalf("hold window violated: %d events", len(changes))
	}
	if d.Current().Label != EmotionIntense {
		t.Fatalf("current label = %s, want intense", d.Current().Label)
	}
}

func TestEmotionHoldWindowBlocksEarlyTransition(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewEmotionDetector(DefaultEmotionConfig(), router, zap.NewNop())

	fired := 0
	router.Subscribe(bus.NamespaceEmotion, "mood_change", func(bus.Event) { fired++ })

	d.Process(loudFrame(), time.Now().UnixMilli()+100)
	if fired != 0 {
		t.Fatalf("transition fired inside hold window: %d", fired)
	}
	if d.Current().Label != EmotionCalm {
		t.Fatalf("label changed without an event: %s", d.Current().Label)
	}
}

func TestEmotionSmallIntensityShiftIgnored(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewEmotionDetector(DefaultEmotionConfig(), router, zap.NewNop())

	fired := 0
	router.Subscribe(bus.NamespaceEmotion, "mood_change", func(bus.Event) { fired++ })

	// Intensity (energy+flux+bass)/3 = 0.53, within 0.2 of the initial 0.5.
	frame := bus.AudioFeatures{Energy: 0.6, Flux: 0.5, Centroid: 0.5, Crest: 0.5, Bass: 0.5, Presence: 0.5}
	d.Process(frame, time.Now().UnixMilli()+10_000)
	if fired != 0 {
		t.Fatalf("sub-threshold intensity shift fired a transition: %d", fired)
	}
}

func TestEmotionAttachConsumesBusFrames(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewEmotionDetector(DefaultEmotionConfig(), router, zap.NewNop())
	d.Attach()
	defer d.Close()

	fired := 0
	router.Subscribe(bus.NamespaceEmotion, "mood_change", func(bus.Event) { fired++ })

	router.Publish(bus.Event{
		Namespace: bus.NamespaceAudio,
		Type:      "features",
		Timestamp: time.Now().UnixMilli() + 5000,
		Data:      loudFrame(),
	})
	if fired != 1 {
		t.Fatalf("expected 1 transition via bus, got %d", fired)
	}
}

func TestSegmentBoundarySingleTransition(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewSegmentDetector(DefaultSegmentConfig(), router, zap.NewNop())

	var changes []SegmentChange
	router.Subscribe(bus.NamespaceMusic, "segment_change", func(e bus.Event) {
		changes = append(changes, e.Data.(SegmentChange))
	})

	base := time.Now().UnixMilli()
	d.Process(quietFrame(), base)
	if len(changes) != 0 {
		t.Fatalf("boundary before the minimum duration: %d", len(changes))
	}

	d.Process(loudFrame(), base+9000)
	if len(changes) != 1 {
		t.Fatalf("expected 1 segment_change, got %d", len(changes))
	}
	if changes[0].From != SegmentSteady || changes[0].To != SegmentDrop {
		t.Fatalf("transition %s -> %s, want steady -> drop", changes[0].From, changes[0].To)
	}
	if changes[0].Confidence <= 0 || changes[0].Confidence > 1 {
		t.Fatalf("confidence out of range: %v", changes[0].Confidence)
	}

	// A steady repeat of the same frame is not a boundary.
	d.Process(loudFrame(), base+9100)
	if len(changes) != 1 {
		t.Fatalf("repeated frame produced another boundary: %d", len(changes))
	}
}

func TestSegmentSmallDeltasNeverTransition(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewSegmentDetector(DefaultSegmentConfig(), router, zap.NewNop())

	fired := 0
	router.Subscribe(bus.NamespaceMusic, "segment_change", func(bus.Event) { fired++ })

	base := time.Now().UnixMilli()
	f := quietFrame()
	d.Process(f, base)
	for i := 1; i <= 20; i++ {
		f.Energy += 0.005
		f.Flux += 0.005
		d.Process(f, base+int64(i)*500)
	}
	if fired != 0 {
		t.Fatalf("sub-threshold deltas fired %d boundaries", fired)
	}
}

func TestSegmentCurrentInfo(t *testing.T) {
	router := newTestRouter()
	defer router.Close()
	d := NewSegmentDetector(DefaultSegmentConfig(), router, zap.NewNop())

	base := time.Now().UnixMilli()
	d.Process(quietFrame(), base)

	info := d.Current(base + 1500)
	if info.Label != SegmentSteady {
		t.Fatalf("initial segment = %s, want steady", info.Label)
	}
	if info.Duration != 1500 {
		t.Fatalf("duration = %d, want 1500", info.Duration)
	}
	if info.Confidence <= 0 {
		t.Fatalf("confidence = %v, want > 0", info.Confidence)
	}
}
