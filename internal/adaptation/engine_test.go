package adaptation

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
	"github.com/tiangong-vis/coordinator/internal/seed"
)

type fakeSource struct {
	reseeds int
	biases  []seed.BiasControl
}

func (f *fakeSource) Reseed() { f.reseeds++ }

func (f *fakeSource) SetBias(b seed.BiasControl) { f.biases = append(f.biases, b) }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeSource, *bus.Router) {
	t.Helper()
	bcfg := bus.DefaultConfig()
	bcfg.DefaultRateLimits = false
	router := bus.NewRouter(bcfg, zap.NewNop())
	sc := sched.New(zap.NewNop())
	t.Cleanup(func() {
		sc.Close()
		router.Close()
	})
	src := &fakeSource{}
	return NewEngine(cfg, DefaultMapping(), src, router, sc, zap.NewNop()), src, router
}

func TestHighMoodRaisesRandomnessAndRecommends(t *testing.T) {
	e, src, router := newTestEngine(t, DefaultConfig())

	var recs []PresetRecommendation
	router.Subscribe(bus.NamespaceRandomEmotion, "preset_recommendation", func(ev bus.Event) {
		recs = append(recs, ev.Data.(PresetRecommendation))
	})
	var updates []RandomnessUpdated
	router.Subscribe(bus.NamespaceRandomEmotion, "randomness_updated", func(ev bus.Event) {
		updates = append(updates, ev.Data.(RandomnessUpdated))
	})

	e.SetMood(bus.Mood{Energy: 0.9, Valence: 0.8, Arousal: 0.9})
	e.updatePresetCoordination()

	if len(src.biases) == 0 {
		t.Fatal("no bias pushed to the source")
	}
	// high energy .8*0.4 + positive valence .6*0.3 + high arousal .8*0.3
	want := 0.74
	got := src.biases[len(src.biases)-1].BaseRandomness
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("base randomness = %v, want %v", got, want)
	}

	if len(updates) != 1 {
		t.Fatalf("expected 1 randomness_updated, got %d", len(updates))
	}
	if math.Abs(updates[0].Randomness-want) > 1e-9 {
		t.Fatalf("published randomness = %v, want %v", updates[0].Randomness, want)
	}

	if len(recs) != 1 {
		t.Fatalf("expected 1 preset_recommendation, got %d", len(recs))
	}
	presets := recs[0].RecommendedPresets
	if len(presets) == 0 || len(presets) > maxRecommendations {
		t.Fatalf("recommendation count = %d, want 1..%d", len(presets), maxRecommendations)
	}
	seen := make(map[string]bool)
	for _, p := range presets {
		if seen[p] {
			t.Fatalf("duplicate preset recommended: %s", p)
		}
		seen[p] = true
	}
	if presets[0] != "peak_warehouse" {
		t.Fatalf("top recommendation = %s, want peak_warehouse", presets[0])
	}
}

func TestRandomnessUpdateOnlyOnMaterialChange(t *testing.T) {
	e, _, router := newTestEngine(t, DefaultConfig())

	updates := 0
	router.Subscribe(bus.NamespaceRandomEmotion, "randomness_updated", func(bus.Event) { updates++ })

	e.updateEmotionDriven()
	e.updateEmotionDriven()
	e.updateEmotionDriven()

	if updates != 1 {
		t.Fatalf("expected 1 update for a stable mood, got %d", updates)
	}
}

func TestAdaptiveSeedingFiresAwayFromMidBand(t *testing.T) {
	e, src, _ := newTestEngine(t, DefaultConfig())

	// Extreme mood: mean neutral distance 1, adjustment +0.25.
	e.mu.Lock()
	e.mood = bus.Mood{Energy: 1, Valence: 1, Arousal: 1}
	e.mu.Unlock()
	e.updateAdaptiveSeeding()
	if src.reseeds != 1 {
		t.Fatalf("extreme mood reseeds = %d, want 1", src.reseeds)
	}

	// Mid-band mood: adjustment magnitude under the threshold.
	e.mu.Lock()
	e.mood = bus.Mood{Energy: 0.75, Valence: 0.25, Arousal: 0.75}
	e.mu.Unlock()
	e.updateAdaptiveSeeding()
	if src.reseeds != 1 {
		t.Fatalf("mid-band mood reseeded: %d", src.reseeds)
	}
}

func TestPerformanceGuardForcesFloor(t *testing.T) {
	e, src, router := newTestEngine(t, DefaultConfig())

	e.mu.Lock()
	e.perf = bus.PerformanceMetrics{FPS: 20, MemoryUsage: 0.5, CPUUsage: 0.5}
	e.mu.Unlock()
	e.updatePerformanceGuard()

	if len(src.biases) == 0 {
		t.Fatal("guard did not push a bias")
	}
	last := src.biases[len(src.biases)-1]
	if last.BaseRandomness != e.cfg.MinRandomness {
		t.Fatalf("guard randomness = %v, want floor %v", last.BaseRandomness, e.cfg.MinRandomness)
	}
	if last.EmotionBias != 0.3 {
		t.Fatalf("guard emotion bias = %v, want 0.3", last.EmotionBias)
	}

	// Healthy metrics leave the source alone.
	before := len(src.biases)
	e.mu.Lock()
	e.perf = bus.PerformanceMetrics{FPS: 60, MemoryUsage: 0.2, CPUUsage: 0.2}
	e.mu.Unlock()
	e.updatePerformanceGuard()
	if len(src.biases) != before {
		t.Fatalf("guard fired on healthy metrics")
	}
	_ = router
}

func TestDisabledSubComputationsDoNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableEmotionDriven = false
	cfg.EnablePresetCoordination = false
	cfg.EnableAdaptiveSeeding = false
	cfg.EnablePerformanceGuard = false
	e, src, router := newTestEngine(t, cfg)

	events := 0
	router.Subscribe(bus.NamespaceRandomEmotion, "preset_recommendation", func(bus.Event) { events++ })
	router.Subscribe(bus.NamespaceRandomEmotion, "randomness_updated", func(bus.Event) { events++ })

	e.mu.Lock()
	e.mood = bus.Mood{Energy: 1, Valence: 1, Arousal: 1}
	e.perf = bus.PerformanceMetrics{FPS: 10, MemoryUsage: 0.9, CPUUsage: 0.9}
	e.mu.Unlock()
	e.Tick()

	if src.reseeds != 0 || len(src.biases) != 0 || events != 0 {
		t.Fatalf("disabled engine acted: reseeds=%d biases=%d events=%d",
			src.reseeds, len(src.biases), events)
	}
}

func TestInputsArriveOverBus(t *testing.T) {
	e, src, router := newTestEngine(t, DefaultConfig())
	if err := e.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Close()

	router.Publish(bus.Event{
		Namespace: bus.NamespaceMood,
		Type:      "update",
		Timestamp: bus.Now(),
		Data:      bus.Mood{Energy: 0.9, Valence: 0.5, Arousal: 0.9},
	})
	router.Publish(bus.Event{
		Namespace: bus.NamespaceVisualization,
		Type:      "preset_change",
		Timestamp: bus.Now(),
		Data:      bus.PresetChange{Preset: "hard_techno"},
	})
	router.Publish(bus.Event{
		Namespace: bus.NamespacePerformance,
		Type:      "metrics",
		Timestamp: bus.Now(),
		Data:      bus.PerformanceMetrics{FPS: 45, MemoryUsage: 0.3, CPUUsage: 0.4},
	})

	st := e.Status()
	if st.Mood.Energy != 0.9 || st.Preset != "hard_techno" || st.Performance.FPS != 45 {
		t.Fatalf("inputs not folded into status: %+v", st)
	}
	_ = src
}
