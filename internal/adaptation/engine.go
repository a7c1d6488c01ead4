package adaptation

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
	"github.com/tiangong-vis/coordinator/internal/seed"
)

// #region events

// IntegrationReady is the payload of random_emotion:integration_ready.
type IntegrationReady struct {
	Config  Config  `json:"config"`
	Mapping Mapping `json:"emotionMapping"`
}

// PresetRecommendation is the payload of random_emotion:preset_recommendation.
type PresetRecommendation struct {
	Emotion            bus.Mood `json:"emotion"`
	RecommendedPresets []string `json:"recommendedPresets"`
	CurrentPreset      string   `json:"currentPreset"`
}

// RandomnessUpdated is the payload of random_emotion:randomness_updated.
type RandomnessUpdated struct {
	Randomness float64  `json:"randomness"`
	Emotion    bus.Mood `json:"emotion"`
}

// #endregion events

// #region engine

// RandomSource is the randomness side the engine steers.
type RandomSource interface {
	Reseed()
	SetBias(seed.BiasControl)
}

const tickTask = "adaptation-tick"

// Engine holds the latest mood, preset, and performance inputs and folds
// them into the randomness source once per tick.
type Engine struct {
	cfg     Config
	mapping Mapping
	log     *zap.Logger
	router  *bus.Router
	sched   *sched.Scheduler
	source  RandomSource

	mu             sync.Mutex
	mood           bus.Mood
	preset         string
	perf           bus.PerformanceMetrics
	lastRandomness float64
	unsubs         []func()
}

// NewEngine starts from a neutral mood and a healthy performance reading.
func NewEngine(cfg Config, mapping Mapping, source RandomSource, router *bus.Router, sc *sched.Scheduler, log *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		mapping: mapping,
		log:     log,
		router:  router,
		sched:   sc,
		source:  source,
		mood:    bus.Mood{Energy: 0.5, Valence: 0, Arousal: 0.5},
		preset:  "classic",
		perf:    bus.PerformanceMetrics{FPS: 60},
	}
}

// Init attaches the input subscriptions, starts the tick, and announces
// readiness.
func (e *Engine) Init() error {
	e.unsubs = append(e.unsubs,
		e.router.Subscribe(bus.NamespaceMood, "update", e.handleMood),
		e.router.Subscribe(bus.NamespaceVisualization, "preset_change", e.handlePreset),
		e.router.Subscribe(bus.NamespacePerformance, "metrics", e.handlePerf),
		e.router.Subscribe(bus.NamespaceRandom, "seed_changed", e.handleSeedChanged),
		e.router.Subscribe(bus.NamespaceRecovery, "state_recovered", e.handleRecovered),
	)

	interval := time.Duration(e.cfg.UpdateInterval) * time.Millisecond
	if err := e.sched.Every(tickTask, interval, e.Tick); err != nil {
		return fmt.Errorf("schedule adaptation tick: %w", err)
	}

	e.router.Publish(bus.Event{
		Namespace: bus.NamespaceRandomEmotion,
		Type:      "integration_ready",
		Timestamp: bus.Now(),
		Data:      IntegrationReady{Config: e.cfg, Mapping: e.mapping},
	})
	e.log.Info("adaptation engine ready")
	return nil
}

// Tick runs the four sub-computations in order. The performance guard
// runs last so it can override the emotion-driven target.
func (e *Engine) Tick() {
	e.updateEmotionDriven()
	e.updatePresetCoordination()
	e.updateAdaptiveSeeding()
	e.updatePerformanceGuard()
}

// #endregion engine

// #region emotion-driven

// updateEmotionDriven folds the three axis targets into one randomness
// level and pushes it onto the source.
func (e *Engine) updateEmotionDriven() {
	if !e.cfg.EnableEmotionDriven {
		return
	}

	e.mu.Lock()
	mood := e.mood
	e.mu.Unlock()

	energyR := e.mapping.energyLevel(mood.Energy).Randomness
	valenceR := e.mapping.valenceLevel(mood.Valence).Randomness
	arousalR := e.mapping.arousalLevel(mood.Arousal).Randomness
	total := energyR*0.4 + valenceR*0.3 + arousalR*0.3
	clamped := math.Max(e.cfg.MinRandomness, math.Min(e.cfg.MaxRandomness, total))

	e.source.SetBias(seed.BiasControl{
		BaseRandomness: clamped,
		EmotionBias:    e.cfg.EmotionWeight,
		EnergyBias:     energyR,
		TimeBias:       0.1,
		ContrastBias:   0.2,
	})
	e.announceRandomness(clamped, mood)
}

// announceRandomness publishes randomness_updated when the level moved
// enough to matter.
func (e *Engine) announceRandomness(level float64, mood bus.Mood) {
	e.mu.Lock()
	changed := math.Abs(level-e.lastRandomness) > materialChange
	e.lastRandomness = level
	e.mu.Unlock()

	if !changed {
		return
	}
	e.router.Publish(bus.Event{
		Namespace: bus.NamespaceRandomEmotion,
		Type:      "randomness_updated",
		Timestamp: bus.Now(),
		Data:      RandomnessUpdated{Randomness: level, Emotion: mood},
	})
}

// #endregion emotion-driven

// #region presets

// updatePresetCoordination publishes the ranked preset recommendation for
// the current mood.
func (e *Engine) updatePresetCoordination() {
	if !e.cfg.EnablePresetCoordination {
		return
	}

	e.mu.Lock()
	mood := e.mood
	preset := e.preset
	e.mu.Unlock()

	e.router.Publish(bus.Event{
		Namespace: bus.NamespaceRandomEmotion,
		Type:      "preset_recommendation",
		Timestamp: bus.Now(),
		Data: PresetRecommendation{
			Emotion:            mood,
			RecommendedPresets: e.recommendPresets(mood),
			CurrentPreset:      preset,
		},
	})
}

// recommendPresets concatenates the axis bias lists in energy, valence,
// arousal order, deduplicates, and caps the result.
func (e *Engine) recommendPresets(mood bus.Mood) []string {
	var out []string
	seen := make(map[string]bool)
	for _, level := range []AxisLevel{
		e.mapping.energyLevel(mood.Energy),
		e.mapping.valenceLevel(mood.Valence),
		e.mapping.arousalLevel(mood.Arousal),
	} {
		for _, p := range level.Presets {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			if len(out) == maxRecommendations {
				return out
			}
		}
	}
	return out
}

// #endregion presets

// #region seeding

// updateAdaptiveSeeding reseeds when the mood sits far enough from
// neutral.
func (e *Engine) updateAdaptiveSeeding() {
	if !e.cfg.EnableAdaptiveSeeding {
		return
	}

	e.mu.Lock()
	mood := e.mood
	e.mu.Unlock()

	if math.Abs(seedAdjustment(mood)) > reseedThreshold {
		e.source.Reseed()
		e.log.Debug("adaptive reseed", zap.Float64("adjustment", seedAdjustment(mood)))
	}
}

// seedAdjustment scales the mean distance from the neutral mood into
// roughly [-0.25, 0.25].
func seedAdjustment(mood bus.Mood) float64 {
	energyChange := math.Abs(mood.Energy-0.5) * 2
	valenceChange := math.Abs(mood.Valence) * 2
	arousalChange := math.Abs(mood.Arousal-0.5) * 2
	total := (energyChange + valenceChange + arousalChange) / 3
	return total*0.5 - 0.25
}

// #endregion seeding

// #region guard

// updatePerformanceGuard forces the randomness floor when the host is
// struggling.
func (e *Engine) updatePerformanceGuard() {
	if !e.cfg.EnablePerformanceGuard {
		return
	}

	e.mu.Lock()
	perf := e.perf
	mood := e.mood
	e.mu.Unlock()

	if perf.FPS >= 30 && perf.MemoryUsage <= 0.8 && perf.CPUUsage <= 0.8 {
		return
	}

	e.source.SetBias(seed.BiasControl{
		BaseRandomness: e.cfg.MinRandomness,
		EmotionBias:    0.3,
		EnergyBias:     0.2,
		TimeBias:       0.1,
		ContrastBias:   0.1,
	})
	e.announceRandomness(e.cfg.MinRandomness, mood)
	e.log.Warn("performance guard active",
		zap.Float64("fps", perf.FPS),
		zap.Float64("memory", perf.MemoryUsage),
		zap.Float64("cpu", perf.CPUUsage))
}

// #endregion guard

// #region handlers

func (e *Engine) handleMood(ev bus.Event) {
	if mood, ok := ev.Data.(bus.Mood); ok {
		e.mu.Lock()
		e.mood = mood.Clamped()
		e.mu.Unlock()
	}
}

func (e *Engine) handlePreset(ev bus.Event) {
	if p, ok := ev.Data.(bus.PresetChange); ok && p.Preset != "" {
		e.mu.Lock()
		e.preset = p.Preset
		e.mu.Unlock()
	}
}

func (e *Engine) handlePerf(ev bus.Event) {
	if m, ok := ev.Data.(bus.PerformanceMetrics); ok {
		e.mu.Lock()
		e.perf = m
		e.mu.Unlock()
	}
}

func (e *Engine) handleSeedChanged(ev bus.Event) {
	if c, ok := ev.Data.(seed.ChangedEvent); ok {
		e.log.Debug("seed changed", zap.Int64("seed", c.Seed))
	}
}

// handleRecovered recomputes the randomness target against the restored
// state.
func (e *Engine) handleRecovered(bus.Event) {
	e.updateEmotionDriven()
}

// #endregion handlers

// #region accessors

// Status is a point-in-time view of the engine inputs.
type Status struct {
	Mood           bus.Mood               `json:"currentEmotion"`
	Preset         string                 `json:"currentPreset"`
	Performance    bus.PerformanceMetrics `json:"performanceMetrics"`
	LastRandomness float64                `json:"lastRandomness"`
}

// Status returns the current inputs and the last published randomness.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Mood:           e.mood,
		Preset:         e.preset,
		Performance:    e.perf,
		LastRandomness: e.lastRandomness,
	}
}

// SetMood overrides the mood input and recomputes immediately.
func (e *Engine) SetMood(mood bus.Mood) {
	e.mu.Lock()
	e.mood = mood.Clamped()
	e.mu.Unlock()
	e.updateEmotionDriven()
}

// SetPreset overrides the active preset and republishes recommendations.
func (e *Engine) SetPreset(preset string) {
	e.mu.Lock()
	e.preset = preset
	e.mu.Unlock()
	e.updatePresetCoordination()
}

// Close stops the tick and detaches handlers.
func (e *Engine) Close() {
	e.sched.Stop(tickTask)
	for _, off := range e.unsubs {
		off()
	}
	e.unsubs = nil
}

// #endregion accessors
