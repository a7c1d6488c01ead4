package classify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
)

// #region types

// EmotionLabel is one of the discrete emotion classes.
type EmotionLabel string

const (
	EmotionCalm        EmotionLabel = "calm"
	EmotionEnergetic   EmotionLabel = "energetic"
	EmotionMelancholic EmotionLabel = "melancholic"
	EmotionExcited     EmotionLabel = "excited"
	EmotionFocused     EmotionLabel = "focused"
	EmotionRelaxed     EmotionLabel = "relaxed"
	EmotionIntense     EmotionLabel = "intense"
)

// EmotionState is the detector's labelled output at one point in time.
type EmotionState struct {
	Label      EmotionLabel `json:"label"`
	Intensity  float64      `json:"intensity"`
	Confidence float64      `json:"confidence"`
	Timestamp  int64        `json:"timestamp"`
	Stability  float64      `json:"stability"`
}

// MoodChange is the payload of emotion:mood_change.
type MoodChange struct {
	From            EmotionState       `json:"previousMood"`
	To              EmotionState       `json:"currentMood"`
	ChangeMagnitude float64            `json:"changeMagnitude"`
	Confidence      float64            `json:"confidence"`
	Features        *bus.AudioFeatures `json:"audioFeatures,omitempty"`
}

// #endregion types

// #region config

// FeatureWeights scales each audio feature's contribution to the label
// score. The defaults sum to 1.
type FeatureWeights struct {
	Energy   float64 `yaml:"energy"`
	Flux     float64 `yaml:"flux"`
	Centroid float64 `yaml:"centroid"`
	Crest    float64 `yaml:"crest"`
	Bass     float64 `yaml:"bass"`
	Presence float64 `yaml:"presence"`
}

// EmotionConfig tunes the emotion detector.
type EmotionConfig struct {
	Weights FeatureWeights `yaml:"weights"`
	// IntensityChange is the minimum intensity delta before a transition
	// is even considered.
	IntensityChange float64 `yaml:"intensity_change"`
	// StabilityChange triggers a transition within the same label.
	StabilityChange float64 `yaml:"stability_change"`
	// HoldWindow is how long the current emotion must stand, in ms.
	HoldWindow int64 `yaml:"hold_window_ms"`
}

// DefaultEmotionConfig returns the production defaults.
func DefaultEmotionConfig() EmotionConfig {
	return EmotionConfig{
		Weights: FeatureWeights{
			Energy:   0.3,
			Flux:     0.25,
			Centroid: 0.15,
			Crest:    0.1,
			Bass:     0.15,
			Presence: 0.05,
		},
		IntensityChange: 0.2,
		StabilityChange: 0.25,
		HoldWindow:      3000,
	}
}

// emotionBand is the feature profile of one label.
type emotionBand struct {
	energy     Range
	flux       Range
	centroid   Range
	bass       Range
	presence   Range
	transition float64
}

// emotionOrder fixes classification iteration order.
var emotionOrder = []EmotionLabel{
	EmotionCalm, EmotionEnergetic, EmotionMelancholic, EmotionExcited,
	EmotionFocused, EmotionRelaxed, EmotionIntense,
}

var emotionBands = map[EmotionLabel]emotionBand{
	EmotionCalm:        {Range{0.1, 0.4}, Range{0.1, 0.3}, Range{0.2, 0.5}, Range{0.2, 0.5}, Range{0.1, 0.4}, 0.6},
	EmotionEnergetic:   {Range{0.6, 1.0}, Range{0.5, 1.0}, Range{0.5, 0.8}, Range{0.6, 1.0}, Range{0.5, 0.8}, 0.8},
	EmotionMelancholic: {Range{0.2, 0.5}, Range{0.1, 0.4}, Range{0.1, 0.4}, Range{0.3, 0.6}, Range{0.2, 0.5}, 0.5},
	EmotionExcited:     {Range{0.7, 1.0}, Range{0.6, 1.0}, Range{0.6, 0.9}, Range{0.7, 1.0}, Range{0.6, 0.9}, 0.7},
	EmotionFocused:     {Range{0.4, 0.7}, Range{0.3, 0.6}, Range{0.4, 0.7}, Range{0.4, 0.7}, Range{0.4, 0.7}, 0.6},
	EmotionRelaxed:     {Range{0.2, 0.5}, Range{0.1, 0.4}, Range{0.2, 0.5}, Range{0.2, 0.5}, Range{0.1, 0.4}, 0.4},
	EmotionIntense:     {Range{0.8, 1.0}, Range{0.7, 1.0}, Range{0.7, 1.0}, Range{0.8, 1.0}, Range{0.7, 1.0}, 0.9},
}

const emotionHistoryCap = 50

// #endregion config

// #region detector

// EmotionDetector labels incoming feature frames and publishes
// emotion:mood_change when the label settles on something new.
type EmotionDetector struct {
	cfg    EmotionConfig
	log    *zap.Logger
	router *bus.Router

	mu        sync.Mutex
	current   EmotionState
	startTime int64
	history   []EmotionState
	unsub     func()
}

// NewEmotionDetector starts in a neutral calm state; call Attach to begin
// consuming audio:features.
func NewEmotionDetector(cfg EmotionConfig, router *bus.Router, log *zap.Logger) *EmotionDetector {
	return &EmotionDetector{
		cfg:    cfg,
		log:    log,
		router: router,
		current: EmotionState{
			Label:      EmotionCalm,
			Intensity:  0.5,
			Confidence: 0.8,
			Timestamp:  bus.Now(),
			Stability:  0.8,
		},
		startTime: bus.Now(),
	}
}

// Attach subscribes to audio:features.
func (d *EmotionDetector) Attach() {
	d.unsub = d.router.Subscribe(bus.NamespaceAudio, "features", func(e bus.Event) {
		if f, ok := e.Data.(bus.AudioFeatures); ok {
			d.Process(f, e.Timestamp)
		}
	})
}

// Process classifies one frame and fires a transition when warranted.
func (d *EmotionDetector) Process(f bus.AudioFeatures, timestamp int64) {
	d.mu.Lock()
	candidate := d.classifyLocked(f, timestamp)
	if !d.shouldTransitionLocked(candidate, timestamp) {
		d.mu.Unlock()
		return
	}

	old := d.current
	change := MoodChange{
		From:            old,
		To:              candidate,
		ChangeMagnitude: (absf(candidate.Intensity-old.Intensity) + labelDelta(candidate.Label, old.Label)) / 2,
		Confidence:      (candidate.Confidence + old.Confidence) / 2,
		Features:        &f,
	}

	d.current = candidate
	d.startTime = timestamp
	d.history = append(d.history, old)
	if len(d.history) > emotionHistoryCap {
		d.history = d.history[len(d.history)-emotionHistoryCap:]
	}
	d.mu.Unlock()

	d.router.Publish(bus.Event{
		Namespace: bus.NamespaceEmotion,
		Type:      "mood_change",
		Timestamp: timestamp,
		Data:      change,
	})
	d.log.Debug("emotion transition",
		zap.String("from", string(old.Label)),
		zap.String("to", string(candidate.Label)),
		zap.Float64("magnitude", change.ChangeMagnitude))
}

// classifyLocked scores every label and builds the candidate state.
func (d *EmotionDetector) classifyLocked(f bus.AudioFeatures, timestamp int64) EmotionState {
	w := d.cfg.Weights
	best := emotionOrder[0]
	bestScore := -1.0
	for _, label := range emotionOrder {
		b := emotionBands[label]
		// Crest has no per-label band; it contributes uniformly.
		score := b.energy.Match(f.Energy)*w.Energy +
			b.flux.Match(f.Flux)*w.Flux +
			b.centroid.Match(f.Centroid)*w.Centroid +
			Range{Min: 0, Max: 1}.Match(f.Crest)*w.Crest +
			b.bass.Match(f.Bass)*w.Bass +
			b.presence.Match(f.Presence)*w.Presence
		if score > bestScore {
			best = label
			bestScore = score
		}
	}

	confidence := (bestScore + emotionBands[best].transition) / 2
	if confidence > 1 {
		confidence = 1
	}
	return EmotionState{
		Label:      best,
		Intensity:  (f.Energy + f.Flux + f.Bass) / 3,
		Confidence: confidence,
		Timestamp:  timestamp,
		Stability:  d.stabilityLocked(best),
	}
}

// stabilityLocked measures how often the recent history disagreed with the
// candidate label.
func (d *EmotionDetector) stabilityLocked(label EmotionLabel) float64 {
	if len(d.history) < 2 {
		return 0.8
	}
	recent := d.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	changes := 0
	for _, s := range recent {
		if s.Label != label {
			changes++
		}
	}
	stability := 1 - float64(changes)/10
	if stability < 0.1 {
		stability = 0.1
	}
	return stability
}

// shouldTransitionLocked applies the intensity gate, the hold window, and
// then requires either a new label or a stability jump.
func (d *EmotionDetector) shouldTransitionLocked(candidate EmotionState, timestamp int64) bool {
	if absf(candidate.Intensity-d.current.Intensity) < d.cfg.IntensityChange {
		return false
	}
	if timestamp-d.startTime < d.cfg.HoldWindow {
		return false
	}
	if candidate.Label != d.current.Label {
		return true
	}
	return absf(candidate.Stability-d.current.Stability) > d.cfg.StabilityChange
}

// Current returns the active emotion state.
func (d *EmotionDetector) Current() EmotionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// History returns a copy of past states, oldest first.
func (d *EmotionDetector) History() []EmotionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]EmotionState, len(d.history))
	copy(out, d.history)
	return out
}

// Close detaches from the bus.
func (d *EmotionDetector) Close() {
	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func labelDelta(a, b EmotionLabel) float64 {
	if a == b {
		return 0
	}
	return 1
}

// #endregion detector
