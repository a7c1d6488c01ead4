package classify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
)

// #region types

// SegmentLabel is one of the discrete music-structure classes.
type SegmentLabel string

const (
	SegmentIntro  SegmentLabel = "intro"
	SegmentBuild  SegmentLabel = "build"
	SegmentDrop   SegmentLabel = "drop"
	SegmentFill   SegmentLabel = "fill"
	SegmentBreak  SegmentLabel = "break"
	SegmentOutro  SegmentLabel = "outro"
	SegmentSteady SegmentLabel = "steady"
)

// SegmentChange is the payload of music:segment_change.
type SegmentChange struct {
	From       SegmentLabel      `json:"previousSegment"`
	To         SegmentLabel      `json:"currentSegment"`
	Confidence float64           `json:"confidence"`
	Features   bus.AudioFeatures `json:"audioFeatures"`
}

// SegmentInfo describes the segment currently in progress.
type SegmentInfo struct {
	Label      SegmentLabel `json:"segment"`
	StartTime  int64        `json:"startTime"`
	Duration   int64        `json:"duration"`
	Confidence float64      `json:"confidence"`
}

// #endregion types

// #region config

// SegmentConfig tunes the boundary detector.
type SegmentConfig struct {
	// EnergyChange and FluxChange are the per-frame deltas that mark a
	// potential boundary.
	EnergyChange float64 `yaml:"energy_change"`
	FluxChange   float64 `yaml:"flux_change"`
	// MinDuration is how long a segment must run before it can end, in ms.
	MinDuration int64 `yaml:"min_duration_ms"`
}

// DefaultSegmentConfig returns the production defaults.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		EnergyChange: 0.15,
		FluxChange:   0.2,
		MinDuration:  2000,
	}
}

// segmentBand is the feature profile of one label. Duration is in ms.
type segmentBand struct {
	energy     Range
	flux       Range
	duration   Range
	transition float64
}

var segmentOrder = []SegmentLabel{
	SegmentIntro, SegmentBuild, SegmentDrop, SegmentFill,
	SegmentBreak, SegmentOutro, SegmentSteady,
}

var segmentBands = map[SegmentLabel]segmentBand{
	SegmentIntro:  {Range{0.1, 0.4}, Range{0.1, 0.3}, Range{8000, 16000}, 0.8},
	SegmentBuild:  {Range{0.4, 0.7}, Range{0.3, 0.6}, Range{4000, 8000}, 0.9},
	SegmentDrop:   {Range{0.7, 1.0}, Range{0.6, 1.0}, Range{8000, 16000}, 0.7},
	SegmentFill:   {Range{0.5, 0.8}, Range{0.4, 0.7}, Range{2000, 4000}, 0.8},
	SegmentBreak:  {Range{0.1, 0.3}, Range{0.1, 0.4}, Range{4000, 8000}, 0.6},
	SegmentOutro:  {Range{0.2, 0.5}, Range{0.2, 0.4}, Range{8000, 16000}, 0.5},
	SegmentSteady: {Range{0.3, 0.6}, Range{0.2, 0.5}, Range{8000, 16000}, 0.3},
}

const segmentHistoryCap = 100

// #endregion config

// #region detector

type sample struct {
	value     float64
	timestamp int64
}

// SegmentDetector tracks per-frame energy and flux deltas and publishes
// music:segment_change at predicted boundaries.
type SegmentDetector struct {
	cfg    SegmentConfig
	log    *zap.Logger
	router *bus.Router

	mu            sync.Mutex
	current       SegmentLabel
	startTime     int64
	lastEnergy    float64
	lastFlux      float64
	started       bool
	energyHistory []sample
	fluxHistory   []sample
	unsub         func()
}

// NewSegmentDetector starts in steady; call Attach to begin consuming
// audio:features.
func NewSegmentDetector(cfg SegmentConfig, router *bus.Router, log *zap.Logger) *SegmentDetector {
	return &SegmentDetector{
		cfg:     cfg,
		log:     log,
		router:  router,
		current: SegmentSteady,
	}
}

// Attach subscribes to audio:features.
func (d *SegmentDetector) Attach() {
	d.unsub = d.router.Subscribe(bus.NamespaceAudio, "features", func(e bus.Event) {
		if f, ok := e.Data.(bus.AudioFeatures); ok {
			d.Process(f, e.Timestamp)
		}
	})
}

// Process folds one frame into the histories and fires a boundary when the
// deltas and the minimum duration both allow it.
func (d *SegmentDetector) Process(f bus.AudioFeatures, timestamp int64) {
	d.mu.Lock()
	if !d.started {
		d.started = true
		d.startTime = timestamp
	}

	d.energyHistory = appendBounded(d.energyHistory, sample{f.Energy, timestamp}, segmentHistoryCap)
	d.fluxHistory = appendBounded(d.fluxHistory, sample{f.Flux, timestamp}, segmentHistoryCap)

	duration := timestamp - d.startTime
	significant := absf(f.Energy-d.lastEnergy) > d.cfg.EnergyChange ||
		absf(f.Flux-d.lastFlux) > d.cfg.FluxChange
	d.lastEnergy = f.Energy
	d.lastFlux = f.Flux

	if !significant || duration <= d.cfg.MinDuration {
		d.mu.Unlock()
		return
	}

	next := predictSegment(f, duration)
	if next == d.current {
		d.mu.Unlock()
		return
	}

	old := d.current
	change := SegmentChange{
		From:       old,
		To:         next,
		Confidence: boundaryConfidence(f, next),
		Features:   f,
	}
	d.current = next
	d.startTime = timestamp
	d.mu.Unlock()

	d.router.Publish(bus.Event{
		Namespace: bus.NamespaceMusic,
		Type:      "segment_change",
		Timestamp: timestamp,
		Data:      change,
	})
	d.log.Debug("segment boundary",
		zap.String("from", string(old)),
		zap.String("to", string(next)),
		zap.Float64("confidence", change.Confidence))
}

// predictSegment scores every label against the frame and the elapsed
// segment duration.
func predictSegment(f bus.AudioFeatures, duration int64) SegmentLabel {
	best := segmentOrder[0]
	bestScore := -1.0
	for _, label := range segmentOrder {
		b := segmentBands[label]
		score := (b.energy.Match(f.Energy)*0.4 +
			b.flux.Match(f.Flux)*0.4 +
			b.duration.Match(float64(duration))*0.2) * b.transition
		if score > bestScore {
			best = label
			bestScore = score
		}
	}
	return best
}

// boundaryConfidence blends how well the frame fits the new label with the
// label's own transition probability.
func boundaryConfidence(f bus.AudioFeatures, label SegmentLabel) float64 {
	b := segmentBands[label]
	return b.energy.Match(f.Energy)*0.4 + b.flux.Match(f.Flux)*0.4 + b.transition*0.2
}

// Current reports the segment in progress, with confidence from the
// trailing feature averages.
func (d *SegmentDetector) Current(now int64) SegmentInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return SegmentInfo{
		Label:      d.current,
		StartTime:  d.startTime,
		Duration:   now - d.startTime,
		Confidence: d.currentConfidenceLocked(),
	}
}

func (d *SegmentDetector) currentConfidenceLocked() float64 {
	if len(d.energyHistory) == 0 {
		return 0
	}
	b := segmentBands[d.current]
	return (b.energy.Match(trailingMean(d.energyHistory)) + b.flux.Match(trailingMean(d.fluxHistory))) / 2
}

func trailingMean(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	recent := samples
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	sum := 0.0
	for _, s := range recent {
		sum += s.value
	}
	return sum / float64(len(recent))
}

func appendBounded(history []sample, s sample, limit int) []sample {
	history = append(history, s)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// Close detaches from the bus.
func (d *SegmentDetector) Close() {
	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
}

// #endregion detector
