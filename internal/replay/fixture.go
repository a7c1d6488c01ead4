// Package replay feeds recorded audio-feature frames through the
// classifiers and collects the transitions they produce, so detector
// behavior can be checked against fixtures offline.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/classify"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture. Frame
// offsets must stay under a minute so published timestamps land inside
// the router's future-skew window.
type Fixture struct {
	Description         string               `json:"description"`
	Config              FixtureConfig        `json:"config"`
	Frames              []FixtureFrame       `json:"frames"`
	ExpectedTransitions []ExpectedTransition `json:"expected_transitions"`
}

// FixtureFrame is one audio-feature sample at an offset from the start
// of the recording.
type FixtureFrame struct {
	OffsetMS int64   `json:"offset_ms"`
	Energy   float64 `json:"energy"`
	Flux     float64 `json:"flux"`
	Centroid float64 `json:"centroid"`
	Crest    float64 `json:"crest"`
	Bass     float64 `json:"bass"`
	Presence float64 `json:"presence"`
}

// Features converts the frame to the bus payload.
func (f FixtureFrame) Features() bus.AudioFeatures {
	return bus.AudioFeatures{
		Energy:   f.Energy,
		Flux:     f.Flux,
		Centroid: f.Centroid,
		Crest:    f.Crest,
		Bass:     f.Bass,
		Presence: f.Presence,
	}
}

// ExpectedTransition is one detector transition the fixture asserts, in
// publication order per kind.
type ExpectedTransition struct {
	Kind string `json:"kind"` // "emotion" | "segment"
	From string `json:"from"`
	To   string `json:"to"`
}

// FixtureConfig mirrors the detector configs with JSON tags. Zero
// values fall back to the defaults.
type FixtureConfig struct {
	Emotion FixtureEmotionConfig `json:"emotion"`
	Segment FixtureSegmentConfig `json:"segment"`
}

// FixtureEmotionConfig mirrors classify.EmotionConfig with JSON tags.
type FixtureEmotionConfig struct {
	IntensityChange float64 `json:"intensity_change"`
	StabilityChange float64 `json:"stability_change"`
	HoldWindowMS    int64   `json:"hold_window_ms"`
}

// FixtureSegmentConfig mirrors classify.SegmentConfig with JSON tags.
type FixtureSegmentConfig struct {
	EnergyChange  float64 `json:"energy_change"`
	FluxChange    float64 `json:"flux_change"`
	MinDurationMS int64   `json:"min_duration_ms"`
}

// ToEmotionConfig overlays the fixture fields onto the defaults.
func (fc FixtureEmotionConfig) ToEmotionConfig() classify.EmotionConfig {
	cfg := classify.DefaultEmotionConfig()
	if fc.IntensityChange > 0 {
		cfg.IntensityChange = fc.IntensityChange
	}
	if fc.StabilityChange > 0 {
		cfg.StabilityChange = fc.StabilityChange
	}
	if fc.HoldWindowMS > 0 {
		cfg.HoldWindow = fc.HoldWindowMS
	}
	return cfg
}

// ToSegmentConfig overlays the fixture fields onto the defaults.
func (fc FixtureSegmentConfig) ToSegmentConfig() classify.SegmentConfig {
	cfg := classify.DefaultSegmentConfig()
	if fc.EnergyChange > 0 {
		cfg.EnergyChange = fc.EnergyChange
	}
	if fc.FluxChange > 0 {
		cfg.FluxChange = fc.FluxChange
	}
	if fc.MinDurationMS > 0 {
		cfg.MinDuration = fc.MinDurationMS
	}
	return cfg
}

// #endregion fixture-types

// #region fixture-loader

// maxFixtureSpanMS bounds frame offsets; the harness replays against a
// live clock base and the router rejects timestamps far in the future.
const maxFixtureSpanMS = 55_000

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for i, frame := range f.Frames {
		if frame.OffsetMS < 0 || frame.OffsetMS > maxFixtureSpanMS {
			return nil, fmt.Errorf("fixture %s: frame %d offset %dms outside [0, %dms]",
				path, i, frame.OffsetMS, maxFixtureSpanMS)
		}
		if i > 0 && frame.OffsetMS < f.Frames[i-1].OffsetMS {
			return nil, fmt.Errorf("fixture %s: frame %d offset goes backwards", path, i)
		}
	}
	return &f, nil
}

// #endregion fixture-loader
