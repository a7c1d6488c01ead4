// Package adaptation couples the emotion vector to the randomness source:
// it maps mood onto a randomness target, recommends visual presets, drives
// adaptive reseeding, and backs everything off under load.
package adaptation

// #region mapping

// AxisLevel holds the randomness target and preset bias for one bucket of
// one emotion axis.
type AxisLevel struct {
	Randomness float64  `yaml:"randomness"`
	Entropy    float64  `yaml:"entropy"`
	Presets    []string `yaml:"presets"`
}

// Mapping buckets each emotion axis into three levels. Energy and arousal
// split at 0.33/0.66, valence at -0.33/0.33.
type Mapping struct {
	EnergyLow       AxisLevel `yaml:"energy_low"`
	EnergyMedium    AxisLevel `yaml:"energy_medium"`
	EnergyHigh      AxisLevel `yaml:"energy_high"`
	ValenceNegative AxisLevel `yaml:"valence_negative"`
	ValenceNeutral  AxisLevel `yaml:"valence_neutral"`
	ValencePositive AxisLevel `yaml:"valence_positive"`
	ArousalLow      AxisLevel `yaml:"arousal_low"`
	ArousalMedium   AxisLevel `yaml:"arousal_medium"`
	ArousalHigh     AxisLevel `yaml:"arousal_high"`
}

// DefaultMapping returns the production mapping table.
func DefaultMapping() Mapping {
	return Mapping{
		EnergyLow:       AxisLevel{0.3, 0.4, []string{"deep_minimal", "hypnotic", "liquid_metal_carve"}},
		EnergyMedium:    AxisLevel{0.6, 0.6, []string{"classic", "liquid_metal_polish", "rhythmic_pulse"}},
		EnergyHigh:      AxisLevel{0.8, 0.8, []string{"peak_warehouse", "hard_techno", "high_energy_blast"}},
		ValenceNegative: AxisLevel{0.7, 0.7, []string{"dark_purple", "entropy_chaos", "liquid_metal_carve"}},
		ValenceNeutral:  AxisLevel{0.5, 0.5, []string{"classic", "liquid_metal_polish", "balanced_silver"}},
		ValencePositive: AxisLevel{0.6, 0.6, []string{"bright_blue", "wave_field", "liquid_metal_flow"}},
		ArousalLow:      AxisLevel{0.4, 0.4, []string{"calm_green", "liquid_flow", "deep_minimal"}},
		ArousalMedium:   AxisLevel{0.6, 0.6, []string{"classic", "liquid_metal_polish", "rhythmic_pulse"}},
		ArousalHigh:     AxisLevel{0.8, 0.8, []string{"energetic_red", "particle_system", "peak_warehouse"}},
	}
}

func (m Mapping) energyLevel(e float64) AxisLevel {
	switch {
	case e < 0.33:
		return m.EnergyLow
	case e < 0.66:
		return m.EnergyMedium
	default:
		return m.EnergyHigh
	}
}

func (m Mapping) valenceLevel(v float64) AxisLevel {
	switch {
	case v < -0.33:
		return m.ValenceNegative
	case v < 0.33:
		return m.ValenceNeutral
	default:
		return m.ValencePositive
	}
}

func (m Mapping) arousalLevel(a float64) AxisLevel {
	switch {
	case a < 0.33:
		return m.ArousalLow
	case a < 0.66:
		return m.ArousalMedium
	default:
		return m.ArousalHigh
	}
}

// #endregion mapping

// #region config

// Config tunes the engine. Each sub-computation toggles independently.
type Config struct {
	EnableEmotionDriven      bool    `yaml:"enable_emotion_driven"`
	EnablePresetCoordination bool    `yaml:"enable_preset_coordination"`
	EnableAdaptiveSeeding    bool    `yaml:"enable_adaptive_seeding"`
	EnablePerformanceGuard   bool    `yaml:"enable_performance_guard"`
	MaxRandomness            float64 `yaml:"max_randomness"`
	MinRandomness            float64 `yaml:"min_randomness"`
	EmotionWeight            float64 `yaml:"emotion_weight"`
	PresetWeight             float64 `yaml:"preset_weight"`
	UpdateInterval           int64   `yaml:"update_interval_ms"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EnableEmotionDriven:      true,
		EnablePresetCoordination: true,
		EnableAdaptiveSeeding:    true,
		EnablePerformanceGuard:   true,
		MaxRandomness:            0.9,
		MinRandomness:            0.2,
		EmotionWeight:            0.6,
		PresetWeight:             0.4,
		UpdateInterval:           1000,
	}
}

const (
	// maxRecommendations caps the preset recommendation list.
	maxRecommendations = 5
	// reseedThreshold is the seed-adjustment magnitude that triggers a
	// reseed.
	reseedThreshold = 0.1
	// materialChange is the randomness delta worth announcing.
	materialChange = 0.001
)

// #endregion config
