// Package seed manages the persistent random-seed pool: seed selection,
// quality and entropy tracking, bias accumulation from live signals, and
// state persistence across restarts.
package seed

// #region state

// State is the persisted snapshot of the seed subsystem. Field names are
// fixed by the on-disk JSON format.
type State struct {
	CurrentSeed    int64   `json:"currentSeed"`
	SeedHistory    []int64 `json:"seedHistory"`
	LastReseedTime int64   `json:"lastReseedTime"` // unix ms
	ReseedCount    int     `json:"reseedCount"`
	RandomQuality  float64 `json:"randomQuality"` // [0,1]
	EntropyLevel   float64 `json:"entropyLevel"`  // [0,1]
}

// Valid reports whether a decoded snapshot is structurally usable.
func (s State) Valid() bool {
	return s.CurrentSeed > 0 &&
		s.LastReseedTime >= 0 &&
		s.ReseedCount >= 0 &&
		s.RandomQuality >= 0 && s.RandomQuality <= 1 &&
		s.EntropyLevel >= 0 && s.EntropyLevel <= 1
}

// #endregion state

// #region config

// PoolConfig tunes the seed pool and the auto-reseed policy.
type PoolConfig struct {
	PoolSize           int     `yaml:"pool_size"`
	MinSeedValue       int64   `yaml:"min_seed_value"`
	MaxSeedValue       int64   `yaml:"max_seed_value"`
	QualityThreshold   float64 `yaml:"quality_threshold"`
	EntropyThreshold   float64 `yaml:"entropy_threshold"`
	AutoReseedInterval int64   `yaml:"auto_reseed_interval_ms"`
}

// DefaultPoolConfig returns the production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PoolSize:           50,
		MinSeedValue:       1_000_000,
		MaxSeedValue:       9_999_999,
		QualityThreshold:   0.7,
		EntropyThreshold:   0.6,
		AutoReseedInterval: 300_000, // 5 minutes
	}
}

// BiasControl holds the additive bias terms that external signals push
// onto the randomness source. All fields stay within [0,1].
type BiasControl struct {
	BaseRandomness float64 `yaml:"base_randomness"`
	EmotionBias    float64 `yaml:"emotion_bias"`
	EnergyBias     float64 `yaml:"energy_bias"`
	TimeBias       float64 `yaml:"time_bias"`
	ContrastBias   float64 `yaml:"contrast_bias"`
}

// DefaultBiasControl returns the production defaults.
func DefaultBiasControl() BiasControl {
	return BiasControl{
		BaseRandomness: 0.8,
		EmotionBias:    0.3,
		EnergyBias:     0.2,
		TimeBias:       0.1,
		ContrastBias:   0.2,
	}
}

// #endregion config

// #region limits

const (
	// historyCap bounds the in-memory seed history.
	historyCap = 100
	// historyPersist bounds how much of the history is written to the store.
	historyPersist = 20
	// entropyWindow is the trailing history slice entropy is computed over.
	entropyWindow = 10
)

// #endregion limits
