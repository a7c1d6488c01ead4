package seed

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
	"github.com/tiangong-vis/coordinator/internal/store"
)

// #region events

// ChangedEvent is the payload of random:seed_changed.
type ChangedEvent struct {
	Seed  int64 `json:"seed"`
	State State `json:"state"`
}

// ReadyEvent is the payload of random:manager_ready.
type ReadyEvent struct {
	State    State `json:"state"`
	PoolSize int   `json:"seedPoolSize"`
}

// PoolInfo describes the unused portion of the seed pool.
type PoolInfo struct {
	Size  int     `json:"size"`
	Seeds []int64 `json:"seeds"`
}

// #endregion events

// #region manager

const autoReseedTask = "seed-auto-reseed"

// Manager owns the current seed, the seed pool, and the bias terms. All
// mutation goes through the single mutex; bus publishes happen outside it
// because handlers run synchronously and may read back through State.
type Manager struct {
	cfg    PoolConfig
	log    *zap.Logger
	router *bus.Router
	store  store.Store
	sched  *sched.Scheduler

	mu     sync.Mutex
	bias   BiasControl
	state  State
	pool   []int64
	rng    RNG
	unsubs []func()
	closed bool
}

// NewManager wires the manager but does not touch the store; call Init.
func NewManager(cfg PoolConfig, bias BiasControl, st store.Store, router *bus.Router, sc *sched.Scheduler, log *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		bias:   bias,
		log:    log,
		router: router,
		store:  st,
		sched:  sc,
	}
}

// Init restores persisted state (falling back to a fresh time-seeded state
// on any load problem), fills the pool, applies the current seed, starts
// the auto-reseed task, and announces readiness.
func (m *Manager) Init() error {
	m.mu.Lock()
	m.state = m.loadState()
	m.generatePoolLocked()
	ev := m.applySeedLocked(m.state.CurrentSeed)
	ready := ReadyEvent{State: m.snapshotLocked(), PoolSize: len(m.pool)}
	m.mu.Unlock()

	m.publishChanged(ev)

	m.unsubs = append(m.unsubs,
		m.router.Subscribe(bus.NamespaceMood, "update", m.handleMood),
		m.router.Subscribe(bus.NamespaceAudio, "energy", m.handleEnergy),
		m.router.Subscribe(bus.NamespaceTime, "tick", m.handleTick),
	)

	interval := time.Duration(m.cfg.AutoReseedInterval) * time.Millisecond
	if err := m.sched.Every(autoReseedTask, interval, m.autoReseed); err != nil {
		return fmt.Errorf("schedule auto reseed: %w", err)
	}

	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRandom,
		Type:      "manager_ready",
		Timestamp: bus.Now(),
		Data:      ready,
	})
	m.log.Info("seed manager ready",
		zap.Int64("seed", ready.State.CurrentSeed),
		zap.Int("pool_size", ready.PoolSize))
	return nil
}

// loadState reads the persisted snapshot, or builds a fresh one when the
// store has nothing usable.
func (m *Manager) loadState() State {
	fresh := State{
		CurrentSeed:    time.Now().UnixMilli(),
		LastReseedTime: time.Now().UnixMilli(),
		RandomQuality:  0.8,
		EntropyLevel:   0.7,
	}

	raw, err := m.store.Get(store.KeyRandomState)
	if err != nil {
		if err != store.ErrNotFound {
			m.log.Warn("load seed state failed", zap.Error(err))
		}
		return fresh
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		m.log.Warn("persisted seed state malformed", zap.Error(err))
		return fresh
	}
	if !s.Valid() {
		m.log.Warn("persisted seed state out of range, starting fresh")
		return fresh
	}
	m.log.Info("seed state restored", zap.Int64("seed", s.CurrentSeed))
	return s
}

// #endregion manager

// #region pool

// generatePoolLocked refills the pool with unique seeds from the
// high-quality generator.
func (m *Manager) generatePoolLocked() {
	m.pool = m.pool[:0]
	gen := NewPCG(time.Now().UnixNano())
	seen := make(map[int64]bool, m.cfg.PoolSize)
	span := float64(m.cfg.MaxSeedValue - m.cfg.MinSeedValue)
	for i := 0; i < m.cfg.PoolSize; i++ {
		s := m.cfg.MinSeedValue + int64(gen()*span)
		if !seen[s] {
			seen[s] = true
			m.pool = append(m.pool, s)
		}
	}
}

// AddSeedToPool inserts one seed if it is inside the configured range and
// not already pooled.
func (m *Manager) AddSeedToPool(seed int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seed < m.cfg.MinSeedValue || seed > m.cfg.MaxSeedValue {
		return false
	}
	for _, s := range m.pool {
		if s == seed {
			return false
		}
	}
	m.pool = append(m.pool, seed)
	return true
}

// PoolInfo returns a copy of the remaining pool.
func (m *Manager) PoolInfo() PoolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	seeds := make([]int64, len(m.pool))
	copy(seeds, m.pool)
	return PoolInfo{Size: len(seeds), Seeds: seeds}
}

// #endregion pool

// #region seeding

// Reseed pops a pool seed (regenerating the pool first when empty) and
// makes it current.
func (m *Manager) Reseed() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if len(m.pool) == 0 {
		m.generatePoolLocked()
	}
	var idx int
	if m.rng != nil {
		idx = int(m.rng() * float64(len(m.pool)))
	}
	if idx >= len(m.pool) {
		idx = len(m.pool) - 1
	}
	next := m.pool[idx]
	m.pool = append(m.pool[:idx], m.pool[idx+1:]...)
	ev := m.applySeedLocked(next)
	m.mu.Unlock()

	m.publishChanged(ev)
}

// applySeedLocked makes seed current, records history, rebuilds the draw
// generator, recomputes quality, and persists. The caller publishes the
// returned event after releasing the lock.
func (m *Manager) applySeedLocked(seed int64) ChangedEvent {
	m.state.CurrentSeed = seed
	m.state.LastReseedTime = time.Now().UnixMilli()
	m.state.ReseedCount++
	m.state.SeedHistory = append(m.state.SeedHistory, seed)
	if len(m.state.SeedHistory) > historyCap {
		m.state.SeedHistory = m.state.SeedHistory[len(m.state.SeedHistory)-historyCap:]
	}
	m.rng = NewXorshift(seed)
	m.updateQualityLocked()
	m.persistLocked()
	return ChangedEvent{Seed: seed, State: m.snapshotLocked()}
}

func (m *Manager) publishChanged(ev ChangedEvent) {
	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRandom,
		Type:      "seed_changed",
		Timestamp: bus.Now(),
		Data:      ev,
	})
}

// autoReseed fires on the scheduler; it reseeds when the interval has
// elapsed or either quality signal dropped below its threshold.
func (m *Manager) autoReseed() {
	m.mu.Lock()
	elapsed := time.Now().UnixMilli() - m.state.LastReseedTime
	due := elapsed > m.cfg.AutoReseedInterval ||
		m.state.RandomQuality < m.cfg.QualityThreshold ||
		m.state.EntropyLevel < m.cfg.EntropyThreshold
	m.mu.Unlock()
	if due {
		m.Reseed()
	}
}

// Adopt replaces the live state with a restored snapshot. Used after a
// recovery decision; the manager itself never initiates restoration.
func (m *Manager) Adopt(s State) {
	m.mu.Lock()
	m.state = s
	m.rng = NewXorshift(s.CurrentSeed)
	m.updateQualityLocked()
	m.persistLocked()
	ev := ChangedEvent{Seed: s.CurrentSeed, State: m.snapshotLocked()}
	m.mu.Unlock()

	m.publishChanged(ev)
	m.log.Info("seed state adopted", zap.Int64("seed", s.CurrentSeed))
}

// #endregion seeding

// #region quality

func (m *Manager) updateQualityLocked() {
	diversity := m.poolDiversityLocked()
	change := m.historyChangeRateLocked()
	m.state.RandomQuality = math.Min(1, (diversity+change)/2)
	m.state.EntropyLevel = m.historyEntropyLocked()
}

func (m *Manager) poolDiversityLocked() float64 {
	if len(m.pool) < 2 {
		return 0
	}
	unique := make(map[int64]bool, len(m.pool))
	for _, s := range m.pool {
		unique[s] = true
	}
	return float64(len(unique)) / float64(len(m.pool))
}

func (m *Manager) historyChangeRateLocked() float64 {
	h := m.state.SeedHistory
	if len(h) < 2 {
		return 0
	}
	changes := 0
	for i := 1; i < len(h); i++ {
		if h[i] != h[i-1] {
			changes++
		}
	}
	return float64(changes) / float64(len(h)-1)
}

func (m *Manager) historyEntropyLocked() float64 {
	h := m.state.SeedHistory
	if len(h) < 2 {
		return 0
	}
	if len(h) > entropyWindow {
		h = h[len(h)-entropyWindow:]
	}
	unique := make(map[int64]bool, len(h))
	for _, s := range h {
		unique[s] = true
	}
	return float64(len(unique)) / float64(len(h))
}

// #endregion quality

// #region draws

// Random returns the next draw from the current generator, seeding from
// the clock if nothing has been applied yet.
func (m *Manager) Random() float64 {
	m.mu.Lock()
	if m.rng == nil {
		ev := m.applySeedLocked(time.Now().UnixMilli())
		v := m.rng()
		m.mu.Unlock()
		m.publishChanged(ev)
		return v
	}
	v := m.rng()
	m.mu.Unlock()
	return v
}

// #endregion draws

// #region bias

// emotionAdjustments maps detected emotion labels to bias deltas scaled by
// intensity.
var emotionAdjustments = map[string]float64{
	"energetic": 0.1,
	"calm":      -0.1,
	"excited":   0.2,
	"relaxed":   -0.05,
}

// AdjustByEmotion nudges the emotion bias. Unknown labels are ignored.
func (m *Manager) AdjustByEmotion(emotion string, intensity float64) {
	delta, ok := emotionAdjustments[emotion]
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bias.EmotionBias = clamp01(m.bias.EmotionBias + delta*intensity)
}

// AdjustByEnergy nudges the energy bias; samples above 0.5 push it up.
func (m *Manager) AdjustByEnergy(energy float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bias.EnergyBias = clamp01(m.bias.EnergyBias + (energy-0.5)*0.2)
}

// AdjustByTime applies a sinusoidal drift on a one-minute cycle.
func (m *Manager) AdjustByTime(timestamp int64) {
	cycle := float64(timestamp%60_000) / 60_000
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bias.TimeBias = clamp01(m.bias.TimeBias + math.Sin(cycle*2*math.Pi)*0.05)
}

// SetBias replaces the whole control block.
func (m *Manager) SetBias(b BiasControl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bias = b
}

// Bias returns the current control block.
func (m *Manager) Bias() BiasControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bias
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion bias

// #region handlers

func (m *Manager) handleMood(e bus.Event) {
	mood, ok := e.Data.(bus.Mood)
	if !ok {
		return
	}
	mood = mood.Clamped()
	if label := moodLabel(mood); label != "" {
		m.AdjustByEmotion(label, mood.Arousal)
	}
}

// moodLabel collapses the vector onto the coarse labels the bias table
// understands. Mid-range vectors produce no adjustment.
func moodLabel(m bus.Mood) string {
	switch {
	case m.Energy > 0.66 && m.Arousal > 0.66:
		return "excited"
	case m.Energy > 0.66:
		return "energetic"
	case m.Energy < 0.33 && m.Arousal < 0.33:
		return "relaxed"
	case m.Energy < 0.33:
		return "calm"
	default:
		return ""
	}
}

func (m *Manager) handleEnergy(e bus.Event) {
	if lvl, ok := e.Data.(bus.EnergyLevel); ok {
		m.AdjustByEnergy(lvl.Energy)
	}
}

func (m *Manager) handleTick(e bus.Event) {
	m.AdjustByTime(e.Timestamp)
}

// #endregion handlers

// #region accessors

// State returns a snapshot with its own history slice.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	s.SeedHistory = make([]int64, len(m.state.SeedHistory))
	copy(s.SeedHistory, m.state.SeedHistory)
	return s
}

// ClearHistory drops the seed history and persists the truncated state.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SeedHistory = nil
	m.persistLocked()
}

// persistLocked writes the snapshot, trimming history to the persisted cap.
func (m *Manager) persistLocked() {
	s := m.snapshotLocked()
	if len(s.SeedHistory) > historyPersist {
		s.SeedHistory = s.SeedHistory[len(s.SeedHistory)-historyPersist:]
	}
	raw, err := json.Marshal(s)
	if err != nil {
		m.log.Warn("encode seed state failed", zap.Error(err))
		return
	}
	if err := m.store.Put(store.KeyRandomState, raw); err != nil {
		m.log.Warn("persist seed state failed", zap.Error(err))
	}
}

// Close stops the auto-reseed task, detaches handlers, and persists.
func (m *Manager) Close() {
	m.sched.Stop(autoReseedTask)
	for _, off := range m.unsubs {
		off()
	}
	m.unsubs = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.persistLocked()
}

// #endregion accessors
