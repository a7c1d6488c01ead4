package bus

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// #region config

// Config tunes router limits. MaxListeners is a soft cap: exceeding it logs
// a warning but never rejects a subscription.
type Config struct {
	MaxListeners      int  `yaml:"max_listeners"`
	HistorySize       int  `yaml:"history_size"`
	EnableForwarding  bool `yaml:"enable_forwarding"`
	EnableValidation  bool `yaml:"enable_validation"`
	DefaultRateLimits bool `yaml:"default_rate_limits"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxListeners:      100,
		HistorySize:       100,
		EnableForwarding:  true,
		EnableValidation:  true,
		DefaultRateLimits: true,
	}
}

// maxFutureSkew bounds how far into the future an event timestamp may lie.
const maxFutureSkew = 60 * time.Second

// #endregion config

// #region router-struct

type subscription struct {
	id uint64
	fn Handler
}

type target struct {
	ns  Namespace
	typ string
}

// Router is the process-wide event router. It owns listener registries,
// rate limiters, and the forwarding table; all of them are created at
// startup and torn down by Close.
type Router struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]subscription
	limiters  map[string]*limiter
	routes    map[string][]target
	history   []Event
	closed    bool
}

// #endregion router-struct

// #region constructor

// NewRouter builds a router with the static forwarding table and, when
// enabled, the default rate-limit policies for high-frequency topics.
func NewRouter(cfg Config, log *zap.Logger) *Router {
	r := &Router{
		cfg:       cfg,
		log:       log,
		listeners: make(map[string][]subscription),
		limiters:  make(map[string]*limiter),
		routes:    make(map[string][]target),
	}
	if cfg.EnableForwarding {
		r.setupForwarding()
	}
	if cfg.DefaultRateLimits {
		r.setupDefaultRateLimits()
	}
	return r
}

// setupForwarding installs the static cross-namespace routes. A preset
// change fans out to both the automix energy hint and the pipeline.
func (r *Router) setupForwarding() {
	r.AddRoute(NamespaceVisualization, "preset", NamespaceAutomix, "energy")
	r.AddRoute(NamespaceVisualization, "preset", NamespaceLiquidMetal, "pipeline")
	r.AddRoute(NamespaceAutomix, "energy", NamespaceVisualization, "effect")
	r.AddRoute(NamespaceLiquidMetal, "mood", NamespaceVisualization, "preset")
	r.AddRoute(NamespaceLiquidMetal, "mood", NamespaceVisualization, "color")
	r.AddRoute(NamespaceGlobal, "performance", NamespaceVisualization, "effect")
	r.AddRoute(NamespaceGlobal, "performance", NamespaceLiquidMetal, "pipeline")
}

// setupDefaultRateLimits throttles the hot topics so downstream consumers
// see coalesced updates instead of every frame.
func (r *Router) setupDefaultRateLimits() {
	r.ConfigureRateLimit(NamespaceAutomix, "bpm", Throttle, 250*time.Millisecond)
	r.ConfigureRateLimit(NamespaceAudio, "energy", Throttle, 250*time.Millisecond)
	r.ConfigureRateLimit(NamespacePerformance, "metrics", Throttle, 500*time.Millisecond)
	r.ConfigureRateLimit(NamespaceVisualization, "effect", Debounce, 250*time.Millisecond)
}

// #endregion constructor

// #region subscribe

// Subscribe registers a handler for the exact (namespace,type) key and
// returns the function that deregisters it. It never fails; passing the
// soft listener cap only logs a warning.
func (r *Router) Subscribe(ns Namespace, typ string, fn Handler) func() {
	key := eventKey(ns, typ)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[key] = append(r.listeners[key], subscription{id: id, fn: fn})
	count := len(r.listeners[key])
	r.mu.Unlock()

	if count > r.cfg.MaxListeners {
		r.log.Warn("listener cap exceeded",
			zap.String("topic", key),
			zap.Int("listeners", count),
			zap.Int("cap", r.cfg.MaxListeners))
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.listeners[key]
		for i, s := range subs {
			if s.id == id {
				r.listeners[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(r.listeners[key]) == 0 {
			delete(r.listeners, key)
		}
	}
}

// ListenerStats reports the listener count per topic.
func (r *Router) ListenerStats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[string]int, len(r.listeners))
	for key, subs := range r.listeners {
		stats[key] = len(subs)
	}
	return stats
}

// #endregion subscribe

// #region publish

// Publish validates the event and hands it to the topic's rate limiter, or
// dispatches immediately when no policy is configured. Malformed events are
// dropped and logged; nothing propagates back to the caller.
func (r *Router) Publish(e Event) {
	if r.cfg.EnableValidation {
		if err := validate(e); err != nil {
			r.log.Error("event rejected", zap.String("topic", e.Key()), zap.Error(err))
			return
		}
		if check, ok := payloadChecks[e.Key()]; ok && !check(e.Data) {
			// Payload shape mismatch is diagnostic only.
			r.log.Warn("event payload has unexpected shape", zap.String("topic", e.Key()))
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	lim := r.limiters[e.Key()]
	r.mu.Unlock()

	if lim != nil {
		lim.submit(e)
		return
	}
	r.dispatch(e)
}

func validate(e Event) error {
	if !validNamespaces[e.Namespace] {
		return fmt.Errorf("unknown namespace %q", e.Namespace)
	}
	if e.Type == "" {
		return fmt.Errorf("empty event type")
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("negative timestamp %d", e.Timestamp)
	}
	if e.Timestamp > time.Now().Add(maxFutureSkew).UnixMilli() {
		return fmt.Errorf("timestamp %d too far in the future", e.Timestamp)
	}
	return nil
}

// dispatch records the event, invokes handlers in registration order, then
// republishes along any forwarding routes. Forwarded events re-enter
// Publish, so the target topic's own rate limit applies.
func (r *Router) dispatch(e Event) {
	key := e.Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.history = append(r.history, e)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
	subs := make([]subscription, len(r.listeners[key]))
	copy(subs, r.listeners[key])
	routes := make([]target, len(r.routes[key]))
	copy(routes, r.routes[key])
	r.mu.Unlock()

	for _, s := range subs {
		r.invoke(key, s.fn, e)
	}

	if !r.cfg.EnableForwarding {
		return
	}
	for _, t := range routes {
		if t.ns == e.Namespace && t.typ == e.Type {
			// Route back onto the source topic would loop forever.
			continue
		}
		forwarded := e
		forwarded.Namespace = t.ns
		forwarded.Type = t.typ
		forwarded.Timestamp = Now()
		r.Publish(forwarded)
	}
}

// invoke isolates handler panics so one bad handler cannot block the rest.
func (r *Router) invoke(key string, fn Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("event handler panicked",
				zap.String("topic", key),
				zap.Any("panic", rec))
		}
	}()
	fn(e)
}

// #endregion publish

// #region rate-limit-config

// ConfigureRateLimit installs (or replaces) the policy for one topic.
// Exactly one policy is active per key.
func (r *Router) ConfigureRateLimit(ns Namespace, typ string, mode LimitMode, window time.Duration) {
	key := eventKey(ns, typ)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.limiters[key]; ok {
		old.close()
	}
	r.limiters[key] = newLimiter(mode, window, r.dispatch)
}

// ClearRateLimit removes policies. With a type it clears one topic; with an
// empty type it clears the whole namespace; with an empty namespace it
// clears everything. Pending coalesced deliveries are dropped.
func (r *Router) ClearRateLimit(ns Namespace, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, lim := range r.limiters {
		switch {
		case ns == "":
		case typ != "" && key != eventKey(ns, typ):
			continue
		case typ == "" && !hasNamespacePrefix(key, ns):
			continue
		}
		lim.close()
		delete(r.limiters, key)
	}
}

func hasNamespacePrefix(key string, ns Namespace) bool {
	prefix := string(ns) + ":"
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

// #endregion rate-limit-config

// #region routes

// AddRoute appends a forwarding target for the source topic.
func (r *Router) AddRoute(srcNS Namespace, srcType string, dstNS Namespace, dstType string) {
	key := eventKey(srcNS, srcType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[key] = append(r.routes[key], target{ns: dstNS, typ: dstType})
}

// ClearRoutes drops the whole forwarding table.
func (r *Router) ClearRoutes() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = make(map[string][]target)
}

// #endregion routes

// #region history

// History returns a copy of the recent successfully dispatched events,
// oldest first.
func (r *Router) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}

// #endregion history

// #region close

// Close tears the router down: limiters are closed (pending coalesced
// events are dropped, not flushed) and further publishes are no-ops.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, lim := range r.limiters {
		lim.close()
		delete(r.limiters, key)
	}
	r.listeners = make(map[string][]subscription)
}

// #endregion close
