// Package bus implements the typed publish/subscribe router every other
// component communicates through: namespaced topics, per-topic rate
// limiting, payload validation, cross-namespace forwarding, and a bounded
// event history for diagnostics.
package bus

import (
	"fmt"
	"time"
)

// #region namespaces

// Namespace identifies a channel family. The set is closed; events tagged
// with anything else are rejected before delivery.
type Namespace string

const (
	NamespaceVisualization Namespace = "visualization"
	NamespaceAutomix       Namespace = "automix"
	NamespaceLiquidMetal   Namespace = "liquidmetal"
	NamespaceGlobal        Namespace = "global"
	NamespaceAudio         Namespace = "audio"
	NamespaceMood          Namespace = "mood"
	NamespaceEmotion       Namespace = "emotion"
	NamespaceMusic         Namespace = "music"
	NamespacePerformance   Namespace = "performance"
	NamespaceRandom        Namespace = "random"
	NamespaceRecovery      Namespace = "recovery"
	NamespaceRandomEmotion Namespace = "random_emotion"
	NamespaceSystem        Namespace = "system"
	NamespaceApp           Namespace = "app"
	NamespaceTime          Namespace = "time"
)

var validNamespaces = map[Namespace]bool{
	NamespaceVisualization: true,
	NamespaceAutomix:       true,
	NamespaceLiquidMetal:   true,
	NamespaceGlobal:        true,
	NamespaceAudio:         true,
	NamespaceMood:          true,
	NamespaceEmotion:       true,
	NamespaceMusic:         true,
	NamespacePerformance:   true,
	NamespaceRandom:        true,
	NamespaceRecovery:      true,
	NamespaceRandomEmotion: true,
	NamespaceSystem:        true,
	NamespaceApp:           true,
	NamespaceTime:          true,
}

// #endregion namespaces

// #region event

// Event is the unit of delivery. Timestamp is unix milliseconds.
type Event struct {
	Namespace Namespace `json:"namespace"`
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Key returns the routing key "namespace:type".
func (e Event) Key() string {
	return eventKey(e.Namespace, e.Type)
}

func eventKey(ns Namespace, typ string) string {
	return fmt.Sprintf("%s:%s", ns, typ)
}

// Now returns the current time as an event timestamp.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Handler receives dispatched events. Handlers run synchronously in
// registration order; a panicking handler is logged and skipped, never
// propagated to the publisher.
type Handler func(Event)

// #endregion event

// #region payloads

// AudioFeatures is the numeric feature frame produced by the external
// feature extractor. All values are normalized to [0,1].
type AudioFeatures struct {
	Energy   float64 `json:"energy"`
	Flux     float64 `json:"flux"`
	Centroid float64 `json:"centroid"`
	Crest    float64 `json:"crest"`
	Bass     float64 `json:"bass"`
	Presence float64 `json:"presence"`
}

// Mood is the emotion vector driving randomness bias and preset ranking.
type Mood struct {
	Energy  float64 `json:"energy"`  // [0,1]
	Valence float64 `json:"valence"` // [-1,1]
	Arousal float64 `json:"arousal"` // [0,1]
}

// Clamped returns the vector with every axis forced into range.
func (m Mood) Clamped() Mood {
	return Mood{
		Energy:  clamp(m.Energy, 0, 1),
		Valence: clamp(m.Valence, -1, 1),
		Arousal: clamp(m.Arousal, 0, 1),
	}
}

// PerformanceMetrics carries live host metrics for the performance guard.
type PerformanceMetrics struct {
	FPS         float64 `json:"fps"`
	MemoryUsage float64 `json:"memoryUsage"` // [0,1]
	CPUUsage    float64 `json:"cpuUsage"`    // [0,1]
}

// EnergyLevel is a bare audio-energy sample.
type EnergyLevel struct {
	Energy float64 `json:"energy"`
}

// PresetChange reports the renderer's active preset.
type PresetChange struct {
	Preset string `json:"preset"`
}

// SystemError reports a host-side failure; consecutive errors drive the
// recovery rollback counter.
type SystemError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion payloads

// #region payload-checks

// payloadChecks maps typed topics to their expected payload shape. A
// mismatch is logged but does not block delivery; structural event
// validation is what drops events.
var payloadChecks = map[string]func(any) bool{
	"mood:update":                 func(d any) bool { _, ok := d.(Mood); return ok },
	"audio:features":              func(d any) bool { _, ok := d.(AudioFeatures); return ok },
	"audio:energy":                func(d any) bool { _, ok := d.(EnergyLevel); return ok },
	"performance:metrics":         func(d any) bool { _, ok := d.(PerformanceMetrics); return ok },
	"visualization:preset_change": func(d any) bool { _, ok := d.(PresetChange); return ok },
	"system:error":                func(d any) bool { _, ok := d.(SystemError); return ok },
}

// #endregion payload-checks
