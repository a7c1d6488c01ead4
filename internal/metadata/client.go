// Package metadata mirrors the now-playing endpoint of the media backend
// onto the bus. It is a pure collaborator: poll failures are logged and
// skipped, never surfaced.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
)

// #region types

// NowPlaying is the backend's track payload. Every field is optional.
type NowPlaying struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	BPM        float64 `json:"bpm"`
	KeyCamelot string  `json:"keyCamelot"`
	Segment    string  `json:"segment"`
}

// Transition is published on automix:transition when the track changes.
type Transition struct {
	Action  string `json:"action"`
	ToTrack string `json:"toTrack"`
	Segment string `json:"segment"`
}

// BPMUpdate is published on automix:bpm.
type BPMUpdate struct {
	BPM float64 `json:"bpm"`
}

// Config tunes the poller.
type Config struct {
	URL        string `yaml:"url"`
	IntervalMS int64  `yaml:"interval_ms"`
	TimeoutMS  int64  `yaml:"timeout_ms"`
}

// DefaultConfig points at the local media backend.
func DefaultConfig() Config {
	return Config{
		URL:        "http://localhost:3500/api/nowplaying",
		IntervalMS: 5000,
		TimeoutMS:  2000,
	}
}

// #endregion types

// #region client

const pollTask = "metadata-nowplaying"

// Client polls the now-playing endpoint and republishes track changes,
// BPM, and derived energy hints.
type Client struct {
	cfg    Config
	log    *zap.Logger
	router *bus.Router
	sched  *sched.Scheduler
	http   *http.Client

	mu      sync.Mutex
	lastKey string
}

// NewClient wires the poller; call Start to begin.
func NewClient(cfg Config, router *bus.Router, sc *sched.Scheduler, log *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		log:    log,
		router: router,
		sched:  sc,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

// Start schedules the poll loop.
func (c *Client) Start() error {
	interval := time.Duration(c.cfg.IntervalMS) * time.Millisecond
	if err := c.sched.Every(pollTask, interval, c.Poll); err != nil {
		return fmt.Errorf("schedule metadata poll: %w", err)
	}
	return nil
}

// Poll fetches one now-playing snapshot and republishes what changed.
func (c *Client) Poll() {
	np, err := c.fetch()
	if err != nil {
		c.log.Debug("now-playing poll failed", zap.Error(err))
		return
	}

	key := fmt.Sprintf("%s - %s @%g", np.Artist, np.Title, np.BPM)
	c.mu.Lock()
	changed := key != c.lastKey
	c.lastKey = key
	c.mu.Unlock()

	if changed {
		segment := np.Segment
		if segment == "" {
			segment = "steady"
		}
		c.router.Publish(bus.Event{
			Namespace: bus.NamespaceAutomix,
			Type:      "transition",
			Timestamp: bus.Now(),
			Data:      Transition{Action: "next", ToTrack: key, Segment: segment},
		})
	}

	if np.BPM > 0 {
		c.router.Publish(bus.Event{
			Namespace: bus.NamespaceAutomix,
			Type:      "bpm",
			Timestamp: bus.Now(),
			Data:      BPMUpdate{BPM: np.BPM},
		})
		c.router.Publish(bus.Event{
			Namespace: bus.NamespaceAudio,
			Type:      "energy",
			Timestamp: bus.Now(),
			Data:      bus.EnergyLevel{Energy: energyFromBPM(np.BPM)},
		})
	}
}

func (c *Client) fetch() (NowPlaying, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return NowPlaying{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return NowPlaying{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NowPlaying{}, fmt.Errorf("now-playing status %d", resp.StatusCode)
	}

	var np NowPlaying
	if err := json.NewDecoder(resp.Body).Decode(&np); err != nil {
		return NowPlaying{}, fmt.Errorf("decode now-playing: %w", err)
	}
	return np, nil
}

// energyFromBPM maps club tempo onto a coarse [0,1] energy hint. 60 BPM
// and below reads as 0, 180 and above as 1.
func energyFromBPM(bpm float64) float64 {
	e := (bpm - 60) / 120
	if e < 0 {
		return 0
	}
	if e > 1 {
		return 1
	}
	return e
}

// Stop halts the poll loop.
func (c *Client) Stop() {
	c.sched.Stop(pollTask)
}

// #endregion client
