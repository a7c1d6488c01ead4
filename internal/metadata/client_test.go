package metadata

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
)

func newTestClient(t *testing.T, url string) (*Client, *bus.Router) {
	t.Helper()
	bcfg := bus.DefaultConfig()
	bcfg.DefaultRateLimits = false
	router := bus.NewRouter(bcfg, zap.NewNop())
	sc := sched.New(zap.NewNop())
	t.Cleanup(func() {
		sc.Close()
		router.Close()
	})
	cfg := DefaultConfig()
	cfg.URL = url
	return NewClient(cfg, router, sc, zap.NewNop()), router
}

func TestPollPublishesTransitionAndHints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Acid Rain","artist":"Tester","bpm":128,"segment":"drop"}`))
	}))
	defer srv.Close()

	c, router := newTestClient(t, srv.URL)

	var mu sync.Mutex
	var transitions []Transition
	var bpms []BPMUpdate
	var energies []bus.EnergyLevel
	router.Subscribe(bus.NamespaceAutomix, "transition", func(e bus.Event) {
		mu.Lock()
		transitions = append(transitions, e.Data.(Transition))
		mu.Unlock()
	})
	router.Subscribe(bus.NamespaceAutomix, "bpm", func(e bus.Event) {
		mu.Lock()
		bpms = append(bpms, e.Data.(BPMUpdate))
		mu.Unlock()
	})
	router.Subscribe(bus.NamespaceAudio, "energy", func(e bus.Event) {
		mu.Lock()
		energies = append(energies, e.Data.(bus.EnergyLevel))
		mu.Unlock()
	})

	c.Poll()
	c.Poll()

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition for an unchanged track, got %d", len(transitions))
	}
	if transitions[0].Segment != "drop" || transitions[0].Action != "next" {
		t.Fatalf("unexpected transition payload: %+v", transitions[0])
	}
	if len(bpms) != 2 || bpms[0].BPM != 128 {
		t.Fatalf("unexpected bpm publishes: %+v", bpms)
	}
	if len(energies) != 2 {
		t.Fatalf("expected energy hint per poll, got %d", len(energies))
	}
	want := (128.0 - 60) / 120
	if energies[0].Energy != want {
		t.Fatalf("energy hint = %v, want %v", energies[0].Energy, want)
	}
}

func TestPollSkipsBackendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, router := newTestClient(t, srv.URL)

	published := 0
	router.Subscribe(bus.NamespaceAutomix, "transition", func(bus.Event) { published++ })
	router.Subscribe(bus.NamespaceAutomix, "bpm", func(bus.Event) { published++ })

	c.Poll()
	if published != 0 {
		t.Fatalf("failure poll published %d events", published)
	}
}

func TestEnergyFromBPMClamps(t *testing.T) {
	if got := energyFromBPM(40); got != 0 {
		t.Fatalf("energyFromBPM(40) = %v, want 0", got)
	}
	if got := energyFromBPM(300); got != 1 {
		t.Fatalf("energyFromBPM(300) = %v, want 1", got)
	}
}
