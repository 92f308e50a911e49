package insights

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWarmer_RunOnce(t *testing.T) {
	repo := &fakeRepo{readings: series("roof", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	w := NewWarmer(e, []string{"roof", "cellar"}, "7d", time.Hour, zerolog.Nop())
	w.RunOnce()

	for _, key := range []string{"insights|roof|period=7d", "insights|cellar|period=7d"} {
		if _, ok := e.Cache().Get(key); !ok {
			t.Errorf("expected warmed entry %q", key)
		}
	}
	if gw.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", gw.callCount())
	}
}

func TestWarmer_Start(t *testing.T) {
	e, _ := newTestEngine(&fakeRepo{}, nil, DefaultEngineConfig())

	disabled := NewWarmer(e, nil, "", time.Hour, zerolog.Nop())
	if err := disabled.Start(); err != nil {
		t.Errorf("Start() with no locations = %v", err)
	}
	disabled.Stop()

	tooFast := NewWarmer(e, []string{"roof"}, "24h", time.Second, zerolog.Nop())
	if err := tooFast.Start(); err == nil {
		t.Error("Start() should reject intervals under a minute")
	}
}
