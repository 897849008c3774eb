package cmd

import (
	"testing"
	"time"

	"github.com/joyshmitz/sbh/config"
	"github.com/joyshmitz/sbh/engine"
	"github.com/joyshmitz/sbh/model"
)

func TestPromoteModeSteps(t *testing.T) {
	cases := []struct{ from, want model.ActiveMode }{
		{model.ModeObserve, model.ModeCanary},
		{model.ModeCanary, model.ModeEnforce},
		{model.ModeEnforce, model.ModeEnforce},
		{model.ModeFallbackSafe, model.ModeFallbackSafe},
	}
	for _, c := range cases {
		if got := promoteMode(c.from); got != c.want {
			t.Errorf("promoteMode(%s) = %s, want %s", c.from, got, c.want)
		}
	}
}

func TestDemoteModeSteps(t *testing.T) {
	cases := []struct{ from, want model.ActiveMode }{
		{model.ModeEnforce, model.ModeCanary},
		{model.ModeCanary, model.ModeObserve},
		{model.ModeObserve, model.ModeObserve},
		{model.ModeFallbackSafe, model.ModeFallbackSafe},
	}
	for _, c := range cases {
		if got := demoteMode(c.from); got != c.want {
			t.Errorf("demoteMode(%s) = %s, want %s", c.from, got, c.want)
		}
	}
}

func TestApplyLiveConfigKillSwitchForcesFallback(t *testing.T) {
	eng := engine.NewEngine(engine.DefaultEngineConfig(), time.Unix(0, 0))
	next := config.Default()
	next.KillSwitch = true
	applyLiveConfig(eng, next, time.Unix(10, 0))
	if eng.Policy().Mode() != model.ModeFallbackSafe {
		t.Fatalf("want FallbackSafe after kill switch, got %s", eng.Policy().Mode())
	}
}

func TestApplyLiveConfigPromotesTowardDesiredMode(t *testing.T) {
	eng := engine.NewEngine(engine.DefaultEngineConfig(), time.Unix(0, 0))
	eng.Policy().BypassStartupGrace()
	next := config.Default()
	next.InitialMode = model.ModeEnforce
	applyLiveConfig(eng, next, time.Unix(10, 0))
	if eng.Policy().Mode() != model.ModeEnforce {
		t.Fatalf("want Enforce after applying desired mode, got %s", eng.Policy().Mode())
	}
}

func TestApplyLiveConfigDemotesTowardDesiredMode(t *testing.T) {
	eng := engine.NewEngine(engine.DefaultEngineConfig(), time.Unix(0, 0))
	eng.Policy().BypassStartupGrace()
	eng.Policy().Promote(time.Unix(1, 0))
	eng.Policy().Promote(time.Unix(2, 0))
	if eng.Policy().Mode() != model.ModeEnforce {
		t.Fatalf("setup: want Enforce, got %s", eng.Policy().Mode())
	}
	next := config.Default()
	next.InitialMode = model.ModeObserve
	applyLiveConfig(eng, next, time.Unix(10, 0))
	if eng.Policy().Mode() != model.ModeObserve {
		t.Fatalf("want Observe after applying desired mode, got %s", eng.Policy().Mode())
	}
}

func TestApplyLiveConfigFallbackDesiredMode(t *testing.T) {
	eng := engine.NewEngine(engine.DefaultEngineConfig(), time.Unix(0, 0))
	next := config.Default()
	next.InitialMode = model.ModeFallbackSafe
	applyLiveConfig(eng, next, time.Unix(10, 0))
	if eng.Policy().Mode() != model.ModeFallbackSafe {
		t.Fatalf("want FallbackSafe, got %s", eng.Policy().Mode())
	}
}
