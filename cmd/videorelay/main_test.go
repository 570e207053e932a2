package main

import (
	"strings"
	"testing"
	"time"

	"videorelay/internal/dispatcher"
)

func TestReaperConfig(t *testing.T) {
	cfg := dispatcher.Config{
		Owner:        "instance-1",
		ReadyTimeout: time.Minute,
		ProbeTimeout: 30 * time.Second,
		StopTimeout:  30 * time.Second,
	}

	t.Run("max age outlasts dispatch", func(t *testing.T) {
		t.Setenv("MACHINE_MAX_AGE", "1h")

		reapCfg, err := reaperConfig(cfg, 15*time.Minute)
		if err != nil {
			t.Fatalf("reaperConfig: %v", err)
		}
		if reapCfg.Owner != "instance-1" || reapCfg.MaxAge != time.Hour {
			t.Errorf("reapCfg = %+v", reapCfg)
		}
	})

	t.Run("forward timeout above max age", func(t *testing.T) {
		t.Setenv("MACHINE_MAX_AGE", "10m")

		_, err := reaperConfig(cfg, 15*time.Minute)
		if err == nil || !strings.Contains(err.Error(), "MACHINE_MAX_AGE") {
			t.Errorf("err = %v, want MACHINE_MAX_AGE rejection", err)
		}
	})
}

func TestDispatchBound(t *testing.T) {
	t.Parallel()

	cfg := dispatcher.Config{
		ReadyTimeout: time.Minute,
		ProbeTimeout: 30 * time.Second,
		SettleDelay:  5 * time.Second,
		StopTimeout:  30 * time.Second,
	}
	if got, want := dispatchBound(cfg, 15*time.Minute), 19*time.Minute+5*time.Second; got != want {
		t.Errorf("dispatchBound = %s, want %s", got, want)
	}
}
