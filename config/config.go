package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/joyshmitz/sbh/engine"
	"github.com/joyshmitz/sbh/model"
)

// Preferences holds the daemon's on-disk configuration: scan roots,
// policy startup posture, alerting, and the observability surfaces.
type Preferences struct {
	Roots            []string         `json:"roots"`
	ExcludePaths     []string         `json:"exclude_paths"`
	IntervalSec      int              `json:"interval_sec"`
	InitialMode      model.ActiveMode `json:"initial_mode"`
	KillSwitch       bool             `json:"kill_switch"`
	LowWaterFraction float64          `json:"low_water_fraction"`
	Prometheus       PrometheusConfig `json:"prometheus"`
	Alerts           AlertConfig      `json:"alerts"`

	RateEstimator engine.RateEstimatorConfig `json:"rate_estimator"`
	PID           engine.PIDConfig           `json:"pid"`
	Scoring       engine.ScoringConfig       `json:"scoring"`
	Policy        engine.PolicyConfig        `json:"policy"`
	Guard         engine.GuardConfig         `json:"guard"`
	Scheduler     engine.SchedulerConfig     `json:"scheduler"`
}

// EngineConfig projects the embedded component configs into an
// engine.EngineConfig, so `cmd`/`supervisor` never has to reassemble the
// five sub-configs by hand.
func (p Preferences) EngineConfig() engine.EngineConfig {
	policy := p.Policy
	policy.InitialMode = p.InitialMode
	policy.KillSwitch = p.KillSwitch
	return engine.EngineConfig{
		RateEstimator: p.RateEstimator,
		PID:           p.PID,
		Guard:         p.Guard,
		Scoring:       p.Scoring,
		Policy:        policy,
	}
}

type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type AlertConfig struct {
	Webhook          string `json:"webhook"`
	Command          string `json:"command"`
	Email            string `json:"email"`
	SlackWebhook     string `json:"slack_webhook"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
}

// Default returns a config with sensible defaults: conservative policy
// posture, observe-only until promoted, and no alert sinks configured.
func Default() Preferences {
	return Preferences{
		Roots:            []string{"/tmp", "/var/tmp", "/var/cache"},
		IntervalSec:      30,
		InitialMode:      model.ModeObserve,
		LowWaterFraction: 0.02,
		Prometheus: PrometheusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9107",
		},
		RateEstimator: engine.DefaultRateEstimatorConfig(),
		PID:           engine.DefaultPIDConfig(),
		Scoring:       engine.DefaultScoringConfig(),
		Policy:        engine.DefaultPolicyConfig(),
		Guard:         engine.DefaultGuardConfig(),
		Scheduler:     engine.DefaultSchedulerConfig(),
	}
}

// Path returns ~/.config/sbh/config.json (or XDG_CONFIG_HOME).
// Returns empty string if home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // refuse to fall back to /tmp (security risk)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sbh", "config.json")
}

// Load loads config from disk; returns defaults on a missing file or a
// parse error, so a corrupt preferences file never blocks startup.
func Load() Preferences {
	cfg := Default()
	p := Path()
	if p == "" {
		return cfg
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("sbh: warning: config parse error, falling back to defaults: %v", err)
		return Default()
	}
	return cfg
}

// Save writes the config to disk.
func Save(cfg Preferences) error {
	path := Path()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Watcher reloads Preferences from disk whenever the config file changes,
// so `daemon run` can pick up a new scan-root or policy tweak without a
// restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	onChange func(Preferences)
}

// NewWatcher starts watching the config file's directory (watching the
// directory, not the file, survives editors that replace-on-save).
func NewWatcher(onChange func(Preferences)) (*Watcher, error) {
	path := Path()
	if path == "" {
		return nil, fmt.Errorf("cannot determine config directory")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	watcher := &Watcher{watcher: w, onChange: onChange}
	go watcher.run(path)
	return watcher, nil
}

func (w *Watcher) run(path string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.onChange(Load())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("sbh: config watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }
