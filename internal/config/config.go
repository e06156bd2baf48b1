// Package config defines the recognised configuration schema for the
// gateway composition root and the loader that turns environment
// variables and an optional YAML policy file into validated,
// in-memory Config/DetectionPolicy/ActionPolicy values. The detection
// core itself never reads a file — only this package does, matching
// the reference platform's config.Load() + file-watch shape
// (cmd/pulse/main.go, cmd/pulse/metrics_server.go).
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/nodeforge/botwall/internal/detect/detecterr"
	"github.com/nodeforge/botwall/internal/detect/policy"
)

// Config is the top-level, fully validated runtime configuration.
type Config struct {
	SignatureHashKey string `yaml:"-"` // loaded from env only, never from the policy file

	MetricsAddr string `yaml:"metricsAddr"`
	ServeAddr   string `yaml:"serveAddr"`

	VerdictCacheTTLSeconds int `yaml:"verdictCacheTtlSeconds"`
	LearningQueueSize      int `yaml:"learningQueueSize"`
	LearningRate           float64 `yaml:"learningRate"`

	ReputationHalfLifeHours int `yaml:"reputationHalfLifeHours"`

	Policies []PolicyEntry `yaml:"policies"`
	Default  PolicyEntry   `yaml:"default"`
}

// PolicyEntry is the on-disk shape of one (glob, DetectionPolicy,
// ActionPolicy) triple; internal/config translates it into the
// policy package's runtime types rather than exposing yaml tags on
// those types directly.
type PolicyEntry struct {
	Glob string `yaml:"glob"`

	Detectors               []string        `yaml:"detectors"`
	WaveBudgetMs            int64           `yaml:"waveBudgetMs"`
	ImmediateBotAt          float64         `yaml:"immediateBotAt"`
	ImmediateHumanAt        float64         `yaml:"immediateHumanAt"`
	ImmediateBlockThreshold float64         `yaml:"immediateBlockThreshold"`
	ActionPolicyName        string          `yaml:"actionPolicyName"`
	Transitions             []TransitionEntry `yaml:"transitions"`

	BandActions             map[string]string `yaml:"bandActions"`
	ThrottleBaseDelayMs     int64             `yaml:"throttleBaseDelayMs"`
	ThrottleMaxDelayMs      int64             `yaml:"throttleMaxDelayMs"`
	ThrottleJitterRatio     float64           `yaml:"throttleJitterRatio"`
	ChallengeBaseDifficulty int               `yaml:"challengeBaseDifficulty"`
	ChallengeMaxDifficulty  int               `yaml:"challengeMaxDifficulty"`
	MaskFields              []string          `yaml:"maskFields"`
}

// TransitionEntry is the on-disk shape of one policy.Transition: an
// ordered rule the orchestrator checks to pick a named action policy
// before falling back to ActionPolicyName and then the registry
// default.
type TransitionEntry struct {
	WhenRiskExceeds   *float64 `yaml:"whenRiskExceeds"`
	WhenSignalPresent string   `yaml:"whenSignalPresent"`
	ActionPolicyName  string   `yaml:"actionPolicyName"`
}

// knownTopLevelKeys is checked against yaml.Node content during Load to
// fail loudly on typos instead of silently ignoring an option (spec
// ambient-config requirement).
var knownTopLevelKeys = map[string]struct{}{
	"metricsAddr": {}, "serveAddr": {}, "verdictCacheTtlSeconds": {},
	"learningQueueSize": {}, "learningRate": {}, "reputationHalfLifeHours": {},
	"policies": {}, "default": {},
}

// Load reads SignatureHashKey (and any other environment overrides)
// from the process environment, optionally via a local .env file, and
// then reads policyPath as YAML, rejecting any key (top-level or
// nested) that the schema does not recognise. It never reads policyPath if policyPath is empty —
// callers may build a Config entirely from defaults in that case.
func Load(envFile, policyPath string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, detecterr.New(detecterr.KindConfiguration, "config.Load",
				"failed to load env file", err)
		}
	}

	cfg := Config{
		MetricsAddr:             ":9090",
		ServeAddr:               ":8080",
		VerdictCacheTTLSeconds:  30,
		LearningQueueSize:       64,
		LearningRate:            0.05,
		ReputationHalfLifeHours: 24,
	}

	cfg.SignatureHashKey = os.Getenv("BOTWALL_SIGNATURE_HASH_KEY")
	if cfg.SignatureHashKey == "" {
		return Config{}, detecterr.New(detecterr.KindConfiguration, "config.Load",
			"BOTWALL_SIGNATURE_HASH_KEY must be set", nil)
	}

	if policyPath == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(policyPath)
	if err != nil {
		return Config{}, detecterr.New(detecterr.KindConfiguration, "config.Load",
			"failed to read policy file", err)
	}

	if err := validateKnownKeys(raw); err != nil {
		return Config{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, detecterr.New(detecterr.KindConfiguration, "config.Load",
			"failed to parse policy file", err)
	}

	return cfg, nil
}

func validateKnownKeys(raw []byte) error {
	var node map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return detecterr.New(detecterr.KindConfiguration, "config.validateKnownKeys",
			"failed to parse policy file for key validation", err)
	}
	for key := range node {
		if _, ok := knownTopLevelKeys[key]; !ok {
			return detecterr.New(detecterr.KindConfiguration, "config.validateKnownKeys",
				fmt.Sprintf("unrecognised policy file key %q", key), nil)
		}
	}
	return nil
}

// Watcher hot-reloads the policy file on change, the way the
// reference platform watches its config directory with fsnotify, and
// invokes onReload with the freshly parsed Config.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching policyPath for changes and calls onReload
// (with the freshly loaded Config) each time it changes. The returned
// Watcher must be closed by the caller at shutdown.
func Watch(envFile, policyPath string, onReload func(Config, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, detecterr.New(detecterr.KindConfiguration, "config.Watch",
			"failed to start file watcher", err)
	}
	if err := fw.Add(policyPath); err != nil {
		fw.Close()
		return nil, detecterr.New(detecterr.KindConfiguration, "config.Watch",
			"failed to watch policy file", err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(envFile, policyPath)
				log.Debug().Str("component", "config").Str("event", event.Op.String()).
					Msg("policy file changed, reloading")
				onReload(cfg, err)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn().Str("component", "config").Err(err).Msg("file watcher error")
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.done)
	return w.watcher.Close()
}

// ToRuntime translates a PolicyEntry into the runtime
// policy.DetectionPolicy/policy.ActionPolicy pair the orchestrator
// consumes. name is used as the detection policy's Name field; the
// action policy's Name defaults to name too unless ActionPolicyName is
// set, letting several detection policies share one named action
// policy.
func (e PolicyEntry) ToRuntime(name string) (policy.DetectionPolicy, policy.ActionPolicy) {
	var detectorNames map[string]struct{}
	if len(e.Detectors) > 0 {
		detectorNames = make(map[string]struct{}, len(e.Detectors))
		for _, d := range e.Detectors {
			detectorNames[d] = struct{}{}
		}
	}

	actionPolicyName := e.ActionPolicyName
	if actionPolicyName == "" {
		actionPolicyName = name
	}

	transitions := make([]policy.Transition, 0, len(e.Transitions))
	for _, t := range e.Transitions {
		transitions = append(transitions, policy.Transition{
			WhenRiskExceeds:   t.WhenRiskExceeds,
			WhenSignalPresent: t.WhenSignalPresent,
			ActionPolicyName:  t.ActionPolicyName,
		})
	}

	dp := policy.DetectionPolicy{
		Name:                    name,
		DetectorNames:           detectorNames,
		WaveBudgetMs:            e.WaveBudgetMs,
		ImmediateBotAt:          e.ImmediateBotAt,
		ImmediateHumanAt:        e.ImmediateHumanAt,
		ImmediateBlockThreshold: e.ImmediateBlockThreshold,
		ActionPolicyName:        actionPolicyName,
		Transitions:             transitions,
	}

	bandActions := make(map[string]policy.ActionKind, len(e.BandActions))
	for band, kind := range e.BandActions {
		bandActions[band] = policy.ActionKind(kind)
	}

	ap := policy.ActionPolicy{
		Name:                    actionPolicyName,
		BandActions:             bandActions,
		ThrottleBaseDelayMs:     e.ThrottleBaseDelayMs,
		ThrottleMaxDelayMs:      e.ThrottleMaxDelayMs,
		ThrottleJitterRatio:     e.ThrottleJitterRatio,
		ChallengeBaseDifficulty: e.ChallengeBaseDifficulty,
		ChallengeMaxDifficulty:  e.ChallengeMaxDifficulty,
		MaskFields:              e.MaskFields,
	}

	return dp, ap
}
