// Package botwall is the public entry point for embedding the
// behavioral bot-detection gateway core into an HTTP server: build an
// Engine from its collaborators, then wrap a handler with Middleware.
package botwall

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nodeforge/botwall/internal/detect/action"
	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/learning"
	"github.com/nodeforge/botwall/internal/detect/metrics"
	"github.com/nodeforge/botwall/internal/detect/orchestrator"
	"github.com/nodeforge/botwall/internal/detect/policy"
	"github.com/nodeforge/botwall/internal/detect/registry"
	"github.com/nodeforge/botwall/internal/detect/reputation"
	"github.com/nodeforge/botwall/internal/detect/signalbus"
	"github.com/nodeforge/botwall/internal/detect/signature"
)

// DefaultBotThreshold is the botProbability cutoff the X-Bot-Detection
// header reports against (spec §6.4).
const DefaultBotThreshold = 0.7

// Engine is the composition root for the detection core: it owns the
// Signature Service, Detector Registry, Policy Registry, Weight &
// Reputation Store, Learning Coordinator, Behavioral History, Signal
// Bus, and Orchestrator, and exposes the one call a caller needs —
// Evaluate, or its HTTP middleware wrapper.
type Engine struct {
	Signatures   *signature.Service
	Registry     *registry.Registry
	Policies     *policy.Registry
	Reputation   *reputation.Store
	Learning     *learning.Coordinator
	History      *behavior.History
	Bus          *signalbus.Bus
	Orchestrator *orchestrator.Orchestrator

	// BotThreshold is the botProbability cutoff the X-Bot-Detection
	// header reports against. Defaults to DefaultBotThreshold.
	BotThreshold float64

	// IncludeDetectionReasons opts into the X-Bot-Detection-Reasons
	// header (spec §6.3 marks it opt-in, since contribution reasons can
	// be verbose and may hint at detector internals to a client probing
	// the gateway).
	IncludeDetectionReasons bool
}

// New builds an Engine from a signature hash key and the detectors to
// register. Callers still need to call Policies.SetDefault (and
// Register for per-path overrides) before the Engine is ready to
// serve traffic.
func New(signatureHashKey []byte, learningQueueSize int, detectors ...registry.Detector) (*Engine, error) {
	sig, err := signature.NewService(signatureHashKey)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for _, d := range detectors {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	pol := policy.New()
	rep := reputation.New()
	hist := behavior.New()
	bus := signalbus.New()
	lc := learning.New(rep, learningQueueSize)

	orch := orchestrator.New(sig, reg, pol, rep, lc, hist, bus)

	return &Engine{
		Signatures:   sig,
		Registry:     reg,
		Policies:     pol,
		Reputation:   rep,
		Learning:     lc,
		History:      hist,
		Bus:          bus,
		Orchestrator: orch,
		BotThreshold: DefaultBotThreshold,
	}, nil
}

// Evaluate runs the detection pipeline for one request.
func (e *Engine) Evaluate(r *http.Request, cohort behavior.CohortKey) (blackboard.AggregatedEvidence, error) {
	features := FeaturesFromRequest(r)
	inputs := inputsFromRequest(r)
	return e.Orchestrator.Evaluate(r.Context(), features, inputs, cohort)
}

// FeaturesFromRequest builds RequestFeatures from an *http.Request,
// lower-casing header keys and collecting cookie names only (never
// values), per the privacy posture of spec §3.
func FeaturesFromRequest(r *http.Request) blackboard.RequestFeatures {
	f := blackboard.NewRequestFeatures("", time.Now().UnixMilli())
	f.Method = r.Method
	f.Path = r.URL.Path
	f.HTTPVersion = r.Proto
	f.RemoteAddr = hostOnly(r.RemoteAddr)
	f.Subnet24 = subnet24(f.RemoteAddr)
	f.UserAgent = r.UserAgent()

	for k := range r.Header {
		f.Headers[lower(k)] = r.Header.Get(k)
	}
	for _, c := range r.Cookies() {
		f.Cookies = append(f.Cookies, c.Name)
	}

	if r.TLS != nil {
		f.TLSProtocol = tlsVersionName(r.TLS.Version)
		f.TLSCipher = tlsCipherName(r.TLS.CipherSuite)
		f.ALPN = r.TLS.NegotiatedProtocol
	}

	return f
}

func inputsFromRequest(r *http.Request) signature.Inputs {
	return signature.Inputs{
		IP:        hostOnly(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Subnet:    subnet24(hostOnly(r.RemoteAddr)),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// Middleware wraps next, running the detection pipeline before every
// request, resolving the action policy the Orchestrator selected via
// TriggeredActionPolicyName, and setting the normative X-Bot-* response
// headers (spec §6.3) before delegating to next (or short-circuiting
// on Block).
func (e *Engine) Middleware(next http.Handler, cohort behavior.CohortKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		evidence, err := e.Evaluate(r, cohort)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		actPolicy, err := e.Policies.ResolveActionPolicy(evidence.TriggeredActionPolicyName)
		if err != nil {
			actPolicy, err = e.Policies.ResolveActionPolicy(e.Policies.DefaultActionPolicyName())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		decision := action.Resolve(evidence, actPolicy)

		metrics.DetectionLatency.WithLabelValues(evidence.PolicyName).Observe(time.Since(start).Seconds())
		metrics.ActionsTotal.WithLabelValues(string(decision.Action), string(decision.RiskBand)).Inc()

		botThreshold := e.BotThreshold
		if botThreshold == 0 {
			botThreshold = DefaultBotThreshold
		}

		w.Header().Set("X-Bot-Detection", strconv.FormatBool(evidence.BotProbability >= botThreshold))
		w.Header().Set("X-Bot-Probability", formatProbability(evidence.BotProbability))
		w.Header().Set("X-Bot-Risk-Band", string(evidence.RiskBand))
		w.Header().Set("X-Bot-Detection-Time", strconv.FormatInt(evidence.TotalProcessingTimeMs, 10))
		if evidence.Signatures.Primary != "" {
			w.Header().Set("X-Signature-ID", evidence.Signatures.Primary)
		}
		if evidence.PrimaryBotType != "" {
			w.Header().Set("X-Bot-Type", evidence.PrimaryBotType)
		}
		if evidence.PrimaryBotName != "" {
			w.Header().Set("X-Bot-Name", evidence.PrimaryBotName)
		}
		if e.IncludeDetectionReasons {
			if reasons := detectionReasons(evidence); reasons != "" {
				w.Header().Set("X-Bot-Detection-Reasons", reasons)
			}
		}

		switch decision.Action {
		case action.Block:
			w.WriteHeader(http.StatusForbidden)
			return
		case action.Throttle:
			time.Sleep(time.Duration(decision.ThrottleDelayMs) * time.Millisecond)
		case action.Challenge:
			w.Header().Set("X-Bot-Challenge-Difficulty", strconv.Itoa(decision.ChallengeDifficulty))
		}

		next.ServeHTTP(w, r)
	})
}

func formatProbability(p float64) string {
	return strconv.FormatFloat(p, 'f', 4, 64)
}

// detectionReasons renders each contributing detector's reason as a
// short JSON array, fit for a response header (spec §6.3's opt-in
// X-Bot-Detection-Reasons). Returns "" if no contribution carried a
// reason.
func detectionReasons(ev blackboard.AggregatedEvidence) string {
	var reasons []string
	for _, c := range ev.Contributions {
		if c.Reason != "" {
			reasons = append(reasons, c.Reason)
		}
	}
	if len(reasons) == 0 {
		return ""
	}
	b, err := json.Marshal(reasons)
	if err != nil {
		return ""
	}
	return string(b)
}
