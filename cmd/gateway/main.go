// Command gateway is a demo composition root: it wires an Engine from
// environment/YAML configuration and serves both the reverse-proxy
// demo handler and the Prometheus metrics endpoint. Structure mirrors
// the reference platform's cmd/pulse entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodeforge/botwall/internal/config"
	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/detectors/behavioral"
	"github.com/nodeforge/botwall/internal/detect/detectors/fingerprint"
	"github.com/nodeforge/botwall/internal/detect/detectors/network"
	"github.com/nodeforge/botwall/internal/detect/detectors/tls"
	"github.com/nodeforge/botwall/internal/detect/detectors/useragent"
	"github.com/nodeforge/botwall/internal/detect/metrics"
	"github.com/nodeforge/botwall/internal/detect/policy"
	"github.com/nodeforge/botwall/pkg/botwall"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "gateway",
	Short:   "botwall - behavioral bot-detection reverse-proxy gateway core",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("botwall %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(".env", os.Getenv("BOTWALL_POLICY_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Msg("starting botwall gateway")

	engine, err := botwall.New([]byte(cfg.SignatureHashKey), cfg.LearningQueueSize,
		useragent.New(),
		network.New(nil, nil),
		tls.New(),
		fingerprint.New(),
		behavioral.New(behavior.New(), cohortFromBlackboard),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build detection engine")
	}

	dp, ap := cfg.Default.ToRuntime("default")
	if len(dp.DetectorNames) == 0 {
		dp.DetectorNames = nil
	}
	if len(ap.BandActions) == 0 {
		ap.BandActions = make(map[string]policy.ActionKind, 6)
		for band, kind := range defaultBandActions() {
			ap.BandActions[band] = policy.ActionKind(kind)
		}
	}
	if err := engine.Policies.RegisterActionPolicy(ap); err != nil {
		log.Fatal().Err(err).Msg("invalid default action policy")
	}
	engine.Policies.SetDefaultActionPolicyName(ap.Name)
	if err := engine.Policies.SetDefault(dp); err != nil {
		log.Fatal().Err(err).Msg("invalid default policy")
	}
	for _, entry := range cfg.Policies {
		pd, pa := entry.ToRuntime(entry.Glob)
		if err := engine.Policies.RegisterActionPolicy(pa); err != nil {
			log.Fatal().Err(err).Msg("invalid path action policy")
		}
		if err := engine.Policies.Register(entry.Glob, pd); err != nil {
			log.Fatal().Err(err).Msg("invalid path policy")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/signals", engine.Bus)
	mux.Handle("/", engine.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}), behavior.CohortKey{Cluster: "default"}))

	srv := &http.Server{
		Addr:         cfg.ServeAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Info().Str("addr", cfg.ServeAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics shutdown error")
	}

	engine.Learning.Shutdown(shutdownCtx)
	cancel()

	log.Info().Msg("gateway stopped")
}

func cohortFromBlackboard(bb *blackboard.Blackboard) behavior.CohortKey {
	isDatacenter := false
	if v, ok := bb.Signals.Get("net.is-datacenter"); ok && v.Kind == blackboard.SignalBool {
		isDatacenter = v.Bool
	}
	isReturning := len(bb.Features.Cookies) > 0
	return behavior.CohortKey{IsDatacenter: isDatacenter, IsReturning: isReturning, Cluster: "default"}
}

func defaultBandActions() map[string]string {
	return map[string]string{
		"VeryLow":  "Allow",
		"Low":      "Allow",
		"Medium":   "Log",
		"High":     "Throttle",
		"VeryHigh": "Challenge",
		"Verified": "Allow",
	}
}
