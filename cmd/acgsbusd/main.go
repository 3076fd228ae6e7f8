package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/acgs-bus/pkg/auditlog"
	"github.com/Mindburn-Labs/acgs-bus/pkg/busconfig"
	"github.com/Mindburn-Labs/acgs-bus/pkg/impact"
	"github.com/Mindburn-Labs/acgs-bus/pkg/pipeline"
	"github.com/Mindburn-Labs/acgs-bus/pkg/policy"
	"github.com/Mindburn-Labs/acgs-bus/pkg/router"
	"github.com/Mindburn-Labs/acgs-bus/pkg/validate"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("acgsbusd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to bus.yaml configuration file")
	healthAddr := fs.String("health-addr", ":8091", "address for the health-check listener")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stdout, nil)).With("component", "acgsbusd")

	var cfg *busconfig.Config
	if *configPath != "" {
		loaded, err := busconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "acgsbusd: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		cfg = &busconfig.Config{ImpactThreshold: 0.8}
	}

	p := buildPipeline(cfg, logger)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"processed_count": p.ProcessedCount(),
			"metrics":         p.Metrics(),
		})
	})

	go func() {
		logger.Info("health server listening", "addr", *healthAddr)
		if err := http.ListenAndServe(*healthAddr, healthMux); err != nil {
			logger.Error("health server stopped", "error", err)
		}
	}()

	logger.Info("acgsbusd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	return 0
}

func buildPipeline(cfg *busconfig.Config, logger *slog.Logger) *pipeline.Pipeline {
	scorer := impact.NewScorer(cfg.Resolve())

	threshold := cfg.ImpactThreshold
	r := router.New(threshold)

	var policyClient *policy.Client
	if cfg.OPAEndpoint != "" {
		cache, err := policy.NewRistrettoCache()
		if err != nil {
			log.Fatalf("acgsbusd: init policy cache: %v", err)
		}
		policyClient = policy.NewClient(policy.Config{
			BaseURL:  cfg.OPAEndpoint,
			FailOpen: !cfg.FailClosed(),
		}, cache)
	}

	var dispatcher *auditlog.Dispatcher
	if cfg.AuditServiceURL != "" {
		dispatcher = auditlog.NewDispatcher(cfg.AuditServiceURL)
	}

	if policyClient == nil {
		log.Println("[acgsbusd] no opa_endpoint configured; policy stage disabled")
	}

	return pipeline.New(pipeline.Config{
		Validator:       validate.New(),
		Scorer:          scorer,
		Router:          r,
		PolicyClient:    policyClient,
		AuditDispatcher: dispatcher,
		Logger:          logger,
	})
}
