// Command bankflowd runs the banking workflow service: the graph engine,
// its stores, and the HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/bankflow/approval"
	"github.com/dshills/bankflow/banking"
	"github.com/dshills/bankflow/banking/classify"
	"github.com/dshills/bankflow/config"
	"github.com/dshills/bankflow/graph"
	"github.com/dshills/bankflow/graph/emit"
	"github.com/dshills/bankflow/graph/store"
	"github.com/dshills/bankflow/server"
	"github.com/dshills/bankflow/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("bankflowd: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("bankflowd: %v", err)
	}
}

func run(cfg config.Config) error {
	checkpoints, err := newCheckpointStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	sessions, approvals, err := newRecordStores(cfg.Storage)
	if err != nil {
		return err
	}
	defer sessions.Close()
	defer approvals.Close()

	classifier, closeClassifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	defer closeClassifier()

	wf, err := banking.NewWorkflow(banking.Options{
		HILThreshold:        cfg.HIL.Threshold,
		AutoApprove:         cfg.HIL.AutoApprove,
		HILTimeoutSeconds:   cfg.HIL.TimeoutSeconds,
		ConfidenceThreshold: cfg.Confidence.Threshold,
	}, banking.Deps{
		Classifier:  classifier,
		Bank:        banking.NewBankClient(cfg.Downstream.BaseURL, cfg.DownstreamTimeout()),
		Checkpoints: checkpoints,
		Sessions:    sessions,
		Approvals:   approvals,
		Emitter:     emit.NewLogEmitter(os.Stdout, cfg.Log.Format == "json"),
		Metrics:     graph.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(wf, sessions, approvals, cfg.DedupWindow()).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Printf("bankflowd: listening on %s", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newCheckpointStore selects the checkpoint log backend.
func newCheckpointStore(cfg config.Storage) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemStore(), nil
	case config.BackendEmbedded:
		return store.NewSQLiteStore(cfg.PathOrURL)
	case config.BackendSharedRelational:
		return store.NewMySQLStore(cfg.PathOrURL)
	case config.BackendSharedCache:
		return store.NewRedisStore(cfg.PathOrURL)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// newRecordStores selects the session and approval backends. The shared
// backends cover only the checkpoint log; session and approval records
// are per-instance and stay embedded (memory for shared deployments with
// a sticky router, SQLite otherwise).
func newRecordStores(cfg config.Storage) (session.Store, approval.Store, error) {
	switch cfg.Backend {
	case config.BackendEmbedded:
		sessions, err := session.NewSQLiteStore(cfg.PathOrURL)
		if err != nil {
			return nil, nil, err
		}
		approvals, err := approval.NewSQLiteStore(cfg.PathOrURL)
		if err != nil {
			sessions.Close()
			return nil, nil, err
		}
		return sessions, approvals, nil
	default:
		return session.NewMemStore(), approval.NewMemStore(), nil
	}
}

// newClassifier builds the configured provider wrapped in the rule
// fallback chain. The returned func releases provider resources.
func newClassifier(cfg config.Classifier) (classify.Classifier, func(), error) {
	noop := func() {}

	switch cfg.Provider {
	case config.ProviderRules:
		return classify.FallbackChain{}, noop, nil
	case config.ProviderOpenAI:
		return classify.FallbackChain{
			Primary: classify.NewOpenAIClassifier(apiKey(cfg, "OPENAI_API_KEY"), cfg.Model),
		}, noop, nil
	case config.ProviderOpenAICompatible:
		if cfg.BaseURL == "" {
			return nil, nil, errors.New("classifier.base_url is required for openai-compatible")
		}
		return classify.FallbackChain{
			Primary: classify.NewOpenAICompatibleClassifier(cfg.BaseURL, apiKey(cfg, "OPENAI_API_KEY"), cfg.Model),
		}, noop, nil
	case config.ProviderAnthropic:
		return classify.FallbackChain{
			Primary: classify.NewAnthropicClassifier(apiKey(cfg, "ANTHROPIC_API_KEY"), cfg.Model),
		}, noop, nil
	case config.ProviderGemini:
		gc, err := classify.NewGeminiClassifier(context.Background(), apiKey(cfg, "GEMINI_API_KEY"), cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return classify.FallbackChain{Primary: gc}, func() { gc.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
}

// apiKey prefers the explicit config value over the provider's
// conventional environment variable.
func apiKey(cfg config.Classifier, env string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return os.Getenv(env)
}
