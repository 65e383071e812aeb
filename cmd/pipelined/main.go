// cmd/pipelined/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"intentflow/internal/audit"
	"intentflow/internal/capability"
	"intentflow/internal/chain"
	"intentflow/internal/common/aws"
	"intentflow/internal/common/config"
	"intentflow/internal/common/database"
	"intentflow/internal/common/logger"
	"intentflow/internal/common/observability"
	"intentflow/internal/coordinator"
	"intentflow/internal/ledger"
	"intentflow/internal/policy"
	"intentflow/internal/pricing"
	"intentflow/internal/resilience"
	"intentflow/internal/router"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting intent pipeline...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("pipelined")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Ledger store: PostgreSQL when configured, in-memory otherwise ---
	var store ledger.Store
	if cfg.Database.Postgres.Host != "" {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgStore := ledger.NewPostgresStore(pg)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("ledger schema migration failed", zap.Error(err))
		}
		store = pgStore
		zapLog.Info("PostgreSQL ledger connected")
	} else {
		store = ledger.NewMemoryStore()
		zapLog.Warn("no postgres host configured, ledger is in-memory and volatile")
	}

	// --- Redis price cache (optional) ---
	var priceSource pricing.PriceSource = pricing.NewStaticSource(cfg.Pricing.StaticPrices)
	if cfg.Database.Redis.Address != "" {
		var redis *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		priceSource = pricing.NewRedisCache(redis, priceSource, cfg.Pricing, log)
		zapLog.Info("Redis price cache connected")
	}

	// --- Audit sinks: Elasticsearch mirror + SNS/SES alerts, all optional ---
	auditOpts := audit.Options{}
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		auditOpts.Indexer = esClient
		zapLog.Info("Elasticsearch audit mirror connected")
	}
	if cfg.Alerting.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerting.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		auditOpts.SNS = snsClient
	}
	if cfg.Alerting.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Alerting.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		auditOpts.Email = sesClient
	}
	registry := audit.NewRegistry(cfg.Audit, cfg.Alerting, auditOpts, log)

	// --- Chain executors: one per enabled chain with RPC + signer ---
	executors := make(map[string]chain.Executor)
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled || chainCfg.RPCURL == "" || !chainCfg.HasSigner() {
			zapLog.Info("chain not executable, routes downgrade to proof/offchain",
				zap.String("chain", name))
			continue
		}
		executor, err := chain.NewEVMExecutor(ctx, chainCfg, cfg.Execution, log)
		if err != nil {
			zapLog.Error("executor init failed, chain disabled",
				zap.String("chain", name), zap.Error(err))
			continue
		}
		executors[name] = executor
		zapLog.Info("chain executor ready",
			zap.String("chain", name), zap.String("signer", executor.From()))
	}

	validator, err := capability.NewSchemaValidator(log)
	if err != nil {
		zapLog.Fatal("capability schema failed to compile", zap.Error(err))
	}

	co := coordinator.New(cfg, coordinator.Deps{
		Store:     store,
		Engine:    policy.NewEngine(cfg.Policy, registry, log),
		Router:    router.New(cfg.Chains, cfg.Routing),
		Estimator: pricing.NewEstimator(priceSource, log),
		Validator: validator,
		Audit:     registry,
		Executors: executors,
		Limiters:  resilience.NewLimiterRegistry(cfg.Resilience),
		Obs:       obs,
		Log:       log,
	})
	zapLog.Info("intent coordinator wired",
		zap.Int("executors", len(executors)),
		zap.String("default_chain", cfg.Routing.DefaultChain))

	// --- HTTP API + Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/intents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req coordinator.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" || req.Text == "" {
			http.Error(w, "sessionId and text are required", http.StatusBadRequest)
			return
		}

		result := co.Process(r.Context(), req)

		w.Header().Set("Content-Type", "application/json")
		if !result.OK {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		json.NewEncoder(w).Encode(result)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: mux,
	}
	go func() {
		zapLog.Info("API server listening", zap.String("addr", cfg.App.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("API server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Intent pipeline stopped gracefully")
}
