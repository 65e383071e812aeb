// cmd/tools/batch-runner/main.go
//
// Fires a batch of intents through an in-process pipeline: in-memory ledger,
// static prices, a dry-run executor. Useful for exercising the parser,
// policy and routing layers without any infrastructure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"intentflow/internal/audit"
	"intentflow/internal/chain"
	"intentflow/internal/common/config"
	"intentflow/internal/common/logger"
	"intentflow/internal/coordinator"
	"intentflow/internal/ledger"
	"intentflow/internal/policy"
	"intentflow/internal/pricing"
	"intentflow/internal/resilience"
	"intentflow/internal/router"
)

var sampleTexts = []string{
	"swap 100 USDC to ETH",
	"long ETH 5x with 200 USDC on hyperliquid",
	"bridge 50 USDC from ethereum to arbitrum",
	"deposit 1000 USDC into aave",
	"buy 10 dollars of bitcoin every friday for 8 weeks",
	"what vaults pay the best yield on USDC",
	"do something random",
}

// dryRunExecutor confirms every submission instantly with a synthetic hash.
type dryRunExecutor struct{}

func (dryRunExecutor) Submit(_ context.Context, op chain.Operation) (string, error) {
	return "0xdry" + uuid.NewString()[:8] + op.IntentID[:8], nil
}

func (dryRunExecutor) WaitForReceipt(_ context.Context, txHash string, _ time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash, Status: 1, BlockNumber: 1}, nil
}

func (dryRunExecutor) PendingNonce(context.Context, string) (uint64, error) { return 0, nil }

func main() {
	count := flag.Int("n", len(sampleTexts), "number of intents to fire")
	parallel := flag.Bool("parallel", false, "fire all intents concurrently instead of sequentially")
	delay := flag.Duration("delay", 250*time.Millisecond, "inter-intent delay in sequential mode")
	session := flag.String("session", "batch", "session id prefix")
	sameSession := flag.Bool("same-session", false, "run every intent in one session instead of one session each")
	text := flag.String("text", "", "fire this text for every intent instead of the sample set")
	planOnly := flag.Bool("plan-only", false, "stop after routing and print the plan")
	verbose := flag.Bool("v", false, "print the full result JSON per intent")
	flag.Parse()

	co := buildPipeline()
	ctx := context.Background()

	results := make([]*coordinator.Result, *count)
	run := func(i int) {
		req := coordinator.Request{
			SessionID: fmt.Sprintf("%s-%d", *session, i),
			Text:      sampleTexts[i%len(sampleTexts)],
			PlanOnly:  *planOnly,
			Metadata: map[string]interface{}{
				"source": "batch-runner",
				"runId":  i,
			},
		}
		if *sameSession {
			req.SessionID = *session
		}
		if *text != "" {
			req.Text = *text
		}
		results[i] = co.Process(ctx, req)
	}

	start := time.Now()
	if *parallel {
		var wg sync.WaitGroup
		for i := 0; i < *count; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < *count; i++ {
			run(i)
			if i < *count-1 {
				time.Sleep(*delay)
			}
		}
	}
	elapsed := time.Since(start)

	byStatus := map[string]int{}
	okCount := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for i, res := range results {
		byStatus[res.Status]++
		if res.OK {
			okCount++
		}
		if *verbose {
			enc.Encode(res)
		} else {
			line := fmt.Sprintf("[%2d] ok=%-5v status=%-21s intent=%s", i, res.OK, res.Status, res.IntentID)
			if res.Error != nil {
				line += fmt.Sprintf(" error=%s/%s", res.Error.Stage, res.Error.Code)
			}
			fmt.Println(line)
		}
	}

	fmt.Printf("\n%d intents in %s (%d ok)\n", *count, elapsed.Round(time.Millisecond), okCount)
	for status, n := range byStatus {
		fmt.Printf("  %-21s %d\n", status, n)
	}
}

// buildPipeline wires a coordinator with no external infrastructure.
func buildPipeline() *coordinator.Coordinator {
	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"ethereum": {Network: "mainnet", Enabled: true},
			"arbitrum": {Network: "mainnet", Enabled: true},
			"solana":   {Network: "mainnet", Enabled: true},
		},
		Routing: config.RoutingConfig{
			DefaultChain: "ethereum",
			Adapters:     map[string]bool{},
		},
		Policy: config.PolicyConfig{
			ExecutionConfirmUSD: 10_000,
			BridgeConfirmUSD:    25_000,
			PerpConfirmUSD:      5_000,
			MaxTransitionDepth:  50,
		},
		Resilience: config.ResilienceConfig{MaxAttempts: 3, BaseDelayMs: 50, MaxDelayMs: 500},
		Execution:  config.ExecutionConfig{ConfirmTimeoutMs: 5_000, ReceiptPollMs: 100},
		Audit:      config.AuditConfig{ViolationRingSize: 64, SigningRingSize: 64},
	}
	log := logger.NewStructured("warn", "console")

	registry := audit.NewRegistry(cfg.Audit, cfg.Alerting, audit.Options{}, log)
	exec := dryRunExecutor{}

	return coordinator.New(cfg, coordinator.Deps{
		Store:     ledger.NewMemoryStore(),
		Engine:    policy.NewEngine(cfg.Policy, registry, log),
		Router:    router.New(cfg.Chains, cfg.Routing),
		Estimator: pricing.NewEstimator(pricing.NewStaticSource(nil), log),
		Audit:     registry,
		Executors: map[string]chain.Executor{
			"ethereum": exec,
			"arbitrum": exec,
			"solana":   exec,
		},
		Limiters: resilience.NewLimiterRegistry(cfg.Resilience),
		Log:      log,
	})
}
