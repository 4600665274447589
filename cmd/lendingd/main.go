package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"polkalend/config"
	"polkalend/native/lending"
	"polkalend/observability/logging"
	"polkalend/observability/metrics"
	"polkalend/rpc"
	"polkalend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("POLKALEND_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("lendingd", env, cfg.SlogLevel())

	markets, err := cfg.BuildMarkets()
	if err != nil {
		log.Fatalf("build markets: %v", err)
	}
	registry, err := lending.NewRegistry(markets)
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}

	var store lending.TxStore
	if path := strings.TrimSpace(cfg.Storage.Path); path != "" {
		boltStore, err := storage.OpenBoltTxLog(path)
		if err != nil {
			log.Fatalf("open transaction log: %v", err)
		}
		store = boltStore
	} else {
		store = storage.NewMemTxLog()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close transaction log", "error", err)
		}
	}()

	executor := &lending.LocalExecutor{Delay: cfg.Settlement.Delay()}
	lendingMetrics := metrics.Lending()

	orchestrator := lending.NewOrchestrator(registry, executor, store,
		lending.WithLogger(logger),
		lending.WithMetrics(lendingMetrics),
	)

	marketSource := lending.NewStaticMarketSource(markets)
	scannerOpts := []lending.ScannerOption{
		lending.WithScannerLogger(logger),
		lending.WithScannerMetrics(lendingMetrics),
		lending.WithFetchTimeout(cfg.Scanner.Timeout()),
	}
	balances, err := cfg.BuildWalletBalances()
	if err != nil {
		log.Fatalf("build wallet balances: %v", err)
	}
	if balances != nil {
		scannerOpts = append(scannerOpts, lending.WithWallet(lending.NewStaticWalletSource(balances)))
	}
	scanner := lending.NewScanner(
		orchestratorBorrowers{orchestrator},
		marketSource,
		executor,
		cfg.Scanner.Liquidator,
		scannerOpts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scanner.Run(ctx, cfg.Scanner.Interval())

	server := rpc.NewServer(orchestrator, scanner, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.ListenAddress) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "component", "lendingd")
	case err := <-errCh:
		logger.Error("http server stopped", "error", err)
	}
}

// orchestratorBorrowers adapts the orchestrator's in-process ledgers into the
// scanner's read-only borrower source so a standalone deployment can scan its
// own book without an external enumeration endpoint.
type orchestratorBorrowers struct {
	orchestrator *lending.Orchestrator
}

func (o orchestratorBorrowers) ListBorrowers(context.Context) ([]string, error) {
	return o.orchestrator.Borrowers(), nil
}

func (o orchestratorBorrowers) Ledger(_ context.Context, account string) ([]lending.Position, error) {
	return o.orchestrator.Positions(account), nil
}
