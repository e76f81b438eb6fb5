package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tidebot/internal/cli"
	"tidebot/internal/config"
	"tidebot/internal/svc"
)

const (
	reconcileInterval = 15 * time.Minute // Exchange reconciliation cadence
	reconcileLookback = 24 * time.Hour   // Order history window per pass
	shutdownTimeout   = 10 * time.Second // Grace period for shutdown
)

var (
	configFile  = flag.String("f", "etc/botd.yaml", "the config file")
	closeSymbol = flag.String("close", "", "close all filled positions on the symbol and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	c := config.MustLoad(*configFile)
	c.MustSetUp()
	cli.LogConfigSummary(c)

	svcCtx := svc.NewServiceContext(*c)
	defer svcCtx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *closeSymbol != "" {
		closed, err := svcCtx.Engine.CloseSymbol(ctx, *closeSymbol)
		if err != nil {
			log.Fatalf("[main] Close %s failed: %v", *closeSymbol, err)
		}
		log.Printf("[main] Closed %d position(s) on %s", closed, *closeSymbol)
		return
	}

	var wg sync.WaitGroup

	if svcCtx.Stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svcCtx.Stream.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runReconciler(ctx, svcCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = svcCtx.Engine.Run(ctx)
	}()

	log.Println("[main] Bot started. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Bot stopped")
}

// runReconciler aligns local trades with exchange history on a schedule.
func runReconciler(ctx context.Context, svcCtx *svc.ServiceContext) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	reconcileOnce(ctx, svcCtx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[reconcile] Stopping reconciler")
			return
		case <-ticker.C:
			reconcileOnce(ctx, svcCtx)
		}
	}
}

func reconcileOnce(parentCtx context.Context, svcCtx *svc.ServiceContext) {
	if parentCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parentCtx, time.Minute)
	defer cancel()

	report, err := svcCtx.Reconciler.Reconcile(ctx, reconcileLookback)
	if err != nil {
		log.Printf("[reconcile] [ERROR] %v", err)
		return
	}
	log.Printf("[reconcile] [OK] exchange=%d local=%d matched=%d imported=%d extra=%d status=%d price=%d closed=%d",
		report.ExchangeOrders, report.LocalTrades, report.Matched,
		report.MissingLocal, report.ExtraLocal, report.StatusMismatches,
		report.PriceMismatches, report.ClosedPositions)
	for _, rec := range report.Recommendations {
		log.Printf("[reconcile]   - %s", rec)
	}
}
