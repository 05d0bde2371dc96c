// Command replay runs one strategy over a recorded tick file against the
// paper broker and prints the completed cycles. Each line of the file is a
// feed message: a JSON array of ticks.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/broker"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/feed"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/logger"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/storage"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

type replayResult struct {
	Batches   int
	Skipped   int
	Cycles    []*domain.CycleResult
	Orders    []*domain.Order
	Violation int
}

func main() {
	ticksPath := flag.String("ticks", "", "JSONL file with one tick batch per line")
	strategy := flag.String("strategy", usecase.StrategyMTM, "strategy profile")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	if *ticksPath == "" {
		fmt.Println("Usage: replay -ticks <file.jsonl> [-strategy mtm|strategy_x|fifty_percent]")
		os.Exit(2)
	}

	log, err := logger.NewLogger(*level, "console")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	file, err := os.Open(*ticksPath)
	if err != nil {
		fmt.Printf("Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	res, err := replay(context.Background(), file, *strategy, log)
	if err != nil {
		fmt.Printf("Replay failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Replayed %d batches (%d undecodable lines), %d orders\n", res.Batches, res.Skipped, len(res.Orders))
	total := 0.0
	for _, c := range res.Cycles {
		fmt.Printf("  cycle %-3d %-20s pnl=%8.2f buybacks=%d\n", c.Cycle, c.Reason, c.RealizedPnL, c.BuyBacks)
		total += c.RealizedPnL
	}
	fmt.Printf("Total realized: %.2f over %d cycles\n", total, len(res.Cycles))
	if res.Violation > 0 {
		fmt.Printf("Invariant violations: %d\n", res.Violation)
	}
}

func replay(ctx context.Context, r io.Reader, strategy string, log *zap.Logger) (*replayResult, error) {
	params, err := usecase.Profile(strategy)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		return nil, err
	}
	defer store.Close()

	gw := usecase.NewOrderGateway(broker.NewPaperBroker(0.05), store, log, usecase.GatewayConfig{
		PollInterval: time.Millisecond,
		MaxPolls:     1,
	})
	defer gw.Close()

	const sessionID = "replay"
	state := domain.NewSessionState(sessionID, strategy, params, 0)
	engine := usecase.NewEngine(state, gw, store, nil, log)

	res := &replayResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		batch, err := feed.DecodeBatch(scanner.Bytes(), time.Now())
		if err != nil {
			res.Skipped++
			continue
		}
		if len(batch) == 0 {
			continue
		}
		res.Batches++
		if err := engine.ProcessBatch(ctx, batch); err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				res.Violation++
			}
			log.Warn("Batch failed", zap.Int("batch", res.Batches), zap.Error(err))
		}
		// Fills land before the next batch, as they would on a slow feed.
		gw.Wait()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ticks: %w", err)
	}

	if res.Cycles, err = store.ListCycleResults(ctx, sessionID); err != nil {
		return nil, err
	}
	if res.Orders, err = store.ListOrders(ctx, sessionID, 0); err != nil {
		return nil, err
	}
	return res, nil
}
