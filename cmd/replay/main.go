// cmd/replay replays recorded candles from SQLite through a paper-trading
// session to check the detector on past data without a live feed.
//
// Usage:
//
//	go run ./cmd/replay --db=data/candles.db --symbol=frxEURUSD --speed=0 --warmup=50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/config"
	"github.com/caseykingsley77/trade-bot/internal/execution"
	"github.com/caseykingsley77/trade-bot/internal/logger"
	"github.com/caseykingsley77/trade-bot/internal/marketdata/replay"
	"github.com/caseykingsley77/trade-bot/internal/model"
	"github.com/caseykingsley77/trade-bot/internal/session"
	sqlitestore "github.com/caseykingsley77/trade-bot/internal/store/sqlite"
	"github.com/caseykingsley77/trade-bot/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	symbol := flag.String("symbol", "", "Symbol to replay (default: deriv.symbol from config)")
	granularity := flag.Int("granularity", 0, "Candle size in seconds (default: deriv.granularity from config)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	warmup := flag.Int("warmup", 0, "Leading candles delivered as one history batch (default: strategy.lookback)")
	release := flag.Bool("release", false, "Free the position slot after every execution")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	if *symbol != "" {
		cfg.Deriv.Symbol = *symbol
	}
	if *granularity > 0 {
		cfg.Deriv.Granularity = *granularity
	}
	if *warmup <= 0 {
		*warmup = cfg.Strategy.Lookback
	}

	log, err := logger.Init("replay", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatal("sqlite open failed", zap.String("db", *dbPath), zap.Error(err))
	}
	defer reader.Close()

	paper := execution.NewPaperDispatcher(log)
	s, err := session.New(session.Config{
		Symbol:      cfg.Deriv.Symbol,
		Granularity: cfg.Deriv.Granularity,
		Lookback:    cfg.Strategy.Lookback,
		Detector: strategy.Config{
			Tolerance:         cfg.Strategy.Tolerance,
			MinCandlesBetween: cfg.Strategy.MinCandlesBetween,
			Order:             cfg.Strategy.ExtremaOrder,
			MinCandles:        cfg.Strategy.MinCandles,
		},
		Executor: execution.Config{
			Stake:             cfg.Trading.Stake,
			Currency:          cfg.Trading.Currency,
			Duration:          cfg.Trading.Duration,
			DurationUnit:      cfg.Trading.DurationUnit,
			RiskPercent:       cfg.Trading.RiskPercent,
			ProfitTargetRatio: cfg.Trading.ProfitTargetRatio,
		},
	}, session.Deps{Dispatcher: paper, Log: log})
	if err != nil {
		log.Fatal("session init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	events := make(chan model.Event, 1024)
	replayer := replay.New(reader, log)
	go func() {
		defer close(events)
		if _, err := replayer.Run(ctx, replay.Options{
			Symbol:      cfg.Deriv.Symbol,
			Granularity: cfg.Deriv.Granularity,
			FromTS:      *fromTS,
			Speed:       *speed,
			Warmup:      *warmup,
		}, events); err != nil {
			log.Warn("replay stopped", zap.Error(err))
		}
	}()

	var candles, tops, bottoms, executed, skipped, rejected int
	for ev := range events {
		rep, err := s.HandleEvent(ctx, ev)
		if err != nil {
			rejected++
			log.Warn("event failed", zap.String("event", rep.Event), zap.Error(err))
			continue
		}
		switch e := ev.(type) {
		case model.CandleBatch:
			candles += len(e.Candles)
		case model.CandleUpdate:
			candles++
		}
		for _, sig := range rep.Signals {
			if sig.Kind == strategy.KindDoubleTop {
				tops++
			} else {
				bottoms++
			}
		}
		for _, out := range rep.Outcomes {
			if out.Executed() {
				executed++
				if *release {
					s.ClosePosition()
				}
			} else {
				skipped++
			}
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.Close(closeCtx); err != nil {
		log.Warn("pending alerts not delivered", zap.Error(err))
	}
	closeCancel()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        REPLAY COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", cfg.Deriv.Symbol)
	fmt.Printf("║  Candles replayed:  %-16d ║\n", candles)
	fmt.Printf("║  Rejected events:   %-16d ║\n", rejected)
	fmt.Printf("║  Double tops:       %-16d ║\n", tops)
	fmt.Printf("║  Double bottoms:    %-16d ║\n", bottoms)
	fmt.Printf("║  Intents executed:  %-16d ║\n", executed)
	fmt.Printf("║  Signals skipped:   %-16d ║\n", skipped)
	fmt.Println("╚══════════════════════════════════════╝")
	if len(paper.Intents()) != executed {
		log.Warn("dispatched intent count differs", zap.Int("paper", len(paper.Intents())), zap.Int("executed", executed))
	}
}
