// cmd/patternbot runs the live double-top / double-bottom bot for one symbol
// on the Deriv websocket API.
//
// Usage:
//
//	PATTERNBOT_DERIV_TOKEN=... go run ./cmd/patternbot --config=configs/bot.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/config"
	"github.com/caseykingsley77/trade-bot/internal/execution"
	"github.com/caseykingsley77/trade-bot/internal/logger"
	"github.com/caseykingsley77/trade-bot/internal/metrics"
	"github.com/caseykingsley77/trade-bot/internal/model"
	"github.com/caseykingsley77/trade-bot/internal/notification"
	"github.com/caseykingsley77/trade-bot/internal/session"
	redisstore "github.com/caseykingsley77/trade-bot/internal/store/redis"
	sqlitestore "github.com/caseykingsley77/trade-bot/internal/store/sqlite"
	"github.com/caseykingsley77/trade-bot/internal/strategy"
	"github.com/caseykingsley77/trade-bot/pkg/deriv"
)

type configPath string

func main() {
	path := flag.String("config", os.Getenv("PATTERNBOT_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	app := fx.New(
		fx.Supply(configPath(*path)),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			loadConfig,
			newLogger,
			metrics.NewMetrics,
			metrics.NewHealthStatus,
			newInfra,
			newFeed,
			newNotifier,
			newDispatcher,
			newSession,
		),
		fx.Invoke(run),
	)
	app.Run()
}

func loadConfig(p configPath) (*config.Config, error) {
	cfg, err := config.Load(string(p))
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireLive(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.Init("patternbot", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		_ = log.Sync()
		return nil
	}})
	return log, nil
}

// infra holds the optional stores. A nil field means the store is disabled.
type infra struct {
	recorder  *sqlitestore.Writer
	publisher *redisstore.IntentPublisher
}

func newInfra(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*infra, error) {
	in := &infra{}
	if cfg.SQLitePath != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}, log)
		if err != nil {
			return nil, err
		}
		in.recorder = w

		last, err := w.LastTimestamp(context.Background(), cfg.Deriv.Symbol, cfg.Deriv.Granularity)
		if err != nil {
			log.Warn("recorder resume point unknown", zap.Error(err))
		} else if last > 0 {
			log.Info("recorder resuming",
				zap.String("symbol", cfg.Deriv.Symbol),
				zap.Time("last_candle", time.Unix(last, 0).UTC()))
		}
	}
	if cfg.Redis.Addr != "" {
		p, err := redisstore.New(context.Background(), redisstore.PublisherConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		}, log)
		if err != nil {
			if in.recorder != nil {
				_ = in.recorder.Close()
			}
			return nil, err
		}
		cb := p.Breaker()
		prev := cb.OnStateChange
		cb.OnStateChange = func(from, to redisstore.State) {
			if prev != nil {
				prev(from, to)
			}
			m.RedisBreakerState.Set(float64(to))
		}
		in.publisher = p
	}

	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		if in.publisher != nil {
			_ = in.publisher.Close()
		}
		if in.recorder != nil {
			return in.recorder.Close()
		}
		return nil
	}})
	return in, nil
}

func newFeed(cfg *config.Config, m *metrics.Metrics, health *metrics.HealthStatus, log *zap.Logger) *deriv.Client {
	c := deriv.NewClient(deriv.Config{
		URL:         cfg.Deriv.WSURL,
		AppID:       cfg.Deriv.AppID,
		Token:       cfg.Deriv.Token,
		Symbol:      cfg.Deriv.Symbol,
		Count:       cfg.Strategy.Lookback,
		Granularity: cfg.Deriv.Granularity,
	}, log)
	c.OnConnState = health.SetFeedConnected
	c.OnReconnect = m.WSReconnects.Inc
	return c
}

func newNotifier(cfg *config.Config, log *zap.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		if tg, err := notification.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log); err == nil {
			n = append(n, tg)
		} else {
			log.Warn("telegram disabled", zap.Error(err))
		}
	}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	return n
}

// newDispatcher sends intents to Deriv only when live trading is enabled;
// otherwise they are logged. The Redis stream, when configured, receives
// every intent either way.
func newDispatcher(cfg *config.Config, in *infra, feed *deriv.Client, log *zap.Logger) model.IntentDispatcher {
	var primary model.IntentDispatcher = execution.NewPaperDispatcher(log)
	if cfg.Trading.LiveTrading {
		log.Warn("live trading enabled: buy requests will be sent")
		primary = feed
	}
	if in.publisher == nil {
		return primary
	}
	return execution.Fanout{primary, in.publisher}
}

func newSession(cfg *config.Config, in *infra, d model.IntentDispatcher, n notification.Notifier,
	m *metrics.Metrics, health *metrics.HealthStatus, log *zap.Logger) (*session.Session, error) {
	deps := session.Deps{
		Dispatcher: d,
		Notifier:   n,
		Metrics:    m,
		Health:     health,
		Log:        log,
	}
	if in.recorder != nil {
		deps.Recorder = in.recorder
	}
	return session.New(session.Config{
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
	}, deps)
}

func run(lc fx.Lifecycle, cfg *config.Config, s *session.Session, feed *deriv.Client, in *infra,
	m *metrics.Metrics, health *metrics.HealthStatus, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan model.Event, 256)
	srv := metrics.NewServer(cfg.MetricsAddr, m, health, log)
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.MetricsAddr != "" {
				srv.Start()
			}
			var rdb *goredis.Client
			var db *sql.DB
			if in.publisher != nil {
				rdb = in.publisher.Client()
			}
			if in.recorder != nil {
				db = in.recorder.DB()
			}
			if rdb != nil || db != nil {
				health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
			}

			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := feed.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("feed stopped", zap.Error(err))
				}
			}()
			go func() {
				defer wg.Done()
				_ = s.Run(ctx, events)
			}()
			log.Info("patternbot started",
				zap.String("symbol", cfg.Deriv.Symbol),
				zap.Int("granularity", cfg.Deriv.Granularity),
				zap.Bool("live_trading", cfg.Trading.LiveTrading))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			wg.Wait()
			if err := s.Close(stopCtx); err != nil {
				log.Warn("pending alerts not delivered", zap.Error(err))
			}
			if pos, open := s.Position(); open {
				log.Info("exiting with open position",
					zap.String("trade_type", string(pos.TradeType)),
					zap.Float64("entry", pos.Entry))
			}
			if cfg.MetricsAddr != "" {
				return srv.Stop(stopCtx)
			}
			return nil
		},
	})
}
