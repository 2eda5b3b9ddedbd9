// Package session owns the trading state of one symbol subscription: the
// candle window, the pattern detector and the single-slot executor.
//
// A Session is driven by decoded feed events through HandleEvent (or Run).
// It is not safe for concurrent use; run one goroutine per symbol and give
// each its own Session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/execution"
	"github.com/caseykingsley77/trade-bot/internal/logger"
	"github.com/caseykingsley77/trade-bot/internal/metrics"
	"github.com/caseykingsley77/trade-bot/internal/model"
	"github.com/caseykingsley77/trade-bot/internal/notification"
	"github.com/caseykingsley77/trade-bot/internal/strategy"
	"github.com/caseykingsley77/trade-bot/internal/window"
)

// Config holds the per-symbol parameters.
type Config struct {
	Symbol      string
	Granularity int // candle size in seconds, used when recording candles
	Lookback    int
	Detector    strategy.Config
	Executor    execution.Config

	AlertQueueSize   int           // buffered alerts before new ones are dropped
	AlertSendTimeout time.Duration // per-alert deadline handed to the notifier
}

// Deps are the session's collaborators. Only Dispatcher is required. The
// Notifier is called from a background goroutine, never from HandleEvent.
type Deps struct {
	Dispatcher model.IntentDispatcher
	Notifier   notification.Notifier
	Recorder   model.CandleWriter
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	Log        *zap.Logger
}

// Report describes what one event did to the session.
type Report struct {
	Event     string
	Appended  bool // a new candle time was added to the window
	Analyzed  bool
	Signals   []strategy.Signal
	Outcomes  []execution.Outcome
	FeedError *model.FeedError
}

// Session is the per-symbol state machine.
type Session struct {
	cfg      Config
	window   *window.Window
	detector *strategy.Detector
	executor *execution.Executor

	dispatcher model.IntentDispatcher
	alerts     *notification.Queue
	recorder   model.CandleWriter
	metrics    *metrics.Metrics
	health     *metrics.HealthStatus
	log        *zap.Logger

	loginID string
}

// New creates a session with an empty window and no open position.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("session: symbol is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("session: dispatcher is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier(deps.Log)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	cfg.Executor.Symbol = cfg.Symbol

	log := deps.Log.Named("session").With(zap.String("symbol", cfg.Symbol))
	alerts := notification.NewQueue(deps.Notifier, cfg.AlertQueueSize, cfg.AlertSendTimeout, log)
	dropped := deps.Metrics.AlertsDropped.WithLabelValues(cfg.Symbol)
	alerts.OnDrop = func(notification.Alert) { dropped.Inc() }

	return &Session{
		cfg:        cfg,
		window:     window.New(cfg.Lookback),
		detector:   strategy.NewDetector(cfg.Detector),
		executor:   execution.NewExecutor(cfg.Executor),
		dispatcher: deps.Dispatcher,
		alerts:     alerts,
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		health:     deps.Health,
		log:        log,
	}, nil
}

// Close stops alert delivery after the queued alerts are sent or ctx ends.
// Alerts raised after Close are dropped.
func (s *Session) Close(ctx context.Context) error {
	return s.alerts.Close(ctx)
}

// Symbol returns the session's symbol.
func (s *Session) Symbol() string { return s.cfg.Symbol }

// Candles returns a copy of the current window.
func (s *Session) Candles() []model.Candle { return s.window.Snapshot() }

// Position returns the open position, if any.
func (s *Session) Position() (model.Position, bool) { return s.executor.Position() }

// ClosePosition frees the position slot so the next signal can execute.
// The session never calls it on its own.
func (s *Session) ClosePosition() bool {
	closed := s.executor.ClosePosition()
	if closed {
		s.metrics.PositionOpen.WithLabelValues(s.cfg.Symbol).Set(0)
		s.log.Info("position closed")
	}
	return closed
}

// Run handles events serially until ctx is done or events is closed.
// Event errors are logged and do not stop the loop.
func (s *Session) Run(ctx context.Context, events <-chan model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := s.HandleEvent(ctx, ev); err != nil {
				s.log.Warn("event failed", zap.String("event", model.EventName(ev)), zap.Error(err))
			}
		}
	}
}

// HandleEvent applies one feed event. A non-nil error never leaves the
// window in a partially updated state.
func (s *Session) HandleEvent(ctx context.Context, ev model.Event) (Report, error) {
	rep := Report{Event: model.EventName(ev)}

	switch e := ev.(type) {
	case model.Authorized:
		s.loginID = e.LoginID
		if s.health != nil {
			s.health.SetAuthorized(true)
		}
		s.log.Info("authorized", zap.String("login_id", e.LoginID), zap.String("currency", e.Currency))
		return rep, nil

	case model.CandleBatch:
		if err := s.window.Load(e.Candles); err != nil {
			s.metrics.CandlesRejected.WithLabelValues(s.cfg.Symbol).Inc()
			return rep, errors.Wrap(err, "load history")
		}
		s.metrics.CandlesTotal.WithLabelValues(s.cfg.Symbol, "batch").Add(float64(len(e.Candles)))
		s.afterWindowChange()
		s.log.Info("history loaded", zap.Int("received", len(e.Candles)), zap.Int("window", s.window.Len()))

		snap := s.window.Snapshot()
		if len(snap) > 1 {
			// the newest candle is still forming
			s.record(ctx, snap[:len(snap)-1]...)
		}
		if last, ok := s.window.Last(); ok {
			ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Symbol, last.TS()))
		}
		return rep, s.analyze(ctx, &rep)

	case model.CandleUpdate:
		prev, hadPrev := s.window.Last()
		appended, err := s.window.Upsert(e.Candle)
		if err != nil {
			s.metrics.CandlesRejected.WithLabelValues(s.cfg.Symbol).Inc()
			return rep, errors.Wrapf(err, "upsert candle %d", e.Candle.Time)
		}
		s.afterWindowChange()
		rep.Appended = appended
		if !appended {
			s.metrics.CandlesTotal.WithLabelValues(s.cfg.Symbol, "correction").Inc()
			return rep, nil
		}
		s.metrics.CandlesTotal.WithLabelValues(s.cfg.Symbol, "new").Inc()
		if hadPrev {
			s.record(ctx, prev)
		}
		ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Symbol, e.Candle.TS()))
		s.log.Debug("new candle", append(logger.Fields(ctx), zap.Stringer("candle", e.Candle))...)
		return rep, s.analyze(ctx, &rep)

	case model.FeedError:
		fe := e
		rep.FeedError = &fe
		s.metrics.FeedErrors.WithLabelValues(s.cfg.Symbol).Inc()
		s.log.Warn("feed error", zap.String("code", e.Code), zap.String("message", e.Message))
		return rep, nil

	default:
		return rep, errors.Errorf("session: unsupported event %T", ev)
	}
}

func (s *Session) afterWindowChange() {
	s.metrics.WindowSize.WithLabelValues(s.cfg.Symbol).Set(float64(s.window.Len()))
	if s.health != nil {
		if last, ok := s.window.Last(); ok {
			s.health.SetLastCandleTime(last.TS())
		}
	}
}

// analyze runs detection over the window and executes every signal in the
// order the detector reported them. Intents are dispatched before any alert
// is queued. A dispatch failure leaves the position open: the executor
// already committed it.
func (s *Session) analyze(ctx context.Context, rep *Report) error {
	start := time.Now()
	signals := s.detector.Analyze(s.window.Snapshot())
	s.metrics.AnalysisDur.Observe(time.Since(start).Seconds())
	rep.Analyzed = true
	rep.Signals = signals

	fields := logger.Fields(ctx)
	var firstErr error
	for _, sig := range signals {
		s.metrics.PatternsDetected.WithLabelValues(s.cfg.Symbol, string(sig.Kind)).Inc()
		s.log.Info("pattern confirmed", append(fields,
			zap.String("pattern", string(sig.Kind)),
			zap.Float64("neckline", sig.Neckline),
			zap.Float64("entry", sig.Entry),
			zap.Float64("stop_loss", sig.StopLoss),
			zap.Float64("take_profit", sig.TakeProfit),
		)...)

		out := s.executor.Execute(sig.Kind.TradeType(), sig)
		rep.Outcomes = append(rep.Outcomes, out)
		s.metrics.ExecutionsTotal.WithLabelValues(s.cfg.Symbol, string(out.Status)).Inc()

		if !out.Executed() {
			s.log.Info("signal skipped, position already open", append(fields, zap.String("pattern", string(sig.Kind)))...)
			s.notify(ctx, detectionAlert(s.cfg.Symbol, sig))
			continue
		}
		s.metrics.PositionOpen.WithLabelValues(s.cfg.Symbol).Set(1)

		intent := *out.Intent
		if err := s.dispatcher.Dispatch(ctx, intent); err != nil {
			s.metrics.DispatchErrors.WithLabelValues(s.cfg.Symbol).Inc()
			s.log.Error("dispatch failed", append(fields, zap.String("intent_id", intent.ID), zap.Error(err))...)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "dispatch intent %s", intent.ID)
			}
		} else {
			s.log.Info("trade intent dispatched", append(fields,
				zap.String("intent_id", intent.ID),
				zap.String("contract_type", string(intent.TradeType)),
			)...)
		}

		s.notify(ctx, detectionAlert(s.cfg.Symbol, sig))
		s.notify(ctx, s.executionAlert(intent))
	}
	return firstErr
}

func detectionAlert(symbol string, sig strategy.Signal) notification.Alert {
	return notification.Alert{
		Level:   notification.AlertInfo,
		Symbol:  symbol,
		Title:   fmt.Sprintf("%s detected", sig.Kind),
		Message: sig.Reason(),
	}
}

func (s *Session) executionAlert(intent model.TradeIntent) notification.Alert {
	msg := fmt.Sprintf("stake=%.2f %s duration=%d%s entry=%.5f sl=%.5f tp=%.5f",
		intent.Stake, intent.Currency, intent.Duration, intent.DurationUnit,
		intent.Entry, intent.StopLoss, intent.TakeProfit)
	if s.loginID != "" {
		msg += " account=" + s.loginID
	}
	return notification.Alert{
		Level:   notification.AlertWarning,
		Symbol:  s.cfg.Symbol,
		Title:   fmt.Sprintf("%s %s", intent.TradeType, s.cfg.Symbol),
		Message: msg,
	}
}

// notify queues the alert. It never waits on the notification backends.
func (s *Session) notify(ctx context.Context, a notification.Alert) {
	if err := s.alerts.Send(ctx, a); err != nil {
		s.log.Warn("alert not queued", zap.String("title", a.Title), zap.Error(err))
	}
}

// record persists finalized candles. Failures are logged only.
func (s *Session) record(ctx context.Context, candles ...model.Candle) {
	if s.recorder == nil || len(candles) == 0 {
		return
	}
	if err := s.recorder.WriteCandles(ctx, s.cfg.Symbol, s.cfg.Granularity, candles); err != nil {
		s.log.Warn("record candles failed", zap.Int("count", len(candles)), zap.Error(err))
	}
}
