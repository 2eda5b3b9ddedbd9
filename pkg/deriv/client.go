// Package deriv is a websocket client for the Deriv API. It authorizes,
// subscribes to one symbol's candles and turns frames into model events.
// It can also submit buy requests for trade intents.
//
// Usage:
//
//	c := deriv.NewClient(deriv.Config{AppID: 1089, Token: tok, Symbol: "frxEURUSD"}, log)
//	events := make(chan model.Event, 64)
//	go c.Run(ctx, events)
package deriv

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

const (
	DefaultURL          = "wss://ws.derivws.com/websockets/v3"
	DefaultPingInterval = 30 * time.Second
	DefaultCount        = 50
	DefaultGranularity  = 300

	writeWait = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Buy while no connection is open.
	ErrNotConnected = errors.New("deriv: not connected")
	// ErrAuthRequired is returned by Buy before the connection is authorized.
	ErrAuthRequired = errors.New("deriv: not authorized")
)

// Config for the client. Zero values fall back to defaults.
type Config struct {
	URL         string
	AppID       int
	Token       string
	Symbol      string
	Count       int // candles requested for backfill
	Granularity int // candle size in seconds

	PingInterval time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client holds one connection at a time and reconnects with exponential
// backoff until its context ends.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger

	mu         sync.Mutex // guards conn, authorized and writes
	conn       *websocket.Conn
	authorized bool

	// OnConnState is called with true after dial and false after a drop.
	OnConnState func(connected bool)
	// OnReconnect is called before every redial.
	OnReconnect func()
}

// NewClient creates a client. Call Run to connect.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = DefaultGranularity
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.Named("deriv").With(zap.String("symbol", cfg.Symbol)),
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", errors.Wrap(err, "deriv: parse url")
	}
	if c.cfg.AppID > 0 {
		q := u.Query()
		q.Set("app_id", fmt.Sprint(c.cfg.AppID))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run connects and forwards decoded events to out until ctx is done. Each
// dropped connection is redialed after a backoff that doubles up to
// ReconnectMax and resets once a connection authorizes.
func (c *Client) Run(ctx context.Context, out chan<- model.Event) error {
	backoff := c.cfg.ReconnectMin
	for {
		authorized, err := c.runOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authorized {
			backoff = c.cfg.ReconnectMin
		}
		c.log.Warn("connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

// runOnce serves one connection. It reports whether the connection got as
// far as authorization.
func (c *Client) runOnce(ctx context.Context, out chan<- model.Event) (bool, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, errors.Wrap(err, "deriv: dial")
	}
	c.log.Info("connected", zap.String("url", c.cfg.URL))

	c.mu.Lock()
	c.conn = conn
	c.authorized = false
	c.mu.Unlock()
	if c.OnConnState != nil {
		c.OnConnState(true)
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.authorized = false
		c.mu.Unlock()
		_ = conn.Close()
		if c.OnConnState != nil {
			c.OnConnState(false)
		}
	}()

	// unblock ReadMessage on shutdown
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.mu.Unlock()
			_ = conn.Close()
		case <-done:
		}
	}()
	go c.heartbeatLoop(conn, done)

	if err := c.send(conn, authorizeRequest{Authorize: c.cfg.Token}); err != nil {
		return false, err
	}

	authorized := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return authorized, errors.Wrap(err, "deriv: read")
		}

		d, err := Decode(msg)
		if err != nil {
			c.log.Warn("dropping frame", zap.Error(err))
			continue
		}
		if d.Buy != nil {
			c.log.Info("contract bought",
				zap.Int64("contract_id", d.Buy.ContractID),
				zap.Float64("buy_price", d.Buy.BuyPrice),
				zap.Float64("payout", d.Buy.Payout))
		}
		if d.Event == nil {
			continue
		}

		select {
		case out <- d.Event:
		case <-ctx.Done():
			return authorized, ctx.Err()
		}

		if _, ok := d.Event.(model.Authorized); ok {
			authorized = true
			c.mu.Lock()
			c.authorized = true
			c.mu.Unlock()
			if err := c.send(conn, newTicksHistory(c.cfg.Symbol, c.cfg.Count, c.cfg.Granularity)); err != nil {
				return authorized, err
			}
		}
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(conn, pingRequest{Ping: 1}); err != nil {
				c.log.Warn("ping write error", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, req any) error {
	b, err := encode(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrap(err, "deriv: write")
	}
	return nil
}

// Dispatch submits a buy request for the intent. The receipt arrives
// asynchronously and is logged by the read loop.
func (c *Client) Dispatch(ctx context.Context, intent model.TradeIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn, authorized := c.conn, c.authorized
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if !authorized {
		return ErrAuthRequired
	}
	if err := c.send(conn, newBuy(intent)); err != nil {
		return errors.Wrapf(err, "deriv: buy %s", intent.ID)
	}
	c.log.Info("buy request sent",
		zap.String("intent_id", intent.ID),
		zap.String("contract_type", string(intent.TradeType)),
		zap.Float64("stake", intent.Stake))
	return nil
}
