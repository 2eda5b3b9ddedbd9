package deriv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

func TestDecode_Candles(t *testing.T) {
	raw := []byte(`{"msg_type":"candles","candles":[
		{"epoch":1700000000,"open":1.0841,"high":1.0850,"low":1.0838,"close":1.0845},
		{"epoch":1700000300,"open":"1.0845","high":"1.0852","low":"1.0840","close":"1.0849"}]}`)

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "candles", d.MsgType)

	batch, ok := d.Event.(model.CandleBatch)
	require.True(t, ok)
	require.Len(t, batch.Candles, 2)
	assert.Equal(t, model.Candle{Time: 1700000000, Open: 1.0841, High: 1.0850, Low: 1.0838, Close: 1.0845}, batch.Candles[0])
	assert.Equal(t, 1.0849, batch.Candles[1].Close)
}

func TestDecode_OHLCUsesOpenTime(t *testing.T) {
	raw := []byte(`{"msg_type":"ohlc","ohlc":{"epoch":1700000412,"open_time":1700000400,"granularity":300,
		"symbol":"frxEURUSD","open":"1.08410","high":"1.08500","low":"1.08380","close":"1.08450"}}`)

	d, err := Decode(raw)
	require.NoError(t, err)
	upd, ok := d.Event.(model.CandleUpdate)
	require.True(t, ok)
	assert.Equal(t, int64(1700000400), upd.Candle.Time)
	assert.Equal(t, 1.0845, upd.Candle.Close)

	// without open_time the tick epoch is floored to the granularity
	raw = []byte(`{"msg_type":"ohlc","ohlc":{"epoch":1700000412,"granularity":300,"open":1,"high":1,"low":1,"close":1}}`)
	d, err = Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000400), d.Event.(model.CandleUpdate).Candle.Time)
}

func TestDecode_ErrorWins(t *testing.T) {
	raw := []byte(`{"msg_type":"authorize","authorize":{"loginid":"x"},
		"error":{"code":"InvalidToken","message":"The token is invalid."}}`)
	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.FeedError{Code: "InvalidToken", Message: "The token is invalid."}, d.Event)
}

func TestDecode_AuthorizeBuyAndPong(t *testing.T) {
	d, err := Decode([]byte(`{"msg_type":"authorize","authorize":{"loginid":"VRTC1","currency":"USD"}}`))
	require.NoError(t, err)
	assert.Equal(t, model.Authorized{LoginID: "VRTC1", Currency: "USD"}, d.Event)

	d, err = Decode([]byte(`{"msg_type":"buy","buy":{"contract_id":42,"buy_price":10,"payout":19.5}}`))
	require.NoError(t, err)
	assert.Nil(t, d.Event)
	require.NotNil(t, d.Buy)
	assert.Equal(t, int64(42), d.Buy.ContractID)

	d, err = Decode([]byte(`{"msg_type":"ping","ping":"pong"}`))
	require.NoError(t, err)
	assert.Nil(t, d.Event)
}

func TestDecode_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `{"msg_type":`,
		"bad price":     `{"candles":[{"epoch":1,"open":"abc","high":1,"low":1,"close":1}]}`,
		"missing price": `{"ohlc":{"open_time":1,"open":1,"high":1,"low":1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

// fakeDeriv is a minimal Deriv endpoint: it answers authorize, then streams a
// history batch and one ohlc update after the subscription.
type fakeDeriv struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests []map[string]any
	conns    int
	dropOnce bool // close the first connection right after authorizing
}

func (f *fakeDeriv) received() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func (f *fakeDeriv) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "1089", r.URL.Query().Get("app_id"))
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conns++
	drop := f.dropOnce && f.conns == 1
	f.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := sonic.Unmarshal(msg, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		switch {
		case req["authorize"] != nil:
			if req["authorize"] != "good-token" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"authorize","error":{"code":"InvalidToken","message":"bad"}}`))
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"authorize","authorize":{"loginid":"VRTC1","currency":"USD"}}`))
			if drop {
				return
			}
		case req["ticks_history"] != nil:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"candles","candles":[
				{"epoch":1700000000,"open":1,"high":2,"low":0.5,"close":1.5}]}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"ohlc","ohlc":{"epoch":1700000310,
				"open_time":1700000300,"granularity":300,"open":"1.5","high":"1.6","low":"1.4","close":"1.55"}}`))
		case req["buy"] != nil:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"buy","buy":{"contract_id":7,"buy_price":10,"payout":19}}`))
		}
	}
}

func newTestClient(t *testing.T, f *fakeDeriv, token string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		AppID:        1089,
		Token:        token,
		Symbol:       "frxEURUSD",
		Count:        50,
		Granularity:  300,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, nil)
	return c, srv
}

func next(t *testing.T, events <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestClient_AuthorizeSubscribeAndBuy(t *testing.T) {
	f := &fakeDeriv{t: t}
	c, _ := newTestClient(t, f, "good-token")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.ErrorIs(t, c.Dispatch(ctx, model.TradeIntent{ID: "early"}), ErrNotConnected)

	events := make(chan model.Event, 8)
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, events) }()

	assert.Equal(t, model.Authorized{LoginID: "VRTC1", Currency: "USD"}, next(t, events))
	batch, ok := next(t, events).(model.CandleBatch)
	require.True(t, ok)
	assert.Len(t, batch.Candles, 1)
	upd, ok := next(t, events).(model.CandleUpdate)
	require.True(t, ok)
	assert.Equal(t, int64(1700000300), upd.Candle.Time)

	intent := model.TradeIntent{
		ID: "i-1", TradeType: model.TradePut, Stake: 10, Basis: "stake", Currency: "USD",
		Symbol: "frxEURUSD", Duration: 15, DurationUnit: "m",
	}
	require.NoError(t, c.Dispatch(ctx, intent))

	require.Eventually(t, func() bool { return len(f.received()) == 3 }, 5*time.Second, 10*time.Millisecond)
	reqs := f.received()
	assert.Equal(t, "good-token", reqs[0]["authorize"])

	sub := reqs[1]
	assert.Equal(t, "frxEURUSD", sub["ticks_history"])
	assert.Equal(t, "candles", sub["style"])
	assert.EqualValues(t, 300, sub["granularity"])
	assert.EqualValues(t, 50, sub["count"])
	assert.EqualValues(t, 1, sub["subscribe"])

	buy := reqs[2]
	assert.EqualValues(t, 1, buy["buy"])
	assert.EqualValues(t, 10, buy["price"])
	params := buy["parameters"].(map[string]any)
	assert.Equal(t, "PUT", params["contract_type"])
	assert.Equal(t, "stake", params["basis"])
	assert.Equal(t, "m", params["duration_unit"])

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_InvalidTokenIsReportedNotAuthorized(t *testing.T) {
	f := &fakeDeriv{t: t}
	c, _ := newTestClient(t, f, "wrong")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event, 4)
	go func() { _ = c.Run(ctx, events) }()

	fe, ok := next(t, events).(model.FeedError)
	require.True(t, ok)
	assert.Equal(t, "InvalidToken", fe.Code)
	assert.ErrorIs(t, c.Dispatch(ctx, model.TradeIntent{ID: "x"}), ErrAuthRequired)
}

func TestClient_Reconnects(t *testing.T) {
	f := &fakeDeriv{t: t, dropOnce: true}
	c, _ := newTestClient(t, f, "good-token")

	var mu sync.Mutex
	reconnects := 0
	c.OnReconnect = func() {
		mu.Lock()
		reconnects++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event, 8)
	go func() { _ = c.Run(ctx, events) }()

	assert.IsType(t, model.Authorized{}, next(t, events))
	// second connection: authorize again, then history
	assert.IsType(t, model.Authorized{}, next(t, events))
	assert.IsType(t, model.CandleBatch{}, next(t, events))

	mu.Lock()
	assert.GreaterOrEqual(t, reconnects, 1)
	mu.Unlock()
}

func TestClient_HeartbeatSendsPing(t *testing.T) {
	f := &fakeDeriv{t: t}
	c, _ := newTestClient(t, f, "good-token")
	c.cfg.PingInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event, 8)
	go func() { _ = c.Run(ctx, events) }()

	require.Eventually(t, func() bool {
		for _, req := range f.received() {
			if v, ok := req["ping"]; ok {
				return assert.EqualValues(t, 1, v)
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHeartbeat_WriteFailureClosesConnection(t *testing.T) {
	f := &fakeDeriv{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	core, logs := observer.New(zap.WarnLevel)
	c := NewClient(Config{PingInterval: 10 * time.Millisecond}, zap.New(core))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?app_id=1089", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	done := make(chan struct{})
	returned := make(chan struct{})
	go func() {
		c.heartbeatLoop(conn, done)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		close(done)
		t.Fatal("heartbeat loop kept running after a failed write")
	}
	assert.Equal(t, 1, logs.FilterMessage("ping write error").Len())
}
