package deriv

import (
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/caseykingsley77/trade-bot/internal/model"
)

// ErrMalformedFrame is returned for frames that are not valid JSON or carry
// unparsable prices.
var ErrMalformedFrame = errors.New("deriv: malformed frame")

// ── Requests ──

type authorizeRequest struct {
	Authorize string `json:"authorize"`
}

type ticksHistoryRequest struct {
	TicksHistory    string `json:"ticks_history"`
	AdjustStartTime int    `json:"adjust_start_time"`
	Count           int    `json:"count"`
	End             string `json:"end"`
	Start           int    `json:"start"`
	Style           string `json:"style"`
	Granularity     int    `json:"granularity"`
	Subscribe       int    `json:"subscribe"`
}

type buyParameters struct {
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
}

type buyRequest struct {
	Buy         int           `json:"buy"`
	Price       float64       `json:"price"`
	Parameters  buyParameters `json:"parameters"`
	Passthrough struct {
		IntentID string `json:"intent_id"`
	} `json:"passthrough"`
}

type pingRequest struct {
	Ping int `json:"ping"`
}

func newTicksHistory(symbol string, count, granularity int) ticksHistoryRequest {
	return ticksHistoryRequest{
		TicksHistory:    symbol,
		AdjustStartTime: 1,
		Count:           count,
		End:             "latest",
		Start:           1,
		Style:           "candles",
		Granularity:     granularity,
		Subscribe:       1,
	}
}

func newBuy(intent model.TradeIntent) buyRequest {
	req := buyRequest{
		Buy:   1,
		Price: intent.Stake,
		Parameters: buyParameters{
			Amount:       intent.Stake,
			Basis:        intent.Basis,
			ContractType: string(intent.TradeType),
			Currency:     intent.Currency,
			Duration:     intent.Duration,
			DurationUnit: intent.DurationUnit,
			Symbol:       intent.Symbol,
		},
	}
	req.Passthrough.IntentID = intent.ID
	return req
}

// ── Responses ──

// Price decodes a price sent either as a JSON number or a quoted decimal.
// Deriv uses numbers in candle history and strings in live ohlc frames.
type Price float64

func (p *Price) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return errors.Wrap(ErrMalformedFrame, err.Error())
		}
		b = []byte(s)
	}
	if string(b) == "null" || len(b) == 0 {
		return errors.Wrap(ErrMalformedFrame, "missing price")
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedFrame, "price %q", string(b))
	}
	*p = Price(v)
	return nil
}

type wireCandle struct {
	Epoch int64  `json:"epoch"`
	Open  *Price `json:"open"`
	High  *Price `json:"high"`
	Low   *Price `json:"low"`
	Close *Price `json:"close"`
}

func (c wireCandle) candle(t int64) (model.Candle, error) {
	if c.Open == nil || c.High == nil || c.Low == nil || c.Close == nil {
		return model.Candle{}, errors.Wrapf(ErrMalformedFrame, "candle %d: missing price", t)
	}
	return model.Candle{
		Time:  t,
		Open:  float64(*c.Open),
		High:  float64(*c.High),
		Low:   float64(*c.Low),
		Close: float64(*c.Close),
	}, nil
}

type wireOHLC struct {
	wireCandle
	OpenTime    int64  `json:"open_time"`
	Granularity int    `json:"granularity"`
	Symbol      string `json:"symbol"`
}

// candleTime is the candle's open time. Older servers omit open_time; the
// tick epoch is then floored to the granularity.
func (o wireOHLC) candleTime() int64 {
	if o.OpenTime > 0 {
		return o.OpenTime
	}
	if o.Granularity > 0 {
		return o.Epoch - o.Epoch%int64(o.Granularity)
	}
	return o.Epoch
}

// BuyReceipt is the broker's answer to a buy request.
type BuyReceipt struct {
	ContractID    int64   `json:"contract_id"`
	TransactionID int64   `json:"transaction_id"`
	BuyPrice      float64 `json:"buy_price"`
	Payout        float64 `json:"payout"`
	Longcode      string  `json:"longcode"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type frame struct {
	MsgType   string `json:"msg_type"`
	Authorize *struct {
		LoginID  string `json:"loginid"`
		Currency string `json:"currency"`
	} `json:"authorize"`
	Candles []wireCandle `json:"candles"`
	OHLC    *wireOHLC    `json:"ohlc"`
	Buy     *BuyReceipt  `json:"buy"`
	Error   *wireError   `json:"error"`
}

// Decoded is one frame mapped to the session vocabulary. Event is nil for
// frames the session does not care about (pong, buy receipts).
type Decoded struct {
	MsgType string
	Event   model.Event
	Buy     *BuyReceipt
}

// Decode maps a raw frame to an inbound event. An error payload wins over
// any data the frame carries.
func Decode(data []byte) (Decoded, error) {
	var f frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		if errors.Is(err, ErrMalformedFrame) {
			return Decoded{}, err
		}
		return Decoded{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	d := Decoded{MsgType: f.MsgType}
	switch {
	case f.Error != nil:
		d.Event = model.FeedError{Code: f.Error.Code, Message: f.Error.Message}
	case f.Authorize != nil:
		d.Event = model.Authorized{LoginID: f.Authorize.LoginID, Currency: f.Authorize.Currency}
	case f.Candles != nil:
		cs := make([]model.Candle, len(f.Candles))
		for i, wc := range f.Candles {
			c, err := wc.candle(wc.Epoch)
			if err != nil {
				return Decoded{}, err
			}
			cs[i] = c
		}
		d.Event = model.CandleBatch{Candles: cs}
	case f.OHLC != nil:
		c, err := f.OHLC.candle(f.OHLC.candleTime())
		if err != nil {
			return Decoded{}, err
		}
		d.Event = model.CandleUpdate{Candle: c}
	case f.Buy != nil:
		d.Buy = f.Buy
	}
	return d, nil
}

func encode(v any) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "deriv: encode request")
	}
	return b, nil
}
