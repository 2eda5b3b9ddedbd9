package model

// Event is an inbound message from the market-data feed, already decoded from
// the transport's framing. The concrete types below are the only variants.
type Event interface {
	eventName() string
}

// Authorized is sent once the feed accepted our credentials.
type Authorized struct {
	LoginID  string
	Currency string
}

// CandleBatch carries historical candles used to (re)fill the window.
type CandleBatch struct {
	Candles []Candle
}

// CandleUpdate is a live update of the current (or a new) candle.
type CandleUpdate struct {
	Candle Candle
}

// FeedError is an error payload reported by the feed itself.
type FeedError struct {
	Code    string
	Message string
}

func (Authorized) eventName() string   { return "authorized" }
func (CandleBatch) eventName() string  { return "candle_batch" }
func (CandleUpdate) eventName() string { return "candle_update" }
func (FeedError) eventName() string    { return "feed_error" }

// EventName returns a short label for logs and metrics.
func EventName(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}

func (e FeedError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
