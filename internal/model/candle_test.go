package model

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCandle_Validate(t *testing.T) {
	ok := Candle{Time: 1700000000, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}

	cases := []struct {
		name    string
		mutate  func(c *Candle)
		wantErr bool
	}{
		{"valid", func(c *Candle) {}, false},
		{"zero time", func(c *Candle) { c.Time = 0 }, true},
		{"nan close", func(c *Candle) { c.Close = math.NaN() }, true},
		{"inf high", func(c *Candle) { c.High = math.Inf(1) }, true},
		{"negative low", func(c *Candle) { c.Low = -0.5 }, true},
		{"inverted range is tolerated", func(c *Candle) { c.High, c.Low = 1.0, 1.2 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := ok
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedCandle), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "authorized", EventName(Authorized{}))
	assert.Equal(t, "candle_batch", EventName(CandleBatch{}))
	assert.Equal(t, "candle_update", EventName(CandleUpdate{}))
	assert.Equal(t, "feed_error", EventName(FeedError{}))
	assert.Equal(t, "nil", EventName(nil))

	assert.Equal(t, "InvalidToken: bad token", FeedError{Code: "InvalidToken", Message: "bad token"}.Error())
}
