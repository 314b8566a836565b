package stream

import (
	"github.com/bytedance/sonic"

	"tradesim/internal/schema"
)

const (
	typeWelcome     = "welcome"
	typeSubscribe   = "subscribe"
	typeSubscribed  = "subscribed"
	typePriceUpdate = "price_update"
	typeCandles     = "candles"
	typeError       = "error"
)

type frame struct {
	Type       string `json:"type"`
	Msg        string `json:"msg,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	Data       any    `json:"data,omitempty"`
}

type clientMessage struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
}

// Prices go out as scaled integers next to their decimals; clients divide
// by 10^decimals.
type priceUpdate struct {
	Instrument string `json:"instrument"`
	BuyPrice   int64  `json:"buyPrice"`
	SellPrice  int64  `json:"sellPrice"`
	Decimals   int32  `json:"decimals"`
	Timestamp  int64  `json:"timestamp"`
}

type candleBatch struct {
	Instrument string       `json:"instrument"`
	Timeframe  string       `json:"timeframe"`
	Candles    []candleData `json:"candles"`
}

type candleData struct {
	Timestamp      int64 `json:"timestamp"`
	OpenValue      int64 `json:"openValue"`
	HighValue      int64 `json:"highValue"`
	LowValue       int64 `json:"lowValue"`
	CloseValue     int64 `json:"closeValue"`
	VolumeValue    int64 `json:"volumeValue"`
	Decimals       int32 `json:"decimals"`
	VolumeDecimals int32 `json:"volumeDecimals"`
}

func encode(f frame) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(f)
}

func quoteFrame(q schema.Quote, now int64) frame {
	return frame{
		Type: typePriceUpdate,
		Data: priceUpdate{
			Instrument: q.Instrument,
			BuyPrice:   int64(q.Ask),
			SellPrice:  int64(q.Bid),
			Decimals:   int32(q.Scale),
			Timestamp:  now,
		},
	}
}

func candleFrame(c schema.Candle) frame {
	return frame{
		Type: typeCandles,
		Data: candleBatch{
			Instrument: c.Instrument,
			Timeframe:  c.Timeframe,
			Candles: []candleData{{
				Timestamp:      c.BucketStart,
				OpenValue:      int64(c.Open),
				HighValue:      int64(c.High),
				LowValue:       int64(c.Low),
				CloseValue:     int64(c.Close),
				VolumeValue:    int64(c.Volume),
				Decimals:       int32(c.PriceScale),
				VolumeDecimals: int32(c.QuantityScale),
			}},
		},
	}
}
