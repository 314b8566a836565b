package ingest

import (
	"context"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

// DefaultBinanceURL is the public spot stream endpoint.
const DefaultBinanceURL = "wss://stream.binance.com:9443/ws"

const subscribeID = 1

// Trade is one message of the Binance '<symbol>@trade' stream.
type Trade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// BinanceFeed streams raw trades from Binance.
type BinanceFeed struct {
	wss *ws.WebSocket
}

// NewBinanceFeed creates a feed for url. An empty url uses DefaultBinanceURL.
func NewBinanceFeed(ctx context.Context, url string) *BinanceFeed {
	if url == "" {
		url = DefaultBinanceURL
	}
	return &BinanceFeed{
		wss: ws.New(ctx, url),
	}
}

// Start dials the websocket.
func (f *BinanceFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

// Close closes the websocket.
func (f *BinanceFeed) Close() {
	f.wss.Close()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// TradeStreams returns the stream names for the feed symbols.
func TradeStreams(feedSymbols []string) []string {
	streams := make([]string, 0, len(feedSymbols))
	for _, s := range feedSymbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	return streams
}

// SubscribeTrades subscribes the trade stream of every feed symbol and waits
// for the acknowledgement. The subscription is replayed on reconnect.
func (f *BinanceFeed) SubscribeTrades(ctx context.Context, feedSymbols []string) error {
	payload := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: TradeStreams(feedSymbols),
		ID:     subscribeID,
	}

	appendIntoRegister := true
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != subscribeID {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	logs.Infof("subscribed binance trade streams %v", payload.Params)
	return nil
}

// ObserveTrades calls handler for every trade message until ctx is done or
// the process shuts down.
func (f *BinanceFeed) ObserveTrades(ctx context.Context, handler func(t Trade)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				trade, ok := ws.ReadMessage[Trade](m)
				if !ok || trade.EventType != "trade" {
					continue
				}

				handler(trade)
			}
		}
	}()

	return cancel
}
