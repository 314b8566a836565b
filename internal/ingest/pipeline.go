package ingest

import (
	"context"

	"github.com/yanun0323/logs"

	"tradesim/internal/schema"
)

// FeedSymbols lists the upstream symbol of every registered instrument.
func FeedSymbols(registry *schema.Registry) []string {
	instruments := registry.Instruments()
	out := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, inst.FeedSymbol)
	}
	return out
}

// Pipe starts the feed, subscribes every registered instrument and hands each
// normalized tick to handler until ctx is done. Trades that fail to normalize
// are logged and skipped.
func Pipe(ctx context.Context, feed *BinanceFeed, normalizer *Normalizer, registry *schema.Registry, handler func(schema.Tick)) error {
	if err := feed.Start(ctx); err != nil {
		return err
	}
	defer feed.Close()

	unsubscribe := feed.ObserveTrades(ctx, func(tr Trade) {
		tick, err := normalizer.Normalize(tr)
		if err != nil {
			logs.Errorf("skip trade %d of %s, err: %+v", tr.TradeID, tr.Symbol, err)
			return
		}
		handler(tick)
	})
	defer unsubscribe()

	if err := feed.SubscribeTrades(ctx, FeedSymbols(registry)); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
