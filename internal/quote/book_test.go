package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
)

type recordingPublisher struct {
	quotes []schema.Quote
}

func (p *recordingPublisher) PublishQuote(q schema.Quote) {
	p.quotes = append(p.quotes, q)
}

func TestBookAbsentBeforeFirstUpdate(t *testing.T) {
	book := NewBook(nil)
	_, ok := book.Get("BTC")
	assert.False(t, ok)
	assert.Empty(t, book.All())
}

func TestBookReplacesWholesaleAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	book := NewBook(pub)

	book.Update(schema.Quote{Instrument: "BTC", Bid: 99, Ask: 101, Scale: 8})
	book.Update(schema.Quote{Instrument: "BTC", Bid: 200, Ask: 202, Scale: 8})
	book.Update(schema.Quote{Instrument: "ETH", Bid: 10, Ask: 11, Scale: 8})

	q, ok := book.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, schema.Price(200), q.Bid)
	assert.Equal(t, schema.Price(202), q.Ask)
	assert.Equal(t, schema.Price(2), q.Spread())

	require.Len(t, pub.quotes, 3)
	assert.Equal(t, "ETH", pub.quotes[2].Instrument)

	all := book.All()
	require.Len(t, all, 2)
	assert.Equal(t, "BTC", all[0].Instrument)
	assert.Equal(t, "ETH", all[1].Instrument)
}
