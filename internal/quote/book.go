// Package quote holds the latest synthetic bid/ask per instrument.
//
// A Book is not safe for concurrent use; it is owned by the core worker.
package quote

import (
	"sort"

	"tradesim/internal/schema"
)

// Publisher receives every quote written to the book.
type Publisher interface {
	PublishQuote(q schema.Quote)
}

// Book stores one quote per instrument. No history is kept.
type Book struct {
	quotes    map[string]schema.Quote
	publisher Publisher
}

// NewBook creates an empty book. publisher may be nil.
func NewBook(publisher Publisher) *Book {
	return &Book{
		quotes:    make(map[string]schema.Quote),
		publisher: publisher,
	}
}

// Update replaces the instrument's quote and publishes it.
func (b *Book) Update(q schema.Quote) {
	b.quotes[q.Instrument] = q
	if b.publisher != nil {
		b.publisher.PublishQuote(q)
	}
}

// Get returns the current quote. ok is false until the first tick arrives.
func (b *Book) Get(instrument string) (schema.Quote, bool) {
	q, ok := b.quotes[instrument]
	return q, ok
}

// All returns every quote sorted by instrument.
func (b *Book) All() []schema.Quote {
	out := make([]schema.Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument < out[j].Instrument
	})
	return out
}
