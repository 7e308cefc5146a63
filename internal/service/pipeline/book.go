package pipeline

import (
	"sync"

	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/shopspring/decimal"
)

// ladder keeps book levels ordered by position; index is the position.
type ladder []entity.BookLevel

func (l ladder) insert(pos int, level entity.BookLevel) ladder {
	if pos < 0 || pos >= len(l) {
		return append(l, level)
	}
	l = append(l, entity.BookLevel{})
	copy(l[pos+1:], l[pos:])
	l[pos] = level
	return l
}

func (l ladder) replace(pos int, level entity.BookLevel) ladder {
	if pos < 0 || pos >= len(l) {
		return append(l, level)
	}
	l[pos] = level
	return l
}

func (l ladder) remove(pos int) ladder {
	if pos < 0 || pos >= len(l) {
		return l
	}
	return append(l[:pos], l[pos+1:]...)
}

func (l ladder) snapshot() []entity.BookLevel {
	levels := make([]entity.BookLevel, len(l))
	for i, level := range l {
		level.Position = int64(i)
		levels[i] = level
	}
	return levels
}

type orderBook struct {
	bids ladder
	asks ladder
}

func (b *orderBook) side(side string) *ladder {
	switch side {
	case entity.BookSideBuy:
		return &b.bids
	case entity.BookSideSell:
		return &b.asks
	}
	return nil
}

type bookKey struct {
	symbol     string
	aggregated bool
}

// bookStore holds the positional bid/ask ladders of every symbol.
type bookStore struct {
	mu    sync.Mutex
	books map[bookKey]*orderBook
}

func newBookStore() *bookStore {
	return &bookStore{books: make(map[bookKey]*orderBook)}
}

// Apply mutates the symbol's book with op and returns the resulting snapshot.
// Operations with an unknown side or missing position leave the book as is.
func (s *bookStore) Apply(op *entity.BookOperation, timestamp int64) entity.BookSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bookKey{symbol: op.Symbol, aggregated: op.Aggregated}
	book, ok := s.books[key]
	if !ok {
		book = &orderBook{}
		s.books[key] = book
	}

	if levels := book.side(op.Side.String); levels != nil && op.Side.Valid {
		pos := -1
		if op.Position.Valid {
			pos = int(op.Position.Int64)
		}

		switch op.Operation {
		case entity.BookOperationAdd:
			*levels = levels.insert(pos, levelFrom(op))
		case entity.BookOperationUpdate:
			*levels = levels.replace(pos, levelFrom(op))
		case entity.BookOperationDelete:
			if op.Position.Valid {
				*levels = levels.remove(pos)
			}
		}
	}

	return entity.BookSnapshot{
		Symbol:     op.Symbol,
		Aggregated: op.Aggregated,
		Timestamp:  timestamp,
		Bids:       book.bids.snapshot(),
		Asks:       book.asks.snapshot(),
	}
}

func (s *bookStore) Snapshot(symbol string, aggregated bool) (entity.BookSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookKey{symbol: symbol, aggregated: aggregated}]
	if !ok {
		return entity.BookSnapshot{}, false
	}

	return entity.BookSnapshot{
		Symbol:     symbol,
		Aggregated: aggregated,
		Bids:       book.bids.snapshot(),
		Asks:       book.asks.snapshot(),
	}, true
}

func (s *bookStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

func levelFrom(op *entity.BookOperation) entity.BookLevel {
	level := entity.BookLevel{
		Price:  decimal.Zero,
		Volume: op.Volume.Int64,
		Broker: op.Broker.Int64,
	}
	if op.Price.Valid {
		level.Price = op.Price.Decimal
	}
	return level
}
