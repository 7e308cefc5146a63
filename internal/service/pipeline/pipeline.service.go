package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrStorage   = errors.New("storage failure")
	ErrQueueFull = errors.New("pipeline queue full")
	ErrClosed    = errors.New("pipeline closed")
)

const (
	defaultBatchSize     = 100
	defaultBatchInterval = 5 * time.Second
	defaultBufferSize    = 1000
	defaultQueueSize     = 4096
)

type Cache interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	PushCapped(ctx context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error
	RangeList(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	CountKeys(ctx context.Context, prefix string) (int64, error)
}

type TickStore interface {
	InsertTicksBatch(ctx context.Context, ticks []entity.TickRecord) error
	GetLastTicks(ctx context.Context, symbol string, limit int) ([]entity.TickRecord, error)
	GetTicksByPeriod(ctx context.Context, symbol string, from, to int64) ([]entity.TickRecord, error)
	CountTicks(ctx context.Context) (int64, error)
}

type QuoteStore interface {
	UpsertQuotes(ctx context.Context, quotes []entity.QuoteSnapshot) error
	GetLatestQuote(ctx context.Context, symbol string) (*entity.QuoteSnapshot, error)
	CountSymbols(ctx context.Context) (int64, error)
}

type counters struct {
	messagesProcessed atomic.Int64
	ticksStored       atomic.Int64
	ticksDropped      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	batchesProcessed  atomic.Int64
	errors            atomic.Int64
}

// Pipeline caches decoded feed data, batches trades into durable storage and
// serves cache-first reads.
type Pipeline struct {
	cfg    config.PipelineConfig
	cache  Cache
	ticks  TickStore
	quotes QuoteStore
	sinks  []entity.MarketEventSink
	books  *bookStore
	queue  chan entity.FeedMessage
	now    func() time.Time

	mu           sync.Mutex
	tickBuffer   []entity.TickRecord
	quoteBuffer  map[string]entity.QuoteSnapshot
	latestQuotes map[string]entity.QuoteSnapshot

	flushMu sync.Mutex
	stats   counters

	flushCh   chan struct{}
	running   atomic.Bool
	closed    atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

func NewPipeline(cfg config.PipelineConfig, cache Cache, ticks TickStore, quotes QuoteStore) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = defaultBatchInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Pipeline{
		cfg:          cfg,
		cache:        cache,
		ticks:        ticks,
		quotes:       quotes,
		books:        newBookStore(),
		queue:        make(chan entity.FeedMessage, cfg.QueueSize),
		now:          time.Now,
		quoteBuffer:  make(map[string]entity.QuoteSnapshot),
		latestQuotes: make(map[string]entity.QuoteSnapshot),
		flushCh:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// AddSink registers a consumer of processed events. Call before Run.
func (p *Pipeline) AddSink(sink entity.MarketEventSink) {
	p.sinks = append(p.sinks, sink)
}

// Submit enqueues msg without blocking.
func (p *Pipeline) Submit(msg entity.FeedMessage) error {
	if p.closed.Load() {
		return ErrClosed
	}

	select {
	case p.queue <- msg:
		return nil
	default:
		p.stats.errors.Add(1)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done or Close is called. Storage writes
// happen on a separate flusher goroutine so a slow store never backs up the
// queue. Messages still queued when Run stops are processed before it returns.
func (p *Pipeline) Run(ctx context.Context) {
	p.running.Store(true)
	defer close(p.doneCh)

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		p.runFlusher(ctx)
	}()
	defer func() { <-flusherDone }()

	for {
		select {
		case msg := <-p.queue:
			p.process(ctx, msg)
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			p.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

// runFlusher writes full tick batches when signalled and everything buffered
// on the batch interval.
func (p *Pipeline) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.flushCh:
			if err := p.flushTicks(ctx); err != nil {
				logrus.WithField("error", err).Error("batch flush failed")
			}
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				logrus.WithField("error", err).Error("periodic flush failed")
			}
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// requestFlush wakes the flusher without blocking. A pending signal already
// covers the new ticks.
func (p *Pipeline) requestFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	for {
		select {
		case msg := <-p.queue:
			p.process(ctx, msg)
		default:
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, msg entity.FeedMessage) {
	if err := p.ProcessEvent(ctx, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"kind":   msg.Kind(),
			"symbol": msg.GetSymbol(),
		}).Warnf("process market data: %v", err)
	}
}

// ProcessEvent applies one decoded message to the cache, buffers and sinks.
func (p *Pipeline) ProcessEvent(ctx context.Context, msg entity.FeedMessage) error {
	p.stats.messagesProcessed.Add(1)

	var (
		event entity.MarketEvent
		err   error
	)
	switch m := msg.(type) {
	case *entity.Quote:
		event, err = p.processQuote(ctx, m)
	case *entity.Trade:
		event, err = p.processTrade(ctx, m)
	case *entity.BookOperation:
		event, err = p.processBook(ctx, m)
	default:
		logrus.WithField("kind", msg.Kind()).Debug("message kind not processed")
		return nil
	}

	if err != nil {
		p.stats.errors.Add(1)
	}
	if event.Type != "" {
		p.publish(ctx, event)
	}

	return err
}

func (p *Pipeline) processQuote(ctx context.Context, quote *entity.Quote) (entity.MarketEvent, error) {
	timestamp := p.now().UnixMilli()

	p.mu.Lock()
	snapshot := p.latestQuotes[quote.Symbol]
	snapshot.Merge(quote, timestamp)
	p.latestQuotes[quote.Symbol] = snapshot
	p.quoteBuffer[quote.Symbol] = snapshot
	p.mu.Unlock()

	event := entity.MarketEvent{
		Type:      constant.EventTypeQuote,
		Symbol:    quote.Symbol,
		Timestamp: timestamp,
		Data:      snapshot,
	}

	return event, p.setCache(ctx, constant.CacheKey(constant.QuoteCachePrefix, quote.Symbol), snapshot, constant.QuoteCacheTTL)
}

func (p *Pipeline) processTrade(ctx context.Context, trade *entity.Trade) (entity.MarketEvent, error) {
	now := p.now().UnixMilli()
	tick := toTickRecord(trade, now)
	view := tick.ToTradeView()

	event := entity.MarketEvent{
		Type:      constant.EventTypeTrades,
		Symbol:    trade.Symbol,
		Timestamp: now,
		Data:      view,
	}

	if p.bufferTick(tick) {
		p.requestFlush()
	}

	payload, err := json.Marshal(view)
	if err == nil {
		err = p.cache.PushCapped(ctx, constant.CacheKey(constant.TradesCachePrefix, trade.Symbol), payload, constant.TradesCacheMaxLen, constant.TradesCacheTTL)
	}
	if err != nil {
		return event, fmt.Errorf("cache trade: %w", err)
	}

	return event, nil
}

func (p *Pipeline) processBook(ctx context.Context, op *entity.BookOperation) (entity.MarketEvent, error) {
	timestamp := p.now().UnixMilli()
	snapshot := p.books.Apply(op, timestamp)

	event := entity.MarketEvent{
		Type:      constant.EventTypeBook,
		Symbol:    op.Symbol,
		Timestamp: timestamp,
		Data:      snapshot,
	}

	return event, p.setCache(ctx, bookCacheKey(op.Symbol, op.Aggregated), snapshot, constant.BookCacheTTL)
}

func (p *Pipeline) setCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.cache.SetWithTTL(ctx, key, payload, ttl); err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, event entity.MarketEvent) {
	for _, sink := range p.sinks {
		if err := sink.PublishMarketEvent(ctx, event); err != nil {
			logrus.WithFields(logrus.Fields{
				"type":   event.Type,
				"symbol": event.Symbol,
			}).Warnf("deliver market event: %v", err)
		}
	}
}

// bufferTick appends tick and reports whether the buffer reached the batch size.
func (p *Pipeline) bufferTick(tick entity.TickRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tickBuffer = append(p.tickBuffer, tick)
	p.trimTickBufferLocked()
	return len(p.tickBuffer) >= p.cfg.BatchSize
}

// trimTickBufferLocked drops the oldest ticks beyond the buffer bound.
func (p *Pipeline) trimTickBufferLocked() {
	overflow := len(p.tickBuffer) - p.cfg.BufferSize
	if overflow <= 0 {
		return
	}

	p.tickBuffer = append([]entity.TickRecord(nil), p.tickBuffer[overflow:]...)
	p.stats.ticksDropped.Add(int64(overflow))
	infrastructure.PipelineTicksDropped.Add(float64(overflow))
	logrus.WithField("dropped", overflow).Warn("tick buffer overflow, oldest ticks dropped")
}

// Flush persists every buffered tick and quote.
func (p *Pipeline) Flush(ctx context.Context) error {
	return errors.Join(p.flushTicks(ctx), p.flushQuotes(ctx))
}

func (p *Pipeline) flushTicks(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.tickBuffer
	p.tickBuffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := p.ticks.InsertTicksBatch(ctx, batch)
	infrastructure.PipelineFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.mu.Lock()
		p.tickBuffer = append(batch, p.tickBuffer...)
		p.trimTickBufferLocked()
		p.mu.Unlock()

		p.stats.errors.Add(1)
		return fmt.Errorf("%w: insert %d ticks: %w", ErrStorage, len(batch), err)
	}

	p.stats.ticksStored.Add(int64(len(batch)))
	p.stats.batchesProcessed.Add(1)
	infrastructure.PipelineTicksStored.Add(float64(len(batch)))
	logrus.WithField("ticks", len(batch)).Debug("tick batch stored")

	return nil
}

func (p *Pipeline) flushQuotes(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	pending := p.quoteBuffer
	p.quoteBuffer = make(map[string]entity.QuoteSnapshot)
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	quotes := make([]entity.QuoteSnapshot, 0, len(pending))
	for _, quote := range pending {
		quotes = append(quotes, quote)
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Symbol < quotes[j].Symbol
	})

	if err := p.quotes.UpsertQuotes(ctx, quotes); err != nil {
		p.mu.Lock()
		for symbol, quote := range pending {
			if _, newer := p.quoteBuffer[symbol]; !newer {
				p.quoteBuffer[symbol] = quote
			}
		}
		p.mu.Unlock()

		p.stats.errors.Add(1)
		return fmt.Errorf("%w: upsert %d quotes: %w", ErrStorage, len(quotes), err)
	}

	return nil
}

// Close stops the worker and flusher, processes anything left in the queue,
// then performs a final flush.
func (p *Pipeline) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.stopCh)

		if p.running.Load() {
			select {
			case <-p.doneCh:
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}

		p.drain(ctx)
		err = p.Flush(ctx)
	})

	return err
}

// GetCurrentQuote reads the cached snapshot, falling back to the durable
// latest-quote table. It returns (nil, nil) when the symbol is unknown.
func (p *Pipeline) GetCurrentQuote(ctx context.Context, symbol string) (*entity.QuoteSnapshot, error) {
	raw, err := p.cache.Get(ctx, constant.CacheKey(constant.QuoteCachePrefix, symbol))
	if err == nil {
		var quote entity.QuoteSnapshot
		if err = json.Unmarshal(raw, &quote); err == nil {
			p.cacheHit()
			return &quote, nil
		}
	}
	p.cacheMiss(err)

	return p.quotes.GetLatestQuote(ctx, symbol)
}

// GetRecentTrades returns up to limit trades, most recent first.
func (p *Pipeline) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]entity.TradeView, error) {
	if limit <= 0 {
		return []entity.TradeView{}, nil
	}

	items, err := p.cache.RangeList(ctx, constant.CacheKey(constant.TradesCachePrefix, symbol), 0, int64(limit-1))
	if err == nil && len(items) > 0 {
		trades := make([]entity.TradeView, 0, len(items))
		for _, item := range items {
			var trade entity.TradeView
			if err = json.Unmarshal(item, &trade); err != nil {
				break
			}
			trades = append(trades, trade)
		}
		if err == nil {
			p.cacheHit()
			return trades, nil
		}
	}
	p.cacheMiss(err)

	ticks, err := p.ticks.GetLastTicks(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	trades := make([]entity.TradeView, 0, len(ticks))
	for _, tick := range ticks {
		trades = append(trades, tick.ToTradeView())
	}

	return trades, nil
}

// GetBook returns the cached book snapshot, falling back to the in-memory ladder.
func (p *Pipeline) GetBook(ctx context.Context, symbol string, aggregated bool) (*entity.BookSnapshot, error) {
	raw, err := p.cache.Get(ctx, bookCacheKey(symbol, aggregated))
	if err == nil {
		var book entity.BookSnapshot
		if err = json.Unmarshal(raw, &book); err == nil {
			p.cacheHit()
			return &book, nil
		}
	}
	p.cacheMiss(err)

	book, ok := p.books.Snapshot(symbol, aggregated)
	if !ok {
		return nil, nil
	}
	book.Timestamp = p.now().UnixMilli()
	return &book, nil
}

func (p *Pipeline) GetHistoricalTicks(ctx context.Context, symbol string, from, to int64) ([]entity.TickRecord, error) {
	ticks, err := p.ticks.GetTicksByPeriod(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return ticks, nil
}

func (p *Pipeline) cacheHit() {
	p.stats.cacheHits.Add(1)
	infrastructure.PipelineCacheLookups.WithLabelValues("hit").Inc()
}

func (p *Pipeline) cacheMiss(err error) {
	p.stats.cacheMisses.Add(1)
	infrastructure.PipelineCacheLookups.WithLabelValues("miss").Inc()
	if err != nil && !errors.Is(err, repository.ErrCacheMiss) {
		logrus.WithField("error", err).Warn("cache read failed, using storage")
	}
}

func (p *Pipeline) Stats() entity.PipelineStats {
	p.mu.Lock()
	tickBuffer := len(p.tickBuffer)
	quoteBuffer := len(p.quoteBuffer)
	p.mu.Unlock()

	return entity.PipelineStats{
		MessagesProcessed: p.stats.messagesProcessed.Load(),
		TicksStored:       p.stats.ticksStored.Load(),
		TicksDropped:      p.stats.ticksDropped.Load(),
		CacheHits:         p.stats.cacheHits.Load(),
		CacheMisses:       p.stats.cacheMisses.Load(),
		BatchesProcessed:  p.stats.batchesProcessed.Load(),
		Errors:            p.stats.errors.Load(),
		TickBuffer:        tickBuffer,
		QuoteBuffer:       quoteBuffer,
		QueueDepth:        len(p.queue),
	}
}

// SystemStats combines pipeline counters with cache and storage sizes.
func (p *Pipeline) SystemStats(ctx context.Context) (entity.SystemStats, error) {
	stats := entity.SystemStats{Pipeline: p.Stats()}

	var errs []error
	var err error
	if stats.Storage.Ticks, err = p.ticks.CountTicks(ctx); err != nil {
		errs = append(errs, err)
	}
	if stats.Storage.Symbols, err = p.quotes.CountSymbols(ctx); err != nil {
		errs = append(errs, err)
	}
	if stats.Cache.Quotes, err = p.cache.CountKeys(ctx, constant.QuoteCachePrefix+":"); err != nil {
		errs = append(errs, err)
	}
	if stats.Cache.Trades, err = p.cache.CountKeys(ctx, constant.TradesCachePrefix+":"); err != nil {
		errs = append(errs, err)
	}
	if stats.Cache.Books, err = p.cache.CountKeys(ctx, constant.BookCachePrefix+":"); err != nil {
		errs = append(errs, err)
	}

	return stats, errors.Join(errs...)
}

func bookCacheKey(symbol string, aggregated bool) string {
	if aggregated {
		return constant.CacheKey(constant.BookCachePrefix, symbol+":agg")
	}
	return constant.CacheKey(constant.BookCachePrefix, symbol)
}
