package feed

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/sirupsen/logrus"
)

// CommandSender is the part of the session the registry drives.
type CommandSender interface {
	Send(command string) error
	IsAuthenticated() bool
}

// SubscriptionRegistry tracks upstream subscriptions and the commands that created them.
type SubscriptionRegistry struct {
	mu       sync.Mutex
	sender   CommandSender
	records  map[string]*entity.Subscription
	counter  int64
	sequence map[string]int64
	now      func() time.Time
}

func NewSubscriptionRegistry(sender CommandSender) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		sender:   sender,
		records:  make(map[string]*entity.Subscription),
		sequence: make(map[string]int64),
		now:      time.Now,
	}
}

func (r *SubscriptionRegistry) SubscribeQuote(symbol string, snapshot bool) (string, error) {
	return r.Subscribe(symbol, entity.SubscriptionKindQuote, entity.SubscriptionParams{Snapshot: snapshot})
}

func (r *SubscriptionRegistry) SubscribeBook(symbol string) (string, error) {
	return r.Subscribe(symbol, entity.SubscriptionKindBook, entity.SubscriptionParams{})
}

func (r *SubscriptionRegistry) SubscribeTrades(symbol string, quantity int, tradeID, order string) (string, error) {
	return r.Subscribe(symbol, entity.SubscriptionKindTrades, entity.SubscriptionParams{
		Quantity: quantity,
		TradeID:  tradeID,
		Order:    order,
	})
}

func (r *SubscriptionRegistry) SubscribeAggregatedBook(symbol string) (string, error) {
	return r.Subscribe(symbol, entity.SubscriptionKindAggregatedBook, entity.SubscriptionParams{})
}

func (r *SubscriptionRegistry) SubscribeVAP(symbol string, period int) (string, error) {
	return r.Subscribe(symbol, entity.SubscriptionKindVAP, entity.SubscriptionParams{Period: period})
}

// Subscribe sends the subscribe command for (symbol, kind) unless an active
// subscription already exists, in which case its id is returned.
func (r *SubscriptionRegistry) Subscribe(symbol string, kind entity.SubscriptionKind, params entity.SubscriptionParams) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", ErrEmptySymbol
	}

	command, err := SubscribeCommand(symbol, kind, params)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sender.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}

	if existing := r.findLocked(symbol, kind); existing != nil {
		if existing.Active {
			logrus.WithField("id", existing.ID).Debug("subscription already active")
			return existing.ID, nil
		}
		r.deleteLocked(existing.ID)
	}

	if err := r.sender.Send(command); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}

	now := r.now()
	r.counter++
	id := fmt.Sprintf("%s_%s_%d_%d", symbol, kind, r.counter, now.UnixMilli())
	if kind == entity.SubscriptionKindTrades && params.Order == "" && params.TradeID != "" {
		params.Order = entity.TradeOrderDesc
	}

	r.records[id] = &entity.Subscription{
		ID:        id,
		Symbol:    symbol,
		Kind:      kind,
		Active:    true,
		CreatedAt: now,
		Params:    params,
		Command:   command,
	}
	r.sequence[id] = r.counter

	logrus.WithFields(logrus.Fields{
		"id":      id,
		"command": command,
	}).Info("feed subscription created")

	return id, nil
}

// Unsubscribe cancels one subscription. Unknown ids are ignored. Inactive
// records and kinds without an unsubscribe verb are only dropped locally.
func (r *SubscriptionRegistry) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unsubscribeLocked(id)
}

func (r *SubscriptionRegistry) UnsubscribeSymbol(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, sub := range r.orderedLocked() {
		if sub.Symbol != symbol {
			continue
		}
		if err := r.unsubscribeLocked(sub.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *SubscriptionRegistry) UnsubscribeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, sub := range r.orderedLocked() {
		if err := r.unsubscribeLocked(sub.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *SubscriptionRegistry) unsubscribeLocked(id string) error {
	sub, ok := r.records[id]
	if !ok {
		return nil
	}
	r.deleteLocked(id)

	command, hasVerb := UnsubscribeCommand(sub)
	if !sub.Active || !hasVerb {
		return nil
	}

	if err := r.sender.Send(command); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}

	logrus.WithFields(logrus.Fields{
		"id":      id,
		"command": command,
	}).Info("feed subscription cancelled")

	return nil
}

// MarkAllInactive flags every record as needing a re-send after reconnect.
func (r *SubscriptionRegistry) MarkAllInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.records {
		sub.Active = false
	}
}

// Rearm re-sends the stored command of every inactive record, oldest first.
func (r *SubscriptionRegistry) Rearm() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rearmed := 0
	for _, sub := range r.orderedLocked() {
		if sub.Active {
			continue
		}
		if err := r.sender.Send(sub.Command); err != nil {
			return rearmed, fmt.Errorf("rearm %s: %w", sub.ID, err)
		}
		sub.Active = true
		rearmed++
	}

	if rearmed > 0 {
		logrus.WithField("count", rearmed).Info("feed subscriptions rearmed")
	}

	return rearmed, nil
}

func (r *SubscriptionRegistry) Active() []entity.Subscription {
	return r.filter(func(s *entity.Subscription) bool { return s.Active })
}

func (r *SubscriptionRegistry) All() []entity.Subscription {
	return r.filter(func(*entity.Subscription) bool { return true })
}

func (r *SubscriptionRegistry) BySymbol(symbol string) []entity.Subscription {
	return r.filter(func(s *entity.Subscription) bool { return s.Symbol == symbol })
}

func (r *SubscriptionRegistry) ByKind(kind entity.SubscriptionKind) []entity.Subscription {
	return r.filter(func(s *entity.Subscription) bool { return s.Kind == kind })
}

func (r *SubscriptionRegistry) IsSubscribed(symbol string, kind entity.SubscriptionKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.findLocked(symbol, kind)
	return sub != nil && sub.Active
}

func (r *SubscriptionRegistry) Stats() entity.SubscriptionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := entity.SubscriptionStats{
		Total:  len(r.records),
		ByType: make(map[string]int),
	}
	for _, sub := range r.records {
		if !sub.Active {
			continue
		}
		stats.Active++
		stats.ByType[string(sub.Kind)]++
	}
	stats.Inactive = stats.Total - stats.Active

	return stats
}

func (r *SubscriptionRegistry) filter(keep func(*entity.Subscription) bool) []entity.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]entity.Subscription, 0, len(r.records))
	for _, sub := range r.orderedLocked() {
		if keep(sub) {
			result = append(result, *sub)
		}
	}

	return result
}

func (r *SubscriptionRegistry) findLocked(symbol string, kind entity.SubscriptionKind) *entity.Subscription {
	for _, sub := range r.records {
		if sub.Symbol == symbol && sub.Kind == kind {
			return sub
		}
	}
	return nil
}

func (r *SubscriptionRegistry) deleteLocked(id string) {
	delete(r.records, id)
	delete(r.sequence, id)
}

func (r *SubscriptionRegistry) orderedLocked() []*entity.Subscription {
	subs := make([]*entity.Subscription, 0, len(r.records))
	for _, sub := range r.records {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return r.sequence[subs[i].ID] < r.sequence[subs[j].ID]
	})

	return subs
}

// SubscribeCommand renders the upstream command for a subscription.
func SubscribeCommand(symbol string, kind entity.SubscriptionKind, params entity.SubscriptionParams) (string, error) {
	switch kind {
	case entity.SubscriptionKindQuote:
		if params.Snapshot {
			return "SQT " + symbol + " N", nil
		}
		return "SQT " + symbol, nil
	case entity.SubscriptionKindBook:
		return "BQT " + symbol, nil
	case entity.SubscriptionKindTrades:
		parts := []string{"GQT", symbol, "S"}
		if params.Quantity > 0 {
			parts = append(parts, strconv.Itoa(params.Quantity))
			if params.TradeID != "" {
				order := strings.ToUpper(params.Order)
				if order != entity.TradeOrderAsc {
					order = entity.TradeOrderDesc
				}
				parts = append(parts, params.TradeID, order)
			}
		}
		return strings.Join(parts, " "), nil
	case entity.SubscriptionKindAggregatedBook:
		return "SAB " + symbol, nil
	case entity.SubscriptionKindVAP:
		if params.Period > 0 {
			return fmt.Sprintf("VAP %s %d", symbol, params.Period), nil
		}
		return "VAP " + symbol, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// UnsubscribeCommand returns false for kinds that have no unsubscribe verb.
func UnsubscribeCommand(sub *entity.Subscription) (string, bool) {
	switch sub.Kind {
	case entity.SubscriptionKindQuote:
		return "USQ " + sub.Symbol, true
	case entity.SubscriptionKindBook:
		return "UBQ " + sub.Symbol, true
	case entity.SubscriptionKindTrades:
		return "UQT " + sub.Symbol, true
	case entity.SubscriptionKindAggregatedBook:
		return "UAB " + sub.Symbol, true
	default:
		return "", false
	}
}
