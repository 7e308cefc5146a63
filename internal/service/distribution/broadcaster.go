package distribution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

const (
	defaultThrottleInterval = 100 * time.Millisecond
	defaultMaxQueueSize     = 1000
)

// Fanout delivers encoded frames to connected clients and reports how many
// received them.
type Fanout interface {
	SendToChannel(channel string, frame []byte) int
	SendToAll(frame []byte) int
	SubscriberCount(channel string) int
	TotalSubscriptions() int
}

// Broadcaster coalesces market events per channel and flushes each channel
// at most once per throttle interval.
type Broadcaster struct {
	fanout   Fanout
	throttle time.Duration
	maxQueue int

	mu      sync.Mutex
	queues  map[string][]entity.MarketEvent
	timers  map[string]*time.Timer
	stopped bool

	messagesSent    atomic.Int64
	messagesQueued  atomic.Int64
	messagesDropped atomic.Int64
}

func NewBroadcaster(cfg config.DistributionConfig, fanout Fanout) *Broadcaster {
	throttle := cfg.ThrottleInterval
	if throttle <= 0 {
		throttle = defaultThrottleInterval
	}
	maxQueue := cfg.MaxQueueSize
	if maxQueue <= 0 {
		maxQueue = defaultMaxQueueSize
	}

	return &Broadcaster{
		fanout:   fanout,
		throttle: throttle,
		maxQueue: maxQueue,
		queues:   make(map[string][]entity.MarketEvent),
		timers:   make(map[string]*time.Timer),
	}
}

// PublishMarketEvent queues event on every channel it maps to.
func (b *Broadcaster) PublishMarketEvent(_ context.Context, event entity.MarketEvent) error {
	for _, channel := range ChannelsForEvent(event.Type, event.Symbol) {
		b.Enqueue(channel, event)
	}
	return nil
}

// Enqueue adds event to the channel queue, dropping the oldest item when the
// queue is full. Channels without subscribers are skipped.
func (b *Broadcaster) Enqueue(channel string, event entity.MarketEvent) {
	if b.fanout.SubscriberCount(channel) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	queue := b.queues[channel]
	if len(queue) >= b.maxQueue {
		queue = queue[1:]
		b.messagesDropped.Add(1)
		infrastructure.DistributionMessagesDropped.WithLabelValues("queue_full").Inc()
	}
	b.queues[channel] = append(queue, event)
	b.messagesQueued.Add(1)

	if _, ok := b.timers[channel]; !ok {
		b.timers[channel] = time.AfterFunc(b.throttle, func() {
			b.flushChannel(channel)
		})
	}
}

func (b *Broadcaster) flushChannel(channel string) {
	b.mu.Lock()
	queue := b.queues[channel]
	delete(b.queues, channel)
	delete(b.timers, channel)
	b.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	for _, group := range groupByType(queue) {
		batch := entity.ChannelBatch{Channel: channel, Count: len(group.items)}
		if len(group.items) == 1 {
			batch.Data = group.items[0]
		} else {
			batch.Data = group.items
		}

		frame, err := encodeFrame(group.eventType, batch, now)
		if err != nil {
			logrus.WithField("channel", channel).Errorf("encode channel batch: %v", err)
			continue
		}
		b.recordSent(b.fanout.SendToChannel(channel, frame))
	}
}

type eventGroup struct {
	eventType string
	items     []entity.MarketEvent
}

// groupByType keeps the order in which each type first appeared.
func groupByType(events []entity.MarketEvent) []eventGroup {
	index := make(map[string]int)
	groups := make([]eventGroup, 0, 1)
	for _, event := range events {
		i, ok := index[event.Type]
		if !ok {
			i = len(groups)
			index[event.Type] = i
			groups = append(groups, eventGroup{eventType: event.Type})
		}
		groups[i].items = append(groups[i].items, event)
	}
	return groups
}

type systemMessagePayload struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

type marketStatusPayload struct {
	Status string `json:"status"`
}

// BroadcastSystemMessage sends message to every authenticated client.
func (b *Broadcaster) BroadcastSystemMessage(message, level string) int {
	if level == "" {
		level = "info"
	}
	sent := b.broadcast(constant.EventTypeSystemMsg, systemMessagePayload{Message: message, Level: level})
	logrus.WithFields(logrus.Fields{"level": level, "clients": sent}).Infof("system message sent: %s", message)
	return sent
}

func (b *Broadcaster) BroadcastMarketStatus(status string) int {
	sent := b.broadcast(constant.EventTypeMarketState, marketStatusPayload{Status: status})
	logrus.WithFields(logrus.Fields{"status": status, "clients": sent}).Info("market status sent")
	return sent
}

func (b *Broadcaster) broadcast(messageType string, payload any) int {
	frame, err := encodeFrame(messageType, payload, time.Now().UnixMilli())
	if err != nil {
		logrus.WithField("type", messageType).Errorf("encode broadcast: %v", err)
		return 0
	}

	sent := b.fanout.SendToAll(frame)
	b.recordSent(sent)
	return sent
}

func (b *Broadcaster) recordSent(n int) {
	b.messagesSent.Add(int64(n))
	infrastructure.DistributionMessagesSent.Add(float64(n))
}

// Stop cancels pending throttle timers after one final flush of every queue.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true

	channels := make([]string, 0, len(b.queues))
	for channel := range b.queues {
		channels = append(channels, channel)
	}
	for _, timer := range b.timers {
		timer.Stop()
	}
	b.mu.Unlock()

	for _, channel := range channels {
		b.flushChannel(channel)
	}

	logrus.WithField("channels", len(channels)).Info("broadcaster stopped")
}

func (b *Broadcaster) Stats() entity.BroadcasterStats {
	b.mu.Lock()
	channels := len(b.queues)
	throttles := len(b.timers)
	b.mu.Unlock()

	return entity.BroadcasterStats{
		MessagesSent:     b.messagesSent.Load(),
		MessagesQueued:   b.messagesQueued.Load(),
		MessagesDropped:  b.messagesDropped.Load(),
		ChannelsActive:   channels,
		ActiveThrottles:  throttles,
		SubscribersTotal: b.fanout.TotalSubscriptions(),
	}
}

func encodeFrame(messageType string, payload any, timestamp int64) ([]byte, error) {
	return json.Marshal(entity.ServerMessage{
		Type:      messageType,
		Payload:   payload,
		Timestamp: timestamp,
	})
}
