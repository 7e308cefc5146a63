package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/service/feed"
	"github.com/sirupsen/logrus"
)

var ErrReconnectExhausted = errors.New("feed reconnect attempts exhausted")

type Reconnector interface {
	ReconnectAfter(delay time.Duration)
}

type Registry interface {
	Rearm() (int, error)
	MarkAllInactive()
	SubscribeQuote(symbol string, snapshot bool) (string, error)
	SubscribeBook(symbol string) (string, error)
	SubscribeTrades(symbol string, quantity int, tradeID, order string) (string, error)
}

type MessageSink interface {
	Submit(msg entity.FeedMessage) error
}

type Notifier interface {
	BroadcastSystemMessage(message, level string) int
}

// Gateway routes feed session events: data lines go to the pipeline, feed
// errors are classified and acted on, and subscriptions follow the link state.
type Gateway struct {
	session          Reconnector
	registry         Registry
	sink             MessageSink
	notifier         Notifier
	bootstrapSymbols []string
	fatal            func(error)
}

func NewGateway(session Reconnector, registry Registry, sink MessageSink, notifier Notifier, bootstrapSymbols []string, fatal func(error)) *Gateway {
	if fatal == nil {
		fatal = func(err error) { logrus.Fatal(err) }
	}

	return &Gateway{
		session:          session,
		registry:         registry,
		sink:             sink,
		notifier:         notifier,
		bootstrapSymbols: bootstrapSymbols,
		fatal:            fatal,
	}
}

// HandleEvent is the feed session event handler.
func (g *Gateway) HandleEvent(event feed.SessionEvent) {
	switch ev := event.(type) {
	case feed.Connected:
		logrus.Info("feed connected, waiting for login")
	case feed.Authenticated:
		infrastructure.FeedConnected.Set(1)
		g.onAuthenticated()
	case feed.AuthFailed:
		logrus.WithField("line", ev.Line).Error("feed login rejected")
	case feed.LineReceived:
		g.handleLine(ev.Line)
	case feed.Disconnected:
		infrastructure.FeedConnected.Set(0)
		g.registry.MarkAllInactive()
		if ev.Err != nil {
			logrus.WithField("error", ev.Err).Warn("feed disconnected")
		}
		g.notify("Market data feed disconnected", "warning")
	case feed.ReconnectExhausted:
		g.fatal(fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, ev.Attempts))
	}
}

func (g *Gateway) onAuthenticated() {
	rearmed, err := g.registry.Rearm()
	if err != nil {
		logrus.WithField("error", err).Error("failed to re-arm feed subscriptions")
	}
	if rearmed > 0 {
		logrus.WithField("subscriptions", rearmed).Info("feed subscriptions re-armed")
	}

	for _, symbol := range g.bootstrapSymbols {
		logger := logrus.WithField("symbol", symbol)
		if _, err := g.registry.SubscribeQuote(symbol, true); err != nil {
			logger.Errorf("bootstrap quote subscription: %v", err)
		}
		if _, err := g.registry.SubscribeBook(symbol); err != nil {
			logger.Errorf("bootstrap book subscription: %v", err)
		}
		if _, err := g.registry.SubscribeTrades(symbol, 0, "", ""); err != nil {
			logger.Errorf("bootstrap trades subscription: %v", err)
		}
	}

	g.notify("Market data feed connected", "info")
}

func (g *Gateway) handleLine(line string) {
	msg, err := feed.Decode(line)
	if err != nil {
		infrastructure.FeedDecodeErrorsTotal.Inc()
		logrus.WithField("line", line).Warnf("dropping feed line: %v", err)
		return
	}
	if msg == nil {
		return
	}
	infrastructure.FeedLinesTotal.WithLabelValues(string(msg.Kind())).Inc()

	if feedErr, ok := msg.(*entity.FeedError); ok {
		g.handleFeedError(feedErr)
		return
	}

	if err := g.sink.Submit(msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"kind":   msg.Kind(),
			"symbol": msg.GetSymbol(),
		}).Warnf("market data not queued: %v", err)
	}
}

func (g *Gateway) handleFeedError(feedErr *entity.FeedError) {
	classified := feed.Classify(feedErr.Code, feedErr.Raw)
	infrastructure.FeedErrorsTotal.WithLabelValues(strconv.Itoa(classified.Code)).Inc()

	logger := logrus.WithFields(logrus.Fields{
		"code":        classified.Code,
		"recoverable": classified.Recoverable,
		"action":      classified.Action,
		"detail":      feedErr.Message,
	})

	switch {
	case classified.Fatal:
		logger.Error(classified.Message)
		g.notify(classified.Message, "error")
		g.fatal(classified)
	case feed.ShouldReconnect(classified.Code):
		delay := feed.RetryDelay(classified.Code)
		logger.WithField("retry_in", delay.String()).Warn(classified.Message)
		g.session.ReconnectAfter(delay)
	default:
		logger.Warn(classified.Message)
	}
}

func (g *Gateway) notify(message, level string) {
	if g.notifier != nil {
		g.notifier.BroadcastSystemMessage(message, level)
	}
}
