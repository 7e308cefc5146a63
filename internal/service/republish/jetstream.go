package republish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

var ErrPublishMarketEventFailed = errors.New("failed to publish market event")

const (
	defaultMaxRetries = 3
	streamMaxAge      = 5 * time.Minute
)

// JetstreamPublisher republishes processed market events on
// market_data.<type>.<symbol>.
type JetstreamPublisher struct {
	js      nats.JetStreamContext
	publish func(subject string, data any) error
}

func NewJetstreamPublisher(js nats.JetStreamContext) *JetstreamPublisher {
	return &JetstreamPublisher{
		js: js,
		publish: func(subject string, data any) error {
			return util.PublishEvent(js, subject, data)
		},
	}
}

func (p *JetstreamPublisher) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.MarketDataStreamName,
		Subjects:  []string{constant.MarketDataStreamSubjectAll},
		Storage:   nats.MemoryStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}

	stream, err := p.js.StreamInfo(constant.MarketDataStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.MarketDataStreamName)
		_, err = p.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.MarketDataStreamName)
	_, err = p.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.MarketDataStreamName)

	return nil
}

// PublishMarketEvent publishes event asynchronously. Failed acks are retried
// by the handler from AsyncRetryHandler.
func (p *JetstreamPublisher) PublishMarketEvent(_ context.Context, event entity.MarketEvent) error {
	subject := constant.GetMarketDataStreamSubject(event.Type, event.Symbol)

	err := p.publish(subject, entity.MarketEventRetry{RetryCount: 0, Data: event})
	if err != nil {
		infrastructure.RepublishErrorsTotal.WithLabelValues("jetstream").Inc()
		return fmt.Errorf("%w: %w", ErrPublishMarketEventFailed, err)
	}

	return nil
}

// WaitPending blocks until every outstanding async publish is acknowledged.
func (p *JetstreamPublisher) WaitPending(ctx context.Context) error {
	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d publishes still pending: %w", p.js.PublishAsyncPending(), ctx.Err())
	}
}

// AsyncRetryHandler republishes a rejected market event with its retry count
// incremented, giving up once maxRetries attempts have failed.
func AsyncRetryHandler(maxRetries int) nats.MsgErrHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return func(js nats.JetStream, msg *nats.Msg, err error) {
		infrastructure.RepublishErrorsTotal.WithLabelValues("jetstream").Inc()

		var req entity.MarketEventRetry
		if decodeErr := json.Unmarshal(msg.Data, &req); decodeErr != nil {
			logrus.WithField("subject", msg.Subject).Errorf("decode rejected market event: %v", decodeErr)
			return
		}

		logger := logrus.WithFields(logrus.Fields{
			"subject": msg.Subject,
			"retry":   req.RetryCount,
		})
		logger.Error(err)

		req.RetryCount++
		if req.RetryCount >= maxRetries {
			logger.Error(ErrPublishMarketEventFailed)
			return
		}

		if err := util.PublishEvent(js, msg.Subject, req); err != nil {
			logger.Errorf("republish market event: %v", err)
		}
	}
}
