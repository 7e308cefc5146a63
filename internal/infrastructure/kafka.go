package infrastructure

import (
	"errors"
	"strings"
	"time"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultKafkaBatchTimeout = 50 * time.Millisecond
	defaultKafkaWriteTimeout = 10 * time.Second
	defaultKafkaMaxAttempts  = 3
)

// NewKafkaWriter builds an async writer keyed by symbol so per-symbol order
// is kept within a partition.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = constant.MarketDataKafkaTopic
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultKafkaBatchTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           defaultKafkaWriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            defaultKafkaMaxAttempts,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				RepublishErrorsTotal.WithLabelValues("kafka").Add(float64(len(messages)))
				logrus.WithFields(logrus.Fields{
					"topic": topic,
					"count": len(messages),
				}).Errorf("kafka publish failed: %v", err)
			}
		},
	}

	logrus.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("kafka writer ready")

	return writer, nil
}
