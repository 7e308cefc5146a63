package util

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// PublishEvent encodes data and publishes it without waiting for the ack.
// Rejected publishes are reported to the context's async error handler.
func PublishEvent(js nats.JetStream, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.PublishAsync(subject, payload)
	if err != nil {
		return err
	}

	return nil
}
