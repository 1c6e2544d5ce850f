package queue

import (
	"context"
	"time"
)

// Transport adapts the package-level queue functions to the interfaces the
// workers accept. The zero value is ready to use once Setup has run.
type Transport struct{}

func (Transport) Receive(ctx context.Context, name string, wait time.Duration) (*Message, error) {
	return Receive(ctx, name, wait)
}

func (Transport) Delete(name, receipt string) error {
	return Delete(name, receipt)
}

func (Transport) Publish(topic string, payload []byte) (int, error) {
	return Publish(topic, payload)
}

func (Transport) ChangeVisibility(name, receipt string, delay time.Duration) error {
	return ChangeVisibility(name, receipt, delay)
}
