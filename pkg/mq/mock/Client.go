// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"fruitripe.dev/chamber-hub/pkg/mq"
)

// Client is a mock implementation of ClientInterface for testing.
// It tracks method calls and allows configuring return values and behavior.
type Client struct {
	mu sync.Mutex

	// PushFunc is called when Push is invoked. If nil, returns PushError.
	PushFunc func(ctx context.Context, routingKey string, data []byte) error
	// PushError is returned by Push if PushFunc is nil.
	PushError error
	// PushCalls tracks all calls to Push with their arguments.
	PushCalls []PushCall

	// UnsafePushFunc is called when UnsafePush is invoked. If nil, returns UnsafePushError.
	UnsafePushFunc func(ctx context.Context, routingKey string, data []byte) error
	// UnsafePushError is returned by UnsafePush if UnsafePushFunc is nil.
	UnsafePushError error
	// UnsafePushCalls tracks all calls to UnsafePush with their arguments.
	UnsafePushCalls []PushCall

	// ConsumeFunc is called when Consume is invoked. If nil, returns ConsumeChannel and ConsumeError.
	ConsumeFunc func() (<-chan amqp.Delivery, error)
	// ConsumeChannel is returned by Consume if ConsumeFunc is nil.
	ConsumeChannel <-chan amqp.Delivery
	// ConsumeError is returned by Consume if ConsumeFunc is nil.
	ConsumeError error
	// ConsumeCalls tracks the number of times Consume was called.
	ConsumeCalls int

	// CloseFunc is called when Close is invoked. If nil, returns CloseError.
	CloseFunc func() error
	// CloseError is returned by Close if CloseFunc is nil.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// PushCall records the arguments to a Push or UnsafePush call.
type PushCall struct {
	Ctx        context.Context
	RoutingKey string
	Data       []byte
}

// Push records the call and delegates to PushFunc when set.
func (m *Client) Push(ctx context.Context, routingKey string, data []byte) error {
	m.mu.Lock()
	m.PushCalls = append(m.PushCalls, PushCall{Ctx: ctx, RoutingKey: routingKey, Data: data})
	fn := m.PushFunc
	errDefault := m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, routingKey, data)
	}
	return errDefault
}

// UnsafePush records the call and delegates to UnsafePushFunc when set.
func (m *Client) UnsafePush(ctx context.Context, routingKey string, data []byte) error {
	m.mu.Lock()
	m.UnsafePushCalls = append(m.UnsafePushCalls, PushCall{Ctx: ctx, RoutingKey: routingKey, Data: data})
	fn := m.UnsafePushFunc
	errDefault := m.UnsafePushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, routingKey, data)
	}
	return errDefault
}

// Consume records the call and delegates to ConsumeFunc when set.
func (m *Client) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	m.ConsumeCalls++
	fn := m.ConsumeFunc
	ch := m.ConsumeChannel
	errDefault := m.ConsumeError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return ch, errDefault
}

// PushCount reports the number of recorded Push calls. Safe to call while
// the client is in use from other goroutines.
func (m *Client) PushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PushCalls)
}

// RecordedPushes returns a copy of the recorded Push calls.
func (m *Client) RecordedPushes() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PushCall(nil), m.PushCalls...)
}

// Close records the call and delegates to CloseFunc when set.
func (m *Client) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	fn := m.CloseFunc
	errDefault := m.CloseError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return errDefault
}

// Ensure Client implements ClientInterface.
var _ mq.ClientInterface = (*Client)(nil)
