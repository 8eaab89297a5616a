// Package events publishes session and deposit lifecycle notifications.
package events

import (
	"context"

	"mintgate/observability"
)

// Event topic constants
const (
	TopicSessionCreated   = "mintgate.session.created"
	TopicSessionUpdated   = "mintgate.session.updated"
	TopicSessionCompleted = "mintgate.session.completed"

	TopicDepositDetected  = "mintgate.deposit.detected"
	TopicDepositUpdated   = "mintgate.deposit.updated"
	TopicDepositClaimable = "mintgate.deposit.claimable"
	TopicDepositRemoved   = "mintgate.deposit.removed"
	TopicDepositCompleted = "mintgate.deposit.completed"
)

// Topics lists every topic in publication order, for subscribers that want all of them.
var Topics = []string{
	TopicSessionCreated,
	TopicSessionUpdated,
	TopicSessionCompleted,
	TopicDepositDetected,
	TopicDepositUpdated,
	TopicDepositClaimable,
	TopicDepositRemoved,
	TopicDepositCompleted,
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Multi fans a publication out to several publishers and reports the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Instrumented counts every publication made through Publisher.
type Instrumented struct {
	Publisher
	Metrics *observability.EventMetrics
}

func (i Instrumented) Publish(ctx context.Context, topic string, event any) error {
	err := i.Publisher.Publish(ctx, topic, event)
	i.Metrics.RecordPublish(topic, err)
	return err
}
