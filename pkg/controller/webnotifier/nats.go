/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// DefaultSubjectPrefix is prepended to the topic to form the NATS subject.
	DefaultSubjectPrefix = "aries."

	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
)

// Publisher publishes raw payloads to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSNotifier publishes notifications to NATS, one subject per topic.
type NATSNotifier struct {
	publisher Publisher
	prefix    string
}

// NATSOpt configures NewNATSNotifier.
type NATSOpt func(o *natsOpts)

type natsOpts struct {
	name          string
	prefix        string
	reconnectWait time.Duration
	maxReconnects int
	credentials   string
}

// WithSubjectPrefix replaces DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) NATSOpt {
	return func(o *natsOpts) {
		o.prefix = prefix
	}
}

// WithClientName sets the connection name shown by the NATS server.
func WithClientName(name string) NATSOpt {
	return func(o *natsOpts) {
		o.name = name
	}
}

// WithReconnect sets the reconnect policy of the connection.
func WithReconnect(wait time.Duration, maxReconnects int) NATSOpt {
	return func(o *natsOpts) {
		o.reconnectWait = wait
		o.maxReconnects = maxReconnects
	}
}

// WithCredentials authenticates with a NATS user credentials file.
func WithCredentials(path string) NATSOpt {
	return func(o *natsOpts) {
		o.credentials = path
	}
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url string, opts ...NATSOpt) (*NATSNotifier, error) {
	o := &natsOpts{
		name:          "aries-agent",
		prefix:        DefaultSubjectPrefix,
		reconnectWait: defaultReconnectWait,
		maxReconnects: defaultMaxReconnects,
	}

	for _, opt := range opts {
		opt(o)
	}

	natsOptions := []nats.Option{
		nats.Name(o.name),
		nats.ReconnectWait(o.reconnectWait),
		nats.MaxReconnects(o.maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Infof("NATS connection closed")
		}),
	}

	if o.credentials != "" {
		natsOptions = append(natsOptions, nats.UserCredentials(o.credentials))
	}

	conn, err := nats.Connect(url, natsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return NewNATSNotifierWithPublisher(conn, o.prefix), nil
}

// NewNATSNotifierWithPublisher returns a NATSNotifier over an existing publisher.
func NewNATSNotifierWithPublisher(publisher Publisher, prefix string) *NATSNotifier {
	return &NATSNotifier{publisher: publisher, prefix: prefix}
}

// Notify publishes the topic message on the topic's subject.
func (n *NATSNotifier) Notify(topic string, message []byte) error {
	if err := validate(topic, message); err != nil {
		return err
	}

	topicMsg, err := PrepareTopicMessage(topic, message)
	if err != nil {
		return fmt.Errorf(failedToCreateErrMsg, err)
	}

	if err := n.publisher.Publish(n.prefix+topic, topicMsg); err != nil {
		return fmt.Errorf("publish to NATS subject %s: %w", n.prefix+topic, err)
	}

	return nil
}

// Close closes the NATS connection.
func (n *NATSNotifier) Close() {
	n.publisher.Close()
}
