/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webhook

import "sync"

// NewMockWebhookNotifier returns mock notifier implementation.
func NewMockWebhookNotifier() *Notifier {
	return &Notifier{}
}

// Notifier is mock implementation of a notifier. It keeps the topics it was notified on.
type Notifier struct {
	NotifyFunc func(topic string, message []byte) error

	mu     sync.Mutex
	topics []string
}

// Notify is mock implementation of Notify().
func (n *Notifier) Notify(topic string, message []byte) error {
	n.mu.Lock()
	n.topics = append(n.topics, topic)
	n.mu.Unlock()

	if n.NotifyFunc != nil {
		return n.NotifyFunc(topic, message)
	}

	return nil
}

// Topics returns the topics notified so far.
func (n *Notifier) Topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.topics...)
}
