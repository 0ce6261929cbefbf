/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/rest"
)

var logger = log.New("aries-framework/webnotifier")

const (
	notificationSendTimeout = 10 * time.Second
	emptyTopicErrMsg        = "cannot notify with an empty topic"
	emptyMessageErrMsg      = "cannot notify with an empty message"
	failedToCreateErrMsg    = "failed to create topic message : %w"
)

// WebNotifier fans notifications out to WebSocket clients, webhooks and any extra notifiers.
type WebNotifier struct {
	notifiers []command.Notifier
	handlers  []rest.Handler
}

// Opt configures a WebNotifier.
type Opt func(n *WebNotifier)

// WithNotifier adds a notifier, e.g. a NATSNotifier, to the fan-out.
func WithNotifier(notifier command.Notifier) Opt {
	return func(n *WebNotifier) {
		n.notifiers = append(n.notifiers, notifier)
	}
}

// New returns a WebNotifier serving WebSocket subscribers on wsPath and posting to the webhook URLs.
func New(wsPath string, webhookURLs []string, opts ...Opt) *WebNotifier {
	ws := NewWSNotifier(wsPath)

	n := &WebNotifier{
		notifiers: []command.Notifier{ws, NewHTTPNotifier(webhookURLs)},
		handlers:  ws.GetRESTHandlers(),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Notify sends the message to every notifier and returns their joined errors.
func (n *WebNotifier) Notify(topic string, message []byte) error {
	var allErrs error

	for _, notifier := range n.notifiers {
		allErrs = appendError(allErrs, notifier.Notify(topic, message))
	}

	return allErrs
}

// GetRESTHandlers returns all REST handlers provided by notifier.
func (n *WebNotifier) GetRESTHandlers() []rest.Handler {
	return n.handlers
}

// TopicMessage is the envelope every subscriber receives.
type TopicMessage struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// PrepareTopicMessage wraps message into a TopicMessage with a fresh id.
func PrepareTopicMessage(topic string, message []byte) ([]byte, error) {
	return json.Marshal(&TopicMessage{
		ID:      uuid.New().String(),
		Topic:   topic,
		Message: message,
	})
}

func appendError(errList, err error) error {
	if err == nil {
		return errList
	}

	return errors.Join(errList, err)
}

func validate(topic string, message []byte) error {
	if topic == "" {
		return errors.New(emptyTopicErrMsg)
	}

	if len(message) == 0 {
		return errors.New(emptyMessageErrMsg)
	}

	return nil
}
