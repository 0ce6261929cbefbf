/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
)

var logger = log.New("aries-framework/didcomm/dispatcher")

// Dispatcher routes inbound plaintext messages to the handler registered for their type.
type Dispatcher struct {
	registry *Registry
}

// New returns a dispatcher over registry.
func New(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch hands msg to its handler and returns the handler's reply, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, msg service.DIDCommMsgMap,
	c *service.InboundContext) (*service.OutboundMessage, error) {
	h, err := d.registry.HandlerFor(msg.Type())
	if err != nil {
		thid, _ := msg.ThreadID() // nolint:errcheck

		return nil, fmt.Errorf("dispatch message id=%s thid=%s: %w", msg.ID(), thid, err)
	}

	if c == nil {
		c = &service.InboundContext{}
	}

	logger.Debugf("dispatching message type=%s id=%s connection=%s", msg.Type(), msg.ID(), c.ConnectionID)

	return h.HandleInbound(ctx, msg, c)
}
