/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

// ForwardMsgType is the DIDComm V1 routing forward message type.
const ForwardMsgType = "https://didcomm.org/routing/1.0/forward"

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// ErrNoDestination is returned when a message has neither a connection nor destinations to go to.
var ErrNoDestination = errors.New("no destination")

var logger = log.New("aries-framework/didcomm/dispatcher")

// provider interface for outbound ctx.
type provider interface {
	Packager() transport.Packager
	OutboundTransports() []transport.OutboundTransport
	TransportReturnRoute() string
	VDRegistry() vdr.DIDRegistry
	ConnectionService() *connection.Service
	// InboundMessageHandler processes replies returned on the outbound session.
	InboundMessageHandler() transport.InboundMessageHandler
}

// Option configures the Dispatcher.
type Option func(o *Dispatcher)

// WithRetry sets how often and how far apart failed transport sends are retried.
func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(o *Dispatcher) {
		o.maxRetries = maxRetries
		o.retryInterval = interval
	}
}

// Dispatcher dispatch msgs to destination.
type Dispatcher struct {
	outboundTransports   []transport.OutboundTransport
	packager             transport.Packager
	transportReturnRoute string
	vdRegistry           vdr.DIDRegistry
	connections          *connection.Service
	replies              provider
	maxRetries           uint64
	retryInterval        time.Duration
}

// forward is the DIDComm V1 route Forward msg as declared in
// https://github.com/hyperledger/aries-rfcs/blob/main/concepts/0094-cross-domain-messaging/README.md
type forward struct {
	Type string          `json:"@type,omitempty"`
	ID   string          `json:"@id,omitempty"`
	To   string          `json:"to,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// NewOutbound return new dispatcher outbound instance.
func NewOutbound(prov provider, opts ...Option) *Dispatcher {
	o := &Dispatcher{
		outboundTransports:   prov.OutboundTransports(),
		packager:             prov.Packager(),
		transportReturnRoute: prov.TransportReturnRoute(),
		vdRegistry:           prov.VDRegistry(),
		connections:          prov.ConnectionService(),
		replies:              prov,
		maxRetries:           defaultMaxRetries,
		retryInterval:        defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Send delivers msg on its connection, or to its destinations for connection-less messages.
func (o *Dispatcher) Send(ctx context.Context, msg *service.OutboundMessage) error {
	if msg == nil || msg.Msg == nil {
		return errors.New("outboundDispatcher.Send: empty message")
	}

	dests, senderKey, err := o.destinations(msg)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.Send (id=%s type=%s): %w", msg.Msg.ID(), msg.Msg.Type(), err)
	}

	var errs []error

	for _, dest := range dests {
		err := o.send(ctx, msg, senderKey, dest)
		if err == nil {
			return nil
		}

		logger.Warnf("send %s to %s failed: %v", msg.Msg.Type(), dest.ServiceEndpoint, err)

		errs = append(errs, err)
	}

	return fmt.Errorf("outboundDispatcher.Send (id=%s type=%s): %w", msg.Msg.ID(), msg.Msg.Type(),
		errors.Join(errs...))
}

func (o *Dispatcher) destinations(msg *service.OutboundMessage) ([]*service.Destination, string, error) {
	if msg.ConnectionID == "" {
		if len(msg.Destinations) == 0 {
			return nil, "", ErrNoDestination
		}

		return msg.Destinations, msg.SenderKey, nil
	}

	conn, err := o.connections.Get(msg.ConnectionID)
	if err != nil {
		return nil, "", err
	}

	senderKey := msg.SenderKey
	if senderKey == "" {
		senderKey = conn.MyRecipientKey
	}

	if len(msg.Destinations) > 0 {
		return msg.Destinations, senderKey, nil
	}

	if conn.TheirDID == "" {
		return nil, "", fmt.Errorf("%w: connection %s has no DID of the other agent yet", ErrNoDestination,
			conn.ConnectionID)
	}

	resolved, err := o.vdRegistry.ResolveDIDDocument(conn.TheirDID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve their did %s: %w", conn.TheirDID, err)
	}

	dest, err := connection.Destination(resolved)
	if err != nil {
		return nil, "", err
	}

	return []*service.Destination{dest}, senderKey, nil
}

// send packs the message with the sender key and recipient keys and hands it to the first transport that
// accepts the endpoint.
func (o *Dispatcher) send(ctx context.Context, msg *service.OutboundMessage, senderKey string,
	dest *service.Destination) error {
	if len(dest.RecipientKeys) == 0 {
		return fmt.Errorf("%w: destination %s has no recipient keys", ErrNoDestination, dest.ServiceEndpoint)
	}

	outboundTransport := o.transportFor(dest.ServiceEndpoint)
	if outboundTransport == nil {
		return fmt.Errorf("no transport found for serviceEndpoint: %s", dest.ServiceEndpoint)
	}

	out := msg.Msg.Clone()

	if !msg.NoReturnRoute && len(dest.RoutingKeys) == 0 &&
		(o.transportReturnRoute == decorator.TransportReturnRouteAll ||
			o.transportReturnRoute == decorator.TransportReturnRouteThread) {
		out["~transport"] = map[string]interface{}{"return_route": o.transportReturnRoute}
	}

	req, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed marshal to bytes: %w", err)
	}

	packed, err := o.packager.PackMessage(&transport.Envelope{
		Message: req,
		FromKey: senderKey,
		ToKeys:  dest.RecipientKeys,
	})
	if err != nil {
		return fmt.Errorf("failed to pack msg: %w", err)
	}

	packed, err = o.createForwardMessage(packed, dest)
	if err != nil {
		return fmt.Errorf("failed to create forward msg: %w", err)
	}

	var reply string

	err = backoff.Retry(func() error {
		var e error

		reply, e = outboundTransport.Send(ctx, packed, dest)

		return e
	}, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.retryInterval), o.maxRetries), ctx))
	if err != nil {
		return fmt.Errorf("failed to send msg using outbound transport: %w", err)
	}

	if reply == "" {
		return nil
	}

	return o.handleReply(ctx, []byte(reply))
}

func (o *Dispatcher) handleReply(ctx context.Context, reply []byte) error {
	handler := o.replies.InboundMessageHandler()
	if handler == nil {
		logger.Warnf("dropping reply received on the outbound session: no inbound handler")

		return nil
	}

	// replies to the reply travel on a new session
	if _, err := handler(ctx, reply); err != nil {
		logger.Errorf("process reply received on the outbound session: %v", err)
	}

	return nil
}

func (o *Dispatcher) transportFor(endpoint string) transport.OutboundTransport {
	for _, v := range o.outboundTransports {
		if v.Accept(endpoint) {
			return v
		}
	}

	return nil
}

// createForwardMessage wraps msg in one forward per routing key, innermost addressed to the recipient.
func (o *Dispatcher) createForwardMessage(msg []byte, dest *service.Destination) ([]byte, error) {
	if len(dest.RoutingKeys) == 0 {
		return msg, nil
	}

	keys := append([]string{dest.RecipientKeys[0]}, dest.RoutingKeys...)

	for i := 0; i+1 < len(keys); i++ {
		req, err := json.Marshal(forward{
			Type: ForwardMsgType,
			ID:   uuid.New().String(),
			To:   keys[i],
			Msg:  msg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed marshal to bytes: %w", err)
		}

		msg, err = o.packager.PackMessage(&transport.Envelope{
			Message: req,
			ToKeys:  []string{keys[i+1]},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to pack forward msg: %w", err)
		}
	}

	return msg, nil
}
