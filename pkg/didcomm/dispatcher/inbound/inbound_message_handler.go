/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
)

var logger = log.New("aries-framework/didcomm/dispatcher/inbound")

// ErrNotInitialized is returned by a MessageHandler used before Initialize.
var ErrNotInitialized = errors.New("inbound message handler is not initialized")

// MessageHandler handles inbound envelopes: it unpacks them, works out the connection they belong to and
// dispatches them to the protocol service registered for their type.
type MessageHandler struct {
	packager         transport.Packager
	kms              kms.KeyManager
	connections      *connection.Service
	oob              *outofband.Service
	dispatcher       *dispatcher.Dispatcher
	outbound         dispatcher.Outbound
	lookupBackOff    time.Duration
	lookupMaxRetries uint64
	initialized      bool
}

type provider interface {
	Packager() transport.Packager
	KMS() kms.KeyManager
	ConnectionService() *connection.Service
	OutOfBandService() *outofband.Service
	Dispatcher() *dispatcher.Dispatcher
	OutboundDispatcher() dispatcher.Outbound
	ConnectionLookupBackOff() time.Duration
	ConnectionLookupMaxRetries() uint64
}

// NewInboundMessageHandler creates an inbound message handler, that processes inbound message Envelopes,
// and dispatches them to the appropriate protocol service.
func NewInboundMessageHandler(p provider) *MessageHandler {
	h := MessageHandler{}
	h.Initialize(p)

	return &h
}

// Initialize initializes the MessageHandler. Any call beyond the first is a no-op. Services that need the
// handler before they exist themselves can be given a zero MessageHandler that is initialized later.
func (handler *MessageHandler) Initialize(p provider) {
	if handler.initialized {
		return
	}

	handler.packager = p.Packager()
	handler.kms = p.KMS()
	handler.connections = p.ConnectionService()
	handler.oob = p.OutOfBandService()
	handler.dispatcher = p.Dispatcher()
	handler.outbound = p.OutboundDispatcher()
	handler.lookupBackOff = p.ConnectionLookupBackOff()
	handler.lookupMaxRetries = p.ConnectionLookupMaxRetries()

	handler.initialized = true
}

// HandlerFunc returns the MessageHandler's transport.InboundMessageHandler function.
func (handler *MessageHandler) HandlerFunc() transport.InboundMessageHandler {
	return handler.HandleInboundPayload
}

// HandleInboundPayload unpacks and dispatches a packed message. The packed reply is returned when the sender
// asked for replies on the inbound session; other replies are sent on a new one.
func (handler *MessageHandler) HandleInboundPayload(ctx context.Context, payload []byte) ([]byte, error) {
	if !handler.initialized {
		return nil, ErrNotInitialized
	}

	env, err := handler.packager.UnpackMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("unpack inbound message: %w", err)
	}

	msg, err := service.ParseDIDCommMsgMap(env.Message)
	if err != nil {
		return nil, err
	}

	ictx, err := handler.inboundContext(msg, env)
	if err != nil {
		return nil, err
	}

	out, err := handler.dispatch(ctx, msg, ictx)
	if err != nil || out == nil {
		return nil, err
	}

	if ictx.ReturnRoute && !out.NoReturnRoute && ictx.SenderKey != "" {
		return handler.packReply(out, ictx)
	}

	return nil, handler.outbound.Send(ctx, out)
}

// HandleInboundMessage dispatches a plaintext message and sends the reply, if any.
func (handler *MessageHandler) HandleInboundMessage(ctx context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) error {
	if !handler.initialized {
		return ErrNotInitialized
	}

	if ictx == nil {
		ictx = &service.InboundContext{}
	}

	out, err := handler.dispatch(ctx, msg, ictx)
	if err != nil || out == nil {
		return err
	}

	return handler.outbound.Send(ctx, out)
}

func (handler *MessageHandler) dispatch(ctx context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	if _, err := handler.oob.MatchIncomingMessage(msg); err != nil && !errors.Is(err, outofband.ErrRecordNotFound) {
		logger.Warnf("match message %s against attached invitation requests: %v", msg.ID(), err)
	}

	out, err := handler.dispatcher.Dispatch(ctx, msg, ictx)
	if err != nil {
		return nil, err
	}

	if out != nil && out.ConnectionID == "" && len(out.Destinations) == 0 {
		out.Destinations = ictx.Services
	}

	return out, nil
}

func (handler *MessageHandler) inboundContext(msg service.DIDCommMsgMap,
	env *transport.Envelope) (*service.InboundContext, error) {
	ictx := &service.InboundContext{SenderKey: env.FromKey}

	for _, k := range env.ToKeys {
		if handler.kms.Has(k) {
			ictx.RecipientKey = k

			break
		}
	}

	if ictx.RecipientKey == "" && len(env.ToKeys) > 0 {
		ictx.RecipientKey = env.ToKeys[0]
	}

	decorators := struct {
		Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
		Service   *decorator.Service     `json:"~service,omitempty"`
	}{}

	if err := msg.Decode(&decorators); err != nil {
		return nil, fmt.Errorf("decode decorators of message %s: %w", msg.ID(), err)
	}

	if decorators.Transport != nil {
		v := decorators.Transport.Value
		ictx.ReturnRoute = v == decorator.TransportReturnRouteAll || v == decorator.TransportReturnRouteThread
	}

	if decorators.Service != nil {
		dest, err := serviceDestination(decorators.Service)
		if err != nil {
			return nil, err
		}

		ictx.Services = []*service.Destination{dest}
	}

	if ictx.SenderKey == "" {
		return ictx, nil
	}

	connectionID, err := handler.connectionID(ictx.SenderKey, ictx.RecipientKey)
	if err != nil {
		return nil, err
	}

	ictx.ConnectionID = connectionID

	return ictx, nil
}

// connectionID returns the connection whose other agent owns senderKey. Store errors are retried; a message
// from an unknown key belongs to no connection.
func (handler *MessageHandler) connectionID(senderKey, recipientKey string) (string, error) {
	var id string

	err := backoff.Retry(func() error {
		conns, err := handler.connections.FindByTheirKey(senderKey, recipientKey)
		if err != nil {
			return err
		}

		if len(conns) == 0 {
			conns, err = handler.connections.FindByTheirKey(senderKey, "")
			if err != nil {
				return err
			}
		}

		if len(conns) > 0 {
			id = conns[0].ConnectionID
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(handler.lookupBackOff), handler.lookupMaxRetries))
	if err != nil {
		return "", fmt.Errorf("find connection of key %s: %w", senderKey, err)
	}

	return id, nil
}

func (handler *MessageHandler) packReply(out *service.OutboundMessage,
	ictx *service.InboundContext) ([]byte, error) {
	fromKey := out.SenderKey

	if fromKey == "" && out.ConnectionID != "" {
		conn, err := handler.connections.Get(out.ConnectionID)
		if err != nil {
			return nil, err
		}

		fromKey = conn.MyRecipientKey
	}

	if fromKey == "" {
		fromKey = ictx.RecipientKey
	}

	raw, err := json.Marshal(out.Msg)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	return handler.packager.PackMessage(&transport.Envelope{
		Message: raw,
		FromKey: fromKey,
		ToKeys:  []string{ictx.SenderKey},
	})
}

func serviceDestination(s *decorator.Service) (*service.Destination, error) {
	dest := &service.Destination{ServiceEndpoint: s.ServiceEndpoint}

	for _, k := range s.RecipientKeys {
		key, err := keyutil.DIDKeyFromVerKey(k)
		if err != nil {
			return nil, fmt.Errorf("~service recipient key: %w", err)
		}

		dest.RecipientKeys = append(dest.RecipientKeys, key)
	}

	for _, k := range s.RoutingKeys {
		key, err := keyutil.DIDKeyFromVerKey(k)
		if err != nil {
			return nil, fmt.Errorf("~service routing key: %w", err)
		}

		dest.RoutingKeys = append(dest.RoutingKeys, key)
	}

	return dest, nil
}
