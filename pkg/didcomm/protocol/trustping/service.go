/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package trustping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

var logger = log.New("aries-framework/trustping")

// KindPingResponse is the waiter kind fulfilled by ping responses, keyed by the ping's id.
const KindPingResponse waiter.Kind = "trustping-response"

// DefaultPingTimeout bounds Ping when no timeout is given.
const DefaultPingTimeout = 10 * time.Second

// Provider contains dependencies for the trust ping service.
type Provider interface {
	OutboundDispatcher() dispatcher.Outbound
	ConnectionService() *connection.Service
	OutOfBandService() *outofband.Service
	Waiters() *waiter.Hub
}

// Service for the trust ping protocol. A ping on a Connections handshake the responder answered completes it.
type Service struct {
	outbound    dispatcher.Outbound
	connections *connection.Service
	oob         *outofband.Service
	waiters     *waiter.Hub
}

// New returns the trust ping service.
func New(p Provider) *Service {
	return &Service{
		outbound:    p.OutboundDispatcher(),
		connections: p.ConnectionService(),
		oob:         p.OutOfBandService(),
		waiters:     p.Waiters(),
	}
}

// Name returns the protocol name.
func (s *Service) Name() string {
	return Name
}

// SupportedMessageTypes returns the message types handled by the service.
func (s *Service) SupportedMessageTypes() []string {
	return []string{PingMsgType, PingResponseMsgType}
}

// HandleInbound processes pings and ping responses.
func (s *Service) HandleInbound(_ context.Context, msg service.DIDCommMsgMap,
	ictx *service.InboundContext) (*service.OutboundMessage, error) {
	if ictx == nil {
		ictx = &service.InboundContext{}
	}

	switch {
	case isType(msg.Type(), PingMsgType):
		return s.handlePing(msg, ictx)
	case isType(msg.Type(), PingResponseMsgType):
		thid, err := msg.ThreadID()
		if err != nil {
			return nil, fmt.Errorf("ping response: %w", err)
		}

		s.waiters.Fulfil(waiter.Key{Kind: KindPingResponse, ID: thid}, msg)

		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.Type())
	}
}

func (s *Service) handlePing(msg service.DIDCommMsgMap, ictx *service.InboundContext) (*service.OutboundMessage,
	error) {
	ping := &Ping{}
	if err := msg.Decode(ping); err != nil {
		return nil, err
	}

	if ictx.ConnectionID != "" {
		if err := s.completeHandshake(ictx.ConnectionID, msg); err != nil {
			return nil, fmt.Errorf("ping %s on connection %s: %w", msg.ID(), ictx.ConnectionID, err)
		}
	}

	if !ping.ResponseRequested {
		return nil, nil
	}

	if ictx.ConnectionID == "" {
		return nil, fmt.Errorf("%w: ping %s asks for a response outside a connection",
			connection.ErrConnectionNotFound, msg.ID())
	}

	return &service.OutboundMessage{
		Msg: service.NewDIDCommMsgMap(&PingResponse{
			Type:   PingResponseMsgType,
			ID:     uuid.New().String(),
			Thread: &decorator.Thread{ID: msg.ID()},
		}),
		ConnectionID: ictx.ConnectionID,
	}, nil
}

// completeHandshake moves a Connections responder waiting for the requester's first message to completed.
func (s *Service) completeHandshake(connectionID string, msg service.DIDCommMsgMap) error {
	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return err
	}

	if conn.Role != connstore.RoleResponder || conn.State != connstore.StateResponded ||
		conn.Protocol != outofband.ConnectionsProtocol {
		return nil
	}

	if _, err := s.connections.Transition(conn.ConnectionID, []connstore.State{connstore.StateResponded},
		connstore.StateCompleted, msg, nil); err != nil {
		return err
	}

	if conn.OutOfBandID == "" || s.oob == nil {
		return nil
	}

	if _, err := s.oob.CompleteHandshake(conn.OutOfBandID); err != nil {
		logger.Warnf("complete handshake of invitation record %s: %v", conn.OutOfBandID, err)
	}

	return nil
}

// Ping sends a ping on the connection and waits for the response.
func (s *Service) Ping(ctx context.Context, connectionID string, timeout time.Duration) (time.Duration, error) {
	if _, err := s.connections.Get(connectionID); err != nil {
		return 0, err
	}

	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}

	ping := &Ping{Type: PingMsgType, ID: uuid.New().String(), ResponseRequested: true}

	w := s.waiters.Register(waiter.Key{Kind: KindPingResponse, ID: ping.ID}, nil)
	defer w.Cancel()

	start := time.Now()

	err := s.outbound.Send(ctx, &service.OutboundMessage{
		Msg:          service.NewDIDCommMsgMap(ping),
		ConnectionID: connectionID,
	})
	if err != nil {
		return 0, fmt.Errorf("send ping on connection %s: %w", connectionID, err)
	}

	if _, err := w.Wait(ctx, timeout); err != nil {
		return 0, fmt.Errorf("ping on connection %s: %w", connectionID, err)
	}

	return time.Since(start), nil
}

// NewPing returns a ping that asks for no response.
func NewPing() service.DIDCommMsgMap {
	return service.NewDIDCommMsgMap(&Ping{Type: PingMsgType, ID: uuid.New().String()})
}

func isType(incoming, local string) bool {
	l, err := didcommtype.ParseMessageType(local)
	if err != nil {
		return false
	}

	in, err := didcommtype.ParseMessageType(incoming)
	if err != nil {
		return false
	}

	return l.Supports(in)
}
