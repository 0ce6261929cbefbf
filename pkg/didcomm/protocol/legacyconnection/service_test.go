/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacyconnection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/didexchange"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/trustping"
	dispatchermocks "github.com/hyperledger/aries-handshake-go/pkg/internal/gomocks/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

func TestService_Handshake(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com", true)
	bob := newAgent(t, ctrl, "http://bob.example.com", true)

	rec, legacy, err := alice.oob.CreateLegacyInvitation(context.Background(),
		&outofband.CreateLegacyInvitationConfig{Label: "alice"})
	require.NoError(t, err)
	require.Len(t, legacy.RecipientKeys, 1)

	inv, err := outofband.ConvertToNewInvitation(legacy)
	require.NoError(t, err)

	res, err := bob.oob.ReceiveInvitation(context.Background(), inv, &outofband.ReceiveInvitationConfig{Label: "bob"})
	require.NoError(t, err)

	bobConn := res.Connection
	require.Equal(t, connstore.StateRequested, bobConn.State)
	require.Equal(t, PIURI, bobConn.Protocol)
	require.Equal(t, legacy.ID, bobConn.ParentThreadID)

	request := bob.sent(t, 0)
	require.Equal(t, RequestMsgType, request.Msg.Type())
	require.Equal(t, legacy.ServiceEndpoint, request.Destinations[0].ServiceEndpoint)
	require.Equal(t, legacy.ID, request.Msg.ParentThreadID())
	require.Equal(t, bobConn.MyDID, request.Msg["connection"].(map[string]interface{})["DID"])

	invitationKey := request.Destinations[0].RecipientKeys[0]

	out, err := alice.svc.HandleInbound(context.Background(), request.Msg, &service.InboundContext{
		SenderKey:    request.SenderKey,
		RecipientKey: invitationKey,
	})
	require.NoError(t, err)
	require.Equal(t, ResponseMsgType, out.Msg.Type())

	aliceConn, err := alice.conns.Get(out.ConnectionID)
	require.NoError(t, err)
	require.Equal(t, connstore.StateResponded, aliceConn.State)
	require.Equal(t, bobConn.MyDID, aliceConn.TheirDID)
	require.Equal(t, invitationKey, aliceConn.InvitationKey)
	require.Equal(t, "bob", aliceConn.TheirLabel)

	response := &Response{}
	require.NoError(t, out.Msg.Decode(response))
	require.Equal(t, SignatureType, response.ConnectionSignature.Type)
	require.Equal(t, legacy.RecipientKeys[0], response.ConnectionSignature.SignVerKey)
	require.Equal(t, []string{PlsAckOnReceipt}, response.PleaseAck.On)
	require.Equal(t, bobConn.ThreadID, response.Thread.ID)

	responseCtx := &service.InboundContext{SenderKey: aliceConn.MyRecipientKey, RecipientKey: bobConn.MyRecipientKey}

	t.Run("tampered signature is rejected", func(t *testing.T) {
		tampered := out.Msg.Clone()
		tampered["connection~sig"] = map[string]interface{}{
			"@type":     SignatureType,
			"signature": base64.URLEncoding.EncodeToString(make([]byte, 64)),
			"sig_data":  response.ConnectionSignature.SignedData,
			"signer":    response.ConnectionSignature.SignVerKey,
		}

		_, err := bob.svc.HandleInbound(context.Background(), tampered, responseCtx)
		require.True(t, errors.Is(err, connection.ErrKeyMismatch), err)

		got, err := bob.conns.Get(bobConn.ConnectionID)
		require.NoError(t, err)
		require.Equal(t, connstore.StateRequested, got.State)
	})

	t.Run("signature by another key is rejected", func(t *testing.T) {
		other, _, err := alice.kms.Create()
		require.NoError(t, err)

		sig, err := signConnection(alice.kms, &Connection{DID: aliceConn.MyDID}, other)
		require.NoError(t, err)

		forged := out.Msg.Clone()
		forged["connection~sig"] = map[string]interface{}(service.NewDIDCommMsgMap(sig))

		_, err = bob.svc.HandleInbound(context.Background(), forged, responseCtx)
		require.True(t, errors.Is(err, connection.ErrKeyMismatch), err)
	})

	ping, err := bob.svc.HandleInbound(context.Background(), out.Msg, responseCtx)
	require.NoError(t, err)
	require.Equal(t, trustping.PingMsgType, ping.Msg.Type())
	require.True(t, ping.NoReturnRoute)

	bobConn, err = bob.conns.Get(bobConn.ConnectionID)
	require.NoError(t, err)
	require.Equal(t, connstore.StateCompleted, bobConn.State)
	require.Equal(t, aliceConn.MyDID, bobConn.TheirDID)

	bobOOB, err := bob.oob.FindByID(res.Record.ID)
	require.NoError(t, err)
	require.Equal(t, outofband.StateDone, bobOOB.State)

	_, err = alice.ping.HandleInbound(context.Background(), ping.Msg,
		&service.InboundContext{ConnectionID: aliceConn.ConnectionID})
	require.NoError(t, err)

	aliceConn, err = alice.conns.Get(aliceConn.ConnectionID)
	require.NoError(t, err)
	require.Equal(t, connstore.StateCompleted, aliceConn.State)

	aliceOOB, err := alice.oob.FindByID(rec.ID)
	require.NoError(t, err)
	require.Equal(t, outofband.StateDone, aliceOOB.State)
}

func TestService_RequestWithoutParentThread(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com", true)
	bob := newAgent(t, ctrl, "http://bob.example.com", true)

	_, legacy, err := alice.oob.CreateLegacyInvitation(context.Background(), &outofband.CreateLegacyInvitationConfig{})
	require.NoError(t, err)

	inv, err := outofband.ConvertToNewInvitation(legacy)
	require.NoError(t, err)

	invitationKey := inv.Services[0].Inline.RecipientKeys[0]

	t.Run("matched by the invitation key", func(t *testing.T) {
		out, err := alice.svc.HandleInbound(context.Background(), newRequest(t, bob, ""),
			&service.InboundContext{RecipientKey: invitationKey})
		require.NoError(t, err)
		require.Equal(t, ResponseMsgType, out.Msg.Type())
	})

	t.Run("unknown key", func(t *testing.T) {
		other, _, err := bob.kms.Create()
		require.NoError(t, err)

		_, err = alice.svc.HandleInbound(context.Background(), newRequest(t, bob, ""),
			&service.InboundContext{RecipientKey: other})
		require.True(t, errors.Is(err, connection.ErrConnectionNotFound), err)
	})

	t.Run("no key at all", func(t *testing.T) {
		_, err := alice.svc.HandleInbound(context.Background(), newRequest(t, bob, ""), &service.InboundContext{})
		require.True(t, errors.Is(err, connection.ErrMissingParentThread), err)
	})
}

func TestService_ManualAcceptAndAck(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com", false)
	bob := newAgent(t, ctrl, "http://bob.example.com", false)

	rec, legacy, err := alice.oob.CreateLegacyInvitation(context.Background(), &outofband.CreateLegacyInvitationConfig{})
	require.NoError(t, err)

	inv, err := outofband.ConvertToNewInvitation(legacy)
	require.NoError(t, err)

	manual := false

	res, err := bob.oob.ReceiveInvitation(context.Background(), inv,
		&outofband.ReceiveInvitationConfig{AutoAcceptConnection: &manual})
	require.NoError(t, err)

	request := bob.sent(t, 0)

	out, err := alice.svc.HandleInbound(context.Background(), request.Msg,
		&service.InboundContext{RecipientKey: request.Destinations[0].RecipientKeys[0]})
	require.NoError(t, err)
	require.Nil(t, out)

	conns, err := alice.conns.FindAllByOutOfBandID(rec.ID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, connstore.StateRequested, conns[0].State)

	require.NoError(t, alice.svc.AcceptConnectionRequest(context.Background(), conns[0].ConnectionID))

	response := alice.sent(t, 0)
	require.Equal(t, ResponseMsgType, response.Msg.Type())

	aliceConn, err := alice.conns.Get(conns[0].ConnectionID)
	require.NoError(t, err)
	require.Equal(t, connstore.StateResponded, aliceConn.State)

	out, err = bob.svc.HandleInbound(context.Background(), response.Msg, &service.InboundContext{
		SenderKey: aliceConn.MyRecipientKey, RecipientKey: res.Connection.MyRecipientKey,
	})
	require.NoError(t, err)
	require.Nil(t, out)

	require.NoError(t, bob.svc.AcceptConnectionResponse(context.Background(), res.Connection.ConnectionID))
	require.Equal(t, trustping.PingMsgType, bob.sent(t, 1).Msg.Type())

	t.Run("accept on the wrong role", func(t *testing.T) {
		err := bob.svc.AcceptConnectionRequest(context.Background(), res.Connection.ConnectionID)
		require.True(t, errors.Is(err, connection.ErrInvalidState))

		err = alice.svc.AcceptConnectionResponse(context.Background(), aliceConn.ConnectionID)
		require.True(t, errors.Is(err, connection.ErrInvalidState))
	})

	ack := service.DIDCommMsgMap{
		"@id":     uuid.New().String(),
		"@type":   AckMsgType,
		"status":  "OK",
		"~thread": map[string]interface{}{"thid": aliceConn.ThreadID},
	}

	_, err = alice.svc.HandleInbound(context.Background(), ack, nil)
	require.NoError(t, err)

	aliceConn, err = alice.conns.Get(aliceConn.ConnectionID)
	require.NoError(t, err)
	require.Equal(t, connstore.StateCompleted, aliceConn.State)

	_, err = alice.svc.HandleInbound(context.Background(), ack, nil)
	require.True(t, errors.Is(err, connection.ErrInvalidState), err)
}

func TestService_HandleInboundErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com", true)
	bob := newAgent(t, ctrl, "http://bob.example.com", true)

	t.Run("request for an unknown invitation", func(t *testing.T) {
		_, err := alice.svc.HandleInbound(context.Background(), newRequest(t, bob, uuid.New().String()), nil)
		require.True(t, errors.Is(err, connection.ErrConnectionNotFound), err)
	})

	t.Run("request without connection", func(t *testing.T) {
		_, err := alice.svc.HandleInbound(context.Background(), service.DIDCommMsgMap{
			"@id": uuid.New().String(), "@type": RequestMsgType, "label": "bob",
		}, nil)
		require.Error(t, err)
	})

	t.Run("request for a did-exchange invitation", func(t *testing.T) {
		rec, err := alice.oob.CreateInvitation(context.Background(), &outofband.CreateInvitationConfig{
			HandshakeProtocols: []string{outofband.DIDExchangeProtocol},
		})
		require.NoError(t, err)

		_, err = alice.svc.HandleInbound(context.Background(), newRequest(t, bob, rec.Invitation.ID), nil)
		require.True(t, errors.Is(err, connection.ErrProtocolMismatch), err)
	})

	t.Run("response on an unknown thread", func(t *testing.T) {
		_, err := bob.svc.HandleInbound(context.Background(), service.DIDCommMsgMap{
			"@id": uuid.New().String(), "@type": ResponseMsgType,
		}, &service.InboundContext{SenderKey: "a", RecipientKey: "b"})
		require.True(t, errors.Is(err, connection.ErrConnectionNotFound), err)
	})

	t.Run("ack on a did-exchange connection", func(t *testing.T) {
		conn := &connstore.Record{
			ConnectionID: uuid.New().String(),
			State:        connstore.StateResponded,
			Role:         connstore.RoleResponder,
			Protocol:     outofband.DIDExchangeProtocol,
			ThreadID:     uuid.New().String(),
		}
		require.NoError(t, alice.conns.Create(conn, nil))

		_, err := alice.svc.HandleInbound(context.Background(), service.DIDCommMsgMap{
			"@id":     uuid.New().String(),
			"@type":   AckMsgType,
			"~thread": map[string]interface{}{"thid": conn.ThreadID},
		}, nil)
		require.True(t, errors.Is(err, connection.ErrProtocolMismatch), err)
	})

	t.Run("problem report abandons", func(t *testing.T) {
		conn := &connstore.Record{
			ConnectionID: uuid.New().String(),
			State:        connstore.StateRequested,
			Role:         connstore.RoleRequester,
			Protocol:     PIURI,
			ThreadID:     uuid.New().String(),
		}
		require.NoError(t, bob.conns.Create(conn, nil))

		_, err := bob.svc.HandleInbound(context.Background(), service.DIDCommMsgMap{
			"@id":         uuid.New().String(),
			"@type":       ProblemReportMsgType,
			"~thread":     map[string]interface{}{"thid": conn.ThreadID},
			"description": map[string]interface{}{"code": "request_not_accepted"},
		}, nil)
		require.NoError(t, err)

		got, err := bob.conns.Get(conn.ConnectionID)
		require.NoError(t, err)
		require.Equal(t, connstore.StateAbandoned, got.State)
		require.Equal(t, "request_not_accepted", got.ErrorMessage)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := alice.svc.HandleInbound(context.Background(), service.DIDCommMsgMap{
			"@id": "x", "@type": PIURI + "/unknown",
		}, nil)
		require.Error(t, err)
	})
}

func TestNewConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com", true)
	bob := newAgent(t, ctrl, "http://bob.example.com", true)

	routing, err := bob.svc.routing.GetRouting("")
	require.NoError(t, err)

	my, err := connection.CreateMyDID(bob.svc.vdRegistry, routing, "", vdrapi.LegacyServiceType)
	require.NoError(t, err)

	body, err := newConnection(my.Doc, true)
	require.NoError(t, err)
	require.Equal(t, my.Doc.ID, body.DID)

	raw := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(body.DIDDoc, &raw))
	require.Equal(t, did.ContextV1Old, raw["@context"])
	require.Contains(t, raw, "publicKey")

	t.Run("legacy document resolves on the other side", func(t *testing.T) {
		their, err := connection.TheirDID(alice.svc.vdRegistry, body.DID, theirDocAttachment(body))
		require.NoError(t, err)
		require.Equal(t, my.Doc.ID, their.DID)
		require.Len(t, their.Services, 1)
		require.Equal(t, "http://bob.example.com", their.Services[0].ServiceEndpoint)
		require.Equal(t, []string{routing.RecipientKey}, their.Services[0].RecipientKeys)

		_, err = alice.svc.vdRegistry.ResolveDIDDocument(body.DID)
		require.True(t, errors.Is(err, vdr.ErrNotFound), err)

		require.NoError(t, their.Save(alice.svc.vdRegistry))

		resolved, err := alice.svc.vdRegistry.ResolveDIDDocument(body.DID)
		require.NoError(t, err)
		require.Equal(t, []string{routing.RecipientKey}, resolved.RecipientKeys)
	})

	t.Run("without document", func(t *testing.T) {
		body, err := newConnection(my.Doc, false)
		require.NoError(t, err)
		require.Empty(t, body.DIDDoc)
		require.Nil(t, theirDocAttachment(body))
	})
}

func TestVerifyConnection(t *testing.T) {
	km, err := kms.New(mem.NewProvider())
	require.NoError(t, err)

	key, _, err := km.Create()
	require.NoError(t, err)

	sig, err := signConnection(km, &Connection{DID: "did:peer:abc"}, key)
	require.NoError(t, err)

	conn, err := verifyConnection(km, sig, key)
	require.NoError(t, err)
	require.Equal(t, "did:peer:abc", conn.DID)

	t.Run("missing", func(t *testing.T) {
		_, err := verifyConnection(km, nil, key)
		require.Error(t, err)
	})

	t.Run("short data", func(t *testing.T) {
		_, err := verifyConnection(km, &decorator.Signature{Signature: sig.Signature,
			SignedData: base64.URLEncoding.EncodeToString([]byte("1234"))}, key)
		require.EqualError(t, err, "missing or invalid signature data")
	})

	t.Run("bad encoding", func(t *testing.T) {
		_, err := verifyConnection(km, &decorator.Signature{Signature: sig.Signature, SignedData: "%%%"}, key)
		require.Error(t, err)
	})
}

type agent struct {
	svc   *Service
	ping  *trustping.Service
	oob   *outofband.Service
	conns *connection.Service
	kms   *kms.LocalKMS

	mu       sync.Mutex
	messages []*service.OutboundMessage
}

func (a *agent) sent(t *testing.T, i int) *service.OutboundMessage {
	t.Helper()

	a.mu.Lock()
	defer a.mu.Unlock()

	require.Greater(t, len(a.messages), i)

	return a.messages[i]
}

func newAgent(t *testing.T, ctrl *gomock.Controller, endpoint string, autoAccept bool) *agent {
	t.Helper()

	store := mem.NewProvider()

	km, err := kms.New(store)
	require.NoError(t, err)

	vdRegistry, err := vdr.New(store)
	require.NoError(t, err)

	a := &agent{kms: km}

	outbound := dispatchermocks.NewMockOutbound(ctrl)
	outbound.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *service.OutboundMessage) error {
			a.mu.Lock()
			defer a.mu.Unlock()

			a.messages = append(a.messages, msg)

			return nil
		}).AnyTimes()

	p := &testProvider{
		store:      store,
		registry:   dispatcher.NewRegistry(),
		inbound:    dispatchermocks.NewMockInbound(ctrl),
		outbound:   outbound,
		vdr:        vdRegistry,
		kms:        km,
		routing:    mediator.NewService(km, endpoint, nil),
		waiters:    waiter.New(),
		autoAccept: autoAccept,
	}

	p.conns, err = connection.New(p)
	require.NoError(t, err)

	p.oob, err = outofband.New(p)
	require.NoError(t, err)

	svc, err := New(p)
	require.NoError(t, err)

	didExchange, err := didexchange.New(p)
	require.NoError(t, err)

	a.ping = trustping.New(p)

	require.NoError(t, p.registry.RegisterHandler(svc))
	require.NoError(t, p.registry.RegisterHandler(didExchange))
	require.NoError(t, p.registry.RegisterHandler(a.ping))
	require.NoError(t, p.registry.RegisterHandler(p.oob))

	a.svc = svc
	a.oob = p.oob
	a.conns = p.conns

	return a
}

func newRequest(t *testing.T, from *agent, pthid string) service.DIDCommMsgMap {
	t.Helper()

	routing, err := from.svc.routing.GetRouting("")
	require.NoError(t, err)

	my, err := connection.CreateMyDID(from.svc.vdRegistry, routing, "", vdrapi.LegacyServiceType)
	require.NoError(t, err)

	body, err := newConnection(my.Doc, true)
	require.NoError(t, err)

	msg := service.NewDIDCommMsgMap(&Request{
		Type:       RequestMsgType,
		ID:         uuid.New().String(),
		Label:      "bob",
		Connection: body,
	})
	msg.SetThread("", pthid)

	return msg
}

type testProvider struct {
	store      storage.Provider
	registry   *dispatcher.Registry
	inbound    dispatcher.Inbound
	outbound   dispatcher.Outbound
	vdr        vdr.DIDRegistry
	kms        kms.KeyManager
	routing    mediator.RoutingService
	conns      *connection.Service
	oob        *outofband.Service
	waiters    *waiter.Hub
	autoAccept bool
}

func (p *testProvider) StorageProvider() storage.Provider { return p.store }
func (p *testProvider) MessageRegistry() *dispatcher.Registry { return p.registry }
func (p *testProvider) OutboundDispatcher() dispatcher.Outbound { return p.outbound }
func (p *testProvider) InboundDispatcher() dispatcher.Inbound { return p.inbound }
func (p *testProvider) VDRegistry() vdr.DIDRegistry { return p.vdr }
func (p *testProvider) KMS() kms.KeyManager { return p.kms }
func (p *testProvider) RoutingService() mediator.RoutingService { return p.routing }
func (p *testProvider) ConnectionService() *connection.Service { return p.conns }
func (p *testProvider) OutOfBandService() *outofband.Service { return p.oob }
func (p *testProvider) Waiters() *waiter.Hub { return p.waiters }
func (p *testProvider) AutoAcceptConnections() bool { return p.autoAccept }
func (p *testProvider) Label() string { return "agent" }
