/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/mediator"
	dispatchermocks "github.com/hyperledger/aries-handshake-go/pkg/internal/gomocks/didcomm/dispatcher"
	mediatormocks "github.com/hyperledger/aries-handshake-go/pkg/internal/gomocks/didcomm/protocol/mediator"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/waiter"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/vdr"
)

const pingMsgType = "https://didcomm.org/trust_ping/1.0/ping"

func TestService_CreateInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")

	t.Run("defaults to every supported handshake protocol", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{Label: "alice"})
		require.NoError(t, err)
		require.Equal(t, StateAwaitResponse, rec.State)
		require.Equal(t, RoleSender, rec.Role)
		require.False(t, rec.Reusable)
		require.Equal(t, []string{DIDExchangeProtocol, ConnectionsProtocol}, rec.Invitation.HandshakeProtocols)
		require.Len(t, rec.Invitation.Services, 1)

		svc := rec.Invitation.Services[0].Inline
		require.NotNil(t, svc)
		require.Equal(t, "#inline-0", svc.ID)
		require.Equal(t, "http://alice.example.com", svc.ServiceEndpoint)
		require.Len(t, svc.RecipientKeys, 1)
		require.Len(t, rec.RecipientKeyFingerprints, 1)

		found, err := alice.FindCreatedByRecipientKey(svc.RecipientKeys[0])
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, rec.ID, found[0].ID)
	})

	t.Run("keeps the caller's protocol order", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			HandshakeProtocols: []string{"https://didcomm.org/connections/1.x", DIDExchangeProtocol},
		})
		require.NoError(t, err)
		require.Equal(t, []string{ConnectionsProtocol, DIDExchangeProtocol}, rec.Invitation.HandshakeProtocols)
	})

	t.Run("uses the given invitation DID as only service", func(t *testing.T) {
		didKey, _, err := alice.kms.Create()
		require.NoError(t, err)

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{InvitationDID: didKey})
		require.NoError(t, err)
		require.Equal(t, []string{didKey}, rec.Invitation.DIDServices())
		require.Empty(t, rec.Invitation.InlineServices())
	})

	t.Run("strips ~service from attached messages", func(t *testing.T) {
		handshake := false

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			Handshake: &handshake,
			Messages: []service.DIDCommMsgMap{{
				"@id":      "ping-strip",
				"@type":    pingMsgType,
				"~service": map[string]interface{}{"serviceEndpoint": "http://x"},
			}},
		})
		require.NoError(t, err)

		msgs, err := rec.Invitation.RequestMessages()
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NotContains(t, msgs[0], "~service")
	})

	handshake := false
	tests := []struct {
		name string
		cfg  *CreateInvitationConfig
	}{
		{
			name: "neither handshake nor messages",
			cfg:  &CreateInvitationConfig{Handshake: &handshake},
		},
		{
			name: "handshake protocols without handshake",
			cfg: &CreateInvitationConfig{
				Handshake:          &handshake,
				HandshakeProtocols: []string{DIDExchangeProtocol},
				Messages:           []service.DIDCommMsgMap{newPing()},
			},
		},
		{
			name: "messages on a multi-use invitation",
			cfg: &CreateInvitationConfig{
				MultiUseInvitation: true,
				Messages:           []service.DIDCommMsgMap{newPing()},
			},
		},
		{
			name: "routing together with invitation DID",
			cfg: &CreateInvitationConfig{
				InvitationDID: "did:example:123",
				Routing:       &mediator.Routing{Endpoint: "http://x"},
			},
		},
		{
			name: "unsupported handshake protocol",
			cfg: &CreateInvitationConfig{
				HandshakeProtocols: []string{DIDExchangeProtocol, "https://didcomm.org/unknown/1.0"},
			},
		},
		{
			name: "unsupported major version",
			cfg: &CreateInvitationConfig{
				HandshakeProtocols: []string{"https://didcomm.org/didexchange/2.0"},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run("rejects "+tc.name, func(t *testing.T) {
			_, err := alice.CreateInvitation(context.Background(), tc.cfg)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidInvitation), err)
		})
	}
}

func TestService_CreateLegacyInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")
	bob := newAgent(t, ctrl, "http://bob.example.com")

	rec, legacy, err := alice.CreateLegacyInvitation(context.Background(), &CreateLegacyInvitationConfig{Label: "alice"})
	require.NoError(t, err)
	require.True(t, rec.IsLegacy())
	require.Equal(t, InvitationTypeConnection, rec.Metadata.LegacyInvitation.Type)
	require.Equal(t, []string{ConnectionsProtocol}, rec.Invitation.HandshakeProtocols)
	require.Equal(t, "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/connections/1.0/invitation", legacy.Type)
	require.Len(t, legacy.RecipientKeys, 1)
	require.NotContains(t, legacy.RecipientKeys[0], "did:key")
	require.Equal(t, "http://alice.example.com", legacy.ServiceEndpoint)

	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	inv, err := ParseInvitation(raw)
	require.NoError(t, err)
	require.Equal(t, InvitationTypeConnection, inv.InvitationType)
	require.Equal(t, rec.Invitation.InvitationDID(), inv.InvitationDID())

	autoAccept := false

	res, err := bob.ReceiveInvitation(context.Background(), inv, &ReceiveInvitationConfig{
		AutoAcceptInvitation: &autoAccept,
	})
	require.NoError(t, err)
	require.True(t, res.Record.IsLegacy())
	require.Equal(t, StateInitial, res.Record.State)
}

// An invitation without handshake carrying one request: the receiver emits the request locally with the
// invitation id as parent thread id.
func TestService_ConnectionlessInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")
	bob := newAgent(t, ctrl, "http://bob.example.com")

	handshake := false

	rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
		InvitationID: "inv-1",
		Handshake:    &handshake,
		Messages:     []service.DIDCommMsgMap{newPing()},
	})
	require.NoError(t, err)
	require.Equal(t, StateAwaitResponse, rec.State)
	require.False(t, rec.Reusable)
	require.True(t, rec.IsConnectionless())

	inv := roundTrip(t, rec.Invitation)

	var emitted service.DIDCommMsgMap

	bob.inbound.EXPECT().HandleInboundMessage(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg service.DIDCommMsgMap, ictx *service.InboundContext) error {
			emitted = msg
			require.Empty(t, ictx.ConnectionID)
			require.Len(t, ictx.Services, 1)
			require.Equal(t, "http://alice.example.com", ictx.Services[0].ServiceEndpoint)
			require.Equal(t, rec.Invitation.Services[0].Inline.RecipientKeys[0], ictx.SenderKey)
			require.NotEmpty(t, ictx.RecipientKey)

			return nil
		}).Times(1)

	res, err := bob.ReceiveInvitation(context.Background(), inv, nil)
	require.NoError(t, err)
	require.Nil(t, res.Connection)
	require.Equal(t, StateDone, res.Record.State)
	require.Equal(t, "inv-1", emitted.ParentThreadID())
	require.Equal(t, pingMsgType, emitted.Type())

	t.Run("a reply settles the sender record", func(t *testing.T) {
		reply := service.DIDCommMsgMap{
			"@id":     uuid.New().String(),
			"@type":   "https://didcomm.org/trust_ping/1.0/ping_response",
			"~thread": map[string]interface{}{"thid": emitted.ID(), "pthid": "inv-1"},
		}

		matched, err := alice.MatchIncomingMessage(reply)
		require.NoError(t, err)
		require.Equal(t, rec.ID, matched.ID)
		require.Equal(t, StateDone, matched.State)
	})
}

func TestService_ReceiveInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")
	bob := newAgent(t, ctrl, "http://bob.example.com")

	t.Run("rejects a duplicate invitation", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
		require.NoError(t, err)

		autoAccept := false
		cfg := &ReceiveInvitationConfig{AutoAcceptInvitation: &autoAccept}

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation), cfg)
		require.NoError(t, err)
		require.Equal(t, rec.Invitation.ID, res.Record.ID)

		_, err = bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation), cfg)
		require.True(t, errors.Is(err, ErrDuplicateInvitation), err)

		records, err := bob.FindAll(Query{Role: RoleReceiver, InvitationID: rec.Invitation.ID})
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("keeps routing for a pending response", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
		require.NoError(t, err)

		autoAccept := false
		routing := &mediator.Routing{Endpoint: "http://mediator.example.com", RecipientKey: newDIDKey(t),
			RoutingKeys: []string{newDIDKey(t)}, MediatorID: "m1"}

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation),
			&ReceiveInvitationConfig{AutoAcceptInvitation: &autoAccept, Routing: routing})
		require.NoError(t, err)
		require.NotNil(t, res.Record.Metadata.RecipientRouting)
		require.Equal(t, routing.RecipientKey, res.Record.Metadata.RecipientRouting.RecipientKey)
		require.Equal(t, "m1", res.Record.MediatorID)

		res2, err := bob.AcceptInvitation(context.Background(), res.Record.ID, nil)
		require.NoError(t, err)
		require.NotNil(t, res2.Connection)
		require.Equal(t, routing.RecipientKey, bob.didexchange.lastRouting().RecipientKey)
	})

	t.Run("keeps the recipient keys of a public DID service", func(t *testing.T) {
		didKey, _, err := alice.kms.Create()
		require.NoError(t, err)

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{InvitationDID: didKey})
		require.NoError(t, err)
		require.NotEmpty(t, rec.RecipientKeyFingerprints)

		autoAccept := false

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation),
			&ReceiveInvitationConfig{AutoAcceptInvitation: &autoAccept})
		require.NoError(t, err)
		require.Equal(t, rec.RecipientKeyFingerprints, res.Record.RecipientKeyFingerprints)
	})

	t.Run("rejects an unresolvable public DID service", func(t *testing.T) {
		inv := &Invitation{
			ID:                 uuid.New().String(),
			Type:               InvitationMsgType,
			HandshakeProtocols: []string{DIDExchangeProtocol},
			Services:           []ServiceEntry{{DID: "did:example:unknown"}},
		}

		_, err := bob.ReceiveInvitation(context.Background(), inv, nil)
		require.True(t, errors.Is(err, ErrInvalidInvitation), err)

		records, err := bob.FindAll(Query{Role: RoleReceiver, InvitationID: inv.ID})
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("rejects an invalid invitation", func(t *testing.T) {
		_, err := bob.ReceiveInvitation(context.Background(), &Invitation{ID: "x", Type: InvitationMsgType}, nil)
		require.True(t, errors.Is(err, ErrInvalidInvitation))
	})

	t.Run("starts the first supported handshake", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			HandshakeProtocols: []string{ConnectionsProtocol, DIDExchangeProtocol},
		})
		require.NoError(t, err)

		before := bob.connections.count()

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation), nil)
		require.NoError(t, err)
		require.Equal(t, StateAwaitResponse, res.Record.State)
		require.Equal(t, ConnectionsProtocol, res.Connection.Protocol)
		require.Equal(t, rec.Invitation.InvitationDID(), res.Connection.InvitationDID)
		require.Equal(t, before+1, bob.connections.count())
	})

	t.Run("fails when no handshake protocol is supported", func(t *testing.T) {
		inv := &Invitation{
			ID:                 uuid.New().String(),
			Type:               InvitationMsgType,
			HandshakeProtocols: []string{"https://didcomm.org/unknown/1.0"},
			Services: []ServiceEntry{{Inline: &InlineService{
				ID: "#inline-0", RecipientKeys: []string{newDIDKey(t)}, ServiceEndpoint: "http://x",
			}}},
		}

		_, err := bob.ReceiveInvitation(context.Background(), inv, nil)
		require.True(t, errors.Is(err, ErrInvalidInvitation), err)
	})
}

func TestService_AcceptInvitation(t *testing.T) {
	t.Run("only one of two concurrent calls proceeds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
		require.NoError(t, err)

		autoAccept := false

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation),
			&ReceiveInvitationConfig{AutoAcceptInvitation: &autoAccept})
		require.NoError(t, err)

		var wg sync.WaitGroup

		errs := make([]error, 2)

		for i := 0; i < 2; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				_, errs[i] = bob.AcceptInvitation(context.Background(), res.Record.ID, nil)
			}(i)
		}

		wg.Wait()

		failed := 0

		for _, err := range errs {
			if err != nil {
				require.True(t, errors.Is(err, ErrInvalidState), err)

				failed++
			}
		}

		require.Equal(t, 1, failed)
		require.EqualValues(t, 1, atomic.LoadInt32(&bob.didexchange.calls))

		conns, err := bob.conns.FindAllByOutOfBandID(res.Record.ID)
		require.NoError(t, err)
		require.Len(t, conns, 1)
	})

	t.Run("rejects an unknown record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		bob := newAgent(t, ctrl, "http://bob.example.com")

		_, err := bob.AcceptInvitation(context.Background(), "unknown", nil)
		require.True(t, errors.Is(err, ErrRecordNotFound))
	})

	t.Run("handshake failure is surfaced", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")
		bob.didexchange.err = errors.New("handshake failed")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			HandshakeProtocols: []string{DIDExchangeProtocol},
		})
		require.NoError(t, err)

		_, err = bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation), nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "handshake failed")
	})

	t.Run("emits the attached request once the connection is ready", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			HandshakeProtocols: []string{DIDExchangeProtocol},
			Messages:           []service.DIDCommMsgMap{newPing()},
		})
		require.NoError(t, err)

		emitted := make(chan service.DIDCommMsgMap, 1)

		bob.inbound.EXPECT().HandleInboundMessage(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, msg service.DIDCommMsgMap, ictx *service.InboundContext) error {
				require.NotEmpty(t, ictx.ConnectionID)
				emitted <- msg

				return nil
			}).Times(1)

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation), nil)
		require.NoError(t, err)
		require.Equal(t, connstore.StateRequested, res.Connection.State)

		select {
		case <-emitted:
			t.Fatal("request emitted before the connection is ready")
		case <-time.After(50 * time.Millisecond):
		}

		_, err = bob.conns.Transition(res.Connection.ConnectionID, []connstore.State{connstore.StateRequested},
			connstore.StateCompleted, nil, nil)
		require.NoError(t, err)

		select {
		case msg := <-emitted:
			require.Equal(t, rec.Invitation.ID, msg.ParentThreadID())
		case <-time.After(2 * time.Second):
			t.Fatal("request was not emitted")
		}
	})

	t.Run("drops the attached request when the connection is not ready in time", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			Messages: []service.DIDCommMsgMap{newPing()},
		})
		require.NoError(t, err)

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation),
			&ReceiveInvitationConfig{AcceptInvitationTimeout: 20 * time.Millisecond})
		require.NoError(t, err)
		require.NotNil(t, res.Connection)

		require.Eventually(t, func() bool {
			return bob.waiters.Pending(waiter.Key{Kind: connection.KindReady, ID: res.Connection.ConnectionID}) == 0
		}, time.Second, 10*time.Millisecond)
	})
}

func TestService_ConnectionReuse(t *testing.T) {
	setup := func(t *testing.T) (*agent, *Invitation, *connstore.Record) {
		t.Helper()

		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
		require.NoError(t, err)

		existing := &connstore.Record{
			ConnectionID:       uuid.New().String(),
			State:              connstore.StateCompleted,
			Role:               connstore.RoleRequester,
			Protocol:           DIDExchangeProtocol,
			InvitationDID:      rec.Invitation.InvitationDID(),
			TheirRecipientKeys: []string{newDIDKey(t)},
			MyRecipientKey:     newDIDKey(t),
		}
		require.NoError(t, bob.conns.Create(existing, nil))

		return bob, roundTrip(t, rec.Invitation), existing
	}

	t.Run("reuses the connection when the other agent accepts", func(t *testing.T) {
		bob, inv, existing := setup(t)

		bob.outbound.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, out *service.OutboundMessage) error {
				require.Equal(t, existing.ConnectionID, out.ConnectionID)
				require.Equal(t, HandshakeReuseMsgType, out.Msg.Type())
				require.Equal(t, inv.ID, out.Msg.ParentThreadID())

				thid, err := out.Msg.ThreadID()
				require.NoError(t, err)

				_, err = bob.HandleInbound(ctx, service.DIDCommMsgMap{
					"@id":     uuid.New().String(),
					"@type":   HandshakeReuseAcceptedMsgType,
					"~thread": map[string]interface{}{"thid": thid, "pthid": inv.ID},
				}, &service.InboundContext{ConnectionID: existing.ConnectionID})

				return err
			}).Times(1)

		res, err := bob.ReceiveInvitation(context.Background(), inv, &ReceiveInvitationConfig{ReuseConnection: true})
		require.NoError(t, err)
		require.Equal(t, existing.ConnectionID, res.Connection.ConnectionID)
		require.Equal(t, StateDone, res.Record.State)
		require.EqualValues(t, 0, atomic.LoadInt32(&bob.didexchange.calls))
	})

	t.Run("falls back to a new handshake on timeout", func(t *testing.T) {
		bob, inv, existing := setup(t)

		bob.outbound.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		start := time.Now()

		res, err := bob.ReceiveInvitation(context.Background(), inv, &ReceiveInvitationConfig{
			ReuseConnection:       true,
			HandshakeReuseTimeout: 50 * time.Millisecond,
		})
		require.NoError(t, err)
		require.Less(t, time.Since(start), 2*time.Second)
		require.NotEqual(t, existing.ConnectionID, res.Connection.ConnectionID)
		require.Equal(t, StateAwaitResponse, res.Record.State)
		require.Empty(t, res.Record.ReuseConnectionID)
		require.EqualValues(t, 1, atomic.LoadInt32(&bob.didexchange.calls))
	})

	t.Run("falls back to a new handshake when sending fails", func(t *testing.T) {
		bob, inv, existing := setup(t)

		bob.outbound.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("unreachable")).Times(1)

		res, err := bob.ReceiveInvitation(context.Background(), inv, &ReceiveInvitationConfig{ReuseConnection: true})
		require.NoError(t, err)
		require.NotEqual(t, existing.ConnectionID, res.Connection.ConnectionID)
	})

	t.Run("does not reuse unless asked", func(t *testing.T) {
		bob, inv, existing := setup(t)

		res, err := bob.ReceiveInvitation(context.Background(), inv, nil)
		require.NoError(t, err)
		require.NotEqual(t, existing.ConnectionID, res.Connection.ConnectionID)
	})

	t.Run("reuses directly when requests are attached", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")
		bob := newAgent(t, ctrl, "http://bob.example.com")

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{
			Messages: []service.DIDCommMsgMap{newPing()},
		})
		require.NoError(t, err)

		existing := &connstore.Record{
			ConnectionID:       uuid.New().String(),
			State:              connstore.StateCompleted,
			Role:               connstore.RoleRequester,
			InvitationDID:      rec.Invitation.InvitationDID(),
			TheirRecipientKeys: []string{newDIDKey(t)},
			MyRecipientKey:     newDIDKey(t),
		}
		require.NoError(t, bob.conns.Create(existing, nil))

		bob.inbound.EXPECT().HandleInboundMessage(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, msg service.DIDCommMsgMap, ictx *service.InboundContext) error {
				require.Equal(t, existing.ConnectionID, ictx.ConnectionID)
				require.Equal(t, existing.TheirRecipientKeys[0], ictx.SenderKey)
				require.Equal(t, existing.MyRecipientKey, ictx.RecipientKey)
				require.Equal(t, rec.Invitation.ID, msg.ParentThreadID())

				return nil
			}).Times(1)

		res, err := bob.ReceiveInvitation(context.Background(), roundTrip(t, rec.Invitation),
			&ReceiveInvitationConfig{ReuseConnection: true})
		require.NoError(t, err)
		require.Equal(t, existing.ConnectionID, res.Connection.ConnectionID)
		require.Equal(t, StateDone, res.Record.State)
	})
}

func TestService_ReceiveImplicitInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	bob := newAgent(t, ctrl, "http://bob.example.com")

	publicDID := newDIDKey(t)

	res, err := bob.ReceiveImplicitInvitation(context.Background(), &ImplicitInvitationConfig{DID: publicDID})
	require.NoError(t, err)
	require.True(t, res.Record.Implicit)
	require.NotEqual(t, publicDID, res.Record.ID)
	require.Equal(t, publicDID, res.Record.Invitation.ID)
	require.Equal(t, []string{DIDExchangeProtocol}, res.Record.Invitation.HandshakeProtocols)
	require.Equal(t, publicDID, res.Connection.InvitationDID)

	// the same public DID may be used again
	_, err = bob.ReceiveImplicitInvitation(context.Background(), &ImplicitInvitationConfig{DID: publicDID})
	require.NoError(t, err)

	_, err = bob.ReceiveImplicitInvitation(context.Background(), &ImplicitInvitationConfig{})
	require.True(t, errors.Is(err, ErrInvalidInvitation))
}

func TestService_CreateFromImplicitInvitation(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")

	publicDID, _, err := alice.kms.Create()
	require.NoError(t, err)

	rec1, err := alice.CreateFromImplicitInvitation(&ImplicitRequest{
		DID: publicDID, ThreadID: "thread-1", HandshakeProtocols: []string{DIDExchangeProtocol},
		RecipientKey: publicDID,
	})
	require.NoError(t, err)
	require.True(t, rec1.Reusable)
	require.True(t, rec1.Implicit)
	require.Equal(t, StateAwaitResponse, rec1.State)
	require.False(t, *rec1.AutoAcceptConnection)

	rec2, err := alice.CreateFromImplicitInvitation(&ImplicitRequest{DID: publicDID, ThreadID: "thread-2"})
	require.NoError(t, err)

	found, err := alice.FindByCreatedInvitationID(publicDID, "thread-2")
	require.NoError(t, err)
	require.Equal(t, rec2.ID, found.ID)

	found, err = alice.FindByCreatedInvitationID(publicDID, "thread-1")
	require.NoError(t, err)
	require.Equal(t, rec1.ID, found.ID)

	_, err = alice.CreateFromImplicitInvitation(&ImplicitRequest{DID: "not-a-did"})
	require.True(t, errors.Is(err, ErrInvalidInvitation))
}

func TestService_CompleteHandshake(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")

	t.Run("consumes a single-use invitation", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
		require.NoError(t, err)

		done, err := alice.CompleteHandshake(rec.ID)
		require.NoError(t, err)
		require.Equal(t, StateDone, done.State)

		_, err = alice.CompleteHandshake(rec.ID)
		require.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("keeps a multi-use invitation open", func(t *testing.T) {
		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{MultiUseInvitation: true})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			res, err := alice.CompleteHandshake(rec.ID)
			require.NoError(t, err)
			require.Equal(t, StateAwaitResponse, res.State)
		}
	})
}

func TestService_DeleteByID(t *testing.T) {
	t.Run("unwinds mediator routing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")

		routing := mediatormocks.NewMockRoutingService(ctrl)
		alice.Service.routing = routing

		recKey := newDIDKey(t)

		routing.EXPECT().GetRouting("mediator-1").Return(&mediator.Routing{
			Endpoint: "http://mediator.example.com", RecipientKey: recKey, MediatorID: "mediator-1",
		}, nil)
		routing.EXPECT().RemoveRouting("mediator-1", []string{recKey}).Return(nil)

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{MediatorID: "mediator-1"})
		require.NoError(t, err)
		require.Equal(t, "mediator-1", rec.MediatorID)

		require.NoError(t, alice.DeleteByID(rec.ID))

		_, err = alice.FindByID(rec.ID)
		require.True(t, errors.Is(err, ErrRecordNotFound))
	})

	t.Run("keeps routing used by a connection", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")

		routing := mediatormocks.NewMockRoutingService(ctrl)
		alice.Service.routing = routing

		routing.EXPECT().GetRouting("mediator-1").Return(&mediator.Routing{
			Endpoint: "http://mediator.example.com", RecipientKey: newDIDKey(t), MediatorID: "mediator-1",
		}, nil)

		rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{MediatorID: "mediator-1"})
		require.NoError(t, err)

		require.NoError(t, alice.conns.Create(&connstore.Record{
			ConnectionID: uuid.New().String(), State: connstore.StateRequested, Role: connstore.RoleResponder,
			OutOfBandID: rec.ID,
		}, nil))

		require.NoError(t, alice.DeleteByID(rec.ID))
	})

	t.Run("unknown record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		alice := newAgent(t, ctrl, "http://alice.example.com")

		require.True(t, errors.Is(alice.DeleteByID("unknown"), ErrRecordNotFound))
	})
}

func TestService_GetResolvedServices(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")

	rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
	require.NoError(t, err)

	dests, err := alice.GetResolvedServices(rec)
	require.NoError(t, err)
	require.Len(t, dests, 1)
	require.Equal(t, "http://alice.example.com", dests[0].ServiceEndpoint)
	require.Equal(t, rec.Invitation.Services[0].Inline.RecipientKeys, dests[0].RecipientKeys)

	_, err = alice.GetResolvedServices(&Record{Invitation: &Invitation{
		ID: "x", Services: []ServiceEntry{{DID: "did:example:unknown"}},
	}})
	require.Error(t, err)
}

func TestEnsureParentThreadID(t *testing.T) {
	rec := &Record{Invitation: &Invitation{ID: "inv-1"}}

	t.Run("sets the invitation id", func(t *testing.T) {
		msg := newPing()
		require.NoError(t, ensureParentThreadID(rec, msg))
		require.Equal(t, "inv-1", msg.ParentThreadID())
	})

	t.Run("accepts a matching parent thread id", func(t *testing.T) {
		msg := newPing()
		msg.SetThread("", "inv-1")
		require.NoError(t, ensureParentThreadID(rec, msg))
	})

	t.Run("rejects a conflicting parent thread id", func(t *testing.T) {
		msg := newPing()
		msg.SetThread("", "other")

		err := ensureParentThreadID(rec, msg)
		require.True(t, errors.Is(err, ErrInvalidThreading))
	})

	t.Run("connection-less legacy messages are left alone", func(t *testing.T) {
		legacy := &Record{
			Invitation: &Invitation{ID: "inv-1"},
			Metadata:   Metadata{LegacyInvitation: &LegacyInvitationMetadata{Type: InvitationTypeConnectionless}},
		}

		msg := newPing()
		require.NoError(t, ensureParentThreadID(legacy, msg))
		require.Empty(t, msg.ParentThreadID())
	})
}

func TestService_Events(t *testing.T) {
	ctrl := gomock.NewController(t)
	alice := newAgent(t, ctrl, "http://alice.example.com")

	events := make(chan service.StateMsg, 10)
	require.NoError(t, alice.RegisterMsgEvent(events))

	rec, err := alice.CreateInvitation(context.Background(), &CreateInvitationConfig{})
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, Name, e.ProtocolName)
		require.Equal(t, string(StateAwaitResponse), e.StateID)
		require.Equal(t, rec.ID, e.Properties.All()["outOfBandID"])
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

type agent struct {
	*Service
	kms         *kms.LocalKMS
	conns       *connection.Service
	waiters     *waiter.Hub
	inbound     *dispatchermocks.MockInbound
	outbound    *dispatchermocks.MockOutbound
	didexchange *fakeHandshake
	connections *fakeHandshake
}

func newAgent(t *testing.T, ctrl *gomock.Controller, endpoint string) *agent {
	t.Helper()

	store := mem.NewProvider()

	km, err := kms.New(store)
	require.NoError(t, err)

	vdRegistry, err := vdr.New(store)
	require.NoError(t, err)

	inbound := dispatchermocks.NewMockInbound(ctrl)
	outbound := dispatchermocks.NewMockOutbound(ctrl)

	p := &testProvider{
		store:    store,
		registry: dispatcher.NewRegistry(),
		inbound:  inbound,
		outbound: outbound,
		vdr:      vdRegistry,
		routing:  mediator.NewService(km, endpoint, nil),
		waiters:  waiter.New(),
	}

	p.conns, err = connection.New(p)
	require.NoError(t, err)

	svc, err := New(p)
	require.NoError(t, err)

	a := &agent{
		Service:     svc,
		kms:         km,
		conns:       p.conns,
		waiters:     p.waiters,
		inbound:     inbound,
		outbound:    outbound,
		didexchange: &fakeHandshake{uri: DIDExchangeProtocol, conns: p.conns},
		connections: &fakeHandshake{uri: ConnectionsProtocol, conns: p.conns},
	}

	for _, h := range []dispatcher.MessageHandler{svc, a.didexchange, a.connections, &pingHandler{}} {
		require.NoError(t, p.registry.RegisterHandler(h))
	}

	svc.RegisterHandshakeProtocol(a.didexchange)
	svc.RegisterHandshakeProtocol(a.connections)

	return a
}

type testProvider struct {
	store    storage.Provider
	registry *dispatcher.Registry
	inbound  dispatcher.Inbound
	outbound dispatcher.Outbound
	vdr      vdr.DIDRegistry
	routing  mediator.RoutingService
	conns    *connection.Service
	waiters  *waiter.Hub
}

func (p *testProvider) StorageProvider() storage.Provider { return p.store }
func (p *testProvider) MessageRegistry() *dispatcher.Registry { return p.registry }
func (p *testProvider) OutboundDispatcher() dispatcher.Outbound { return p.outbound }
func (p *testProvider) InboundDispatcher() dispatcher.Inbound { return p.inbound }
func (p *testProvider) VDRegistry() vdr.DIDRegistry { return p.vdr }
func (p *testProvider) RoutingService() mediator.RoutingService { return p.routing }
func (p *testProvider) ConnectionService() *connection.Service { return p.conns }
func (p *testProvider) Waiters() *waiter.Hub { return p.waiters }

// fakeHandshake starts a handshake by creating a connection record in the requested state.
type fakeHandshake struct {
	uri   string
	conns *connection.Service
	err   error
	calls int32

	mu      sync.Mutex
	routing *mediator.Routing
	created int
}

func (f *fakeHandshake) ProtocolURI() string { return f.uri }

func (f *fakeHandshake) SupportedMessageTypes() []string {
	return []string{f.uri + "/request", f.uri + "/response"}
}

func (f *fakeHandshake) HandleInbound(context.Context, service.DIDCommMsgMap,
	*service.InboundContext) (*service.OutboundMessage, error) {
	return nil, nil
}

func (f *fakeHandshake) AcceptOutOfBandInvitation(_ context.Context, rec *Record,
	opts *HandshakeOptions) (*connstore.Record, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	f.routing = opts.Routing
	f.created++
	f.mu.Unlock()

	conn := &connstore.Record{
		ConnectionID:   uuid.New().String(),
		State:          connstore.StateRequested,
		Role:           connstore.RoleRequester,
		Protocol:       f.uri,
		ThreadID:       uuid.New().String(),
		ParentThreadID: rec.Invitation.ID,
		OutOfBandID:    rec.ID,
		InvitationDID:  rec.Invitation.InvitationDID(),
	}

	if err := f.conns.Create(conn, nil); err != nil {
		return nil, err
	}

	return conn, nil
}

func (f *fakeHandshake) lastRouting() *mediator.Routing {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.routing
}

func (f *fakeHandshake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.created
}

type pingHandler struct{}

func (p *pingHandler) SupportedMessageTypes() []string { return []string{pingMsgType} }

func (p *pingHandler) HandleInbound(context.Context, service.DIDCommMsgMap,
	*service.InboundContext) (*service.OutboundMessage, error) {
	return nil, nil
}

func newPing() service.DIDCommMsgMap {
	return service.DIDCommMsgMap{"@id": uuid.New().String(), "@type": pingMsgType}
}

func roundTrip(t *testing.T, inv *Invitation) *Invitation {
	t.Helper()

	raw, err := json.Marshal(inv)
	require.NoError(t, err)

	parsed, err := ParseInvitation(raw)
	require.NoError(t, err)

	return parsed
}

func newDIDKey(t *testing.T) string {
	t.Helper()

	km, err := kms.New(mem.NewProvider())
	require.NoError(t, err)

	didKey, _, err := km.Create()
	require.NoError(t, err)

	return didKey
}
