/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/didcommtype"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries"
)

func TestNew(t *testing.T) {
	t.Run("returns client", func(t *testing.T) {
		c, err := New(agentContext(t))
		require.NoError(t, err)
		require.NotNil(t, c)
	})

	t.Run("service not found", func(t *testing.T) {
		_, err := New(&mockProvider{err: errors.New("service not found")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to look up service")
	})

	t.Run("service of another type", func(t *testing.T) {
		_, err := New(&mockProvider{svc: "not a service"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to cast service")
	})
}

func TestClient_CreateInvitation(t *testing.T) {
	c, err := New(agentContext(t))
	require.NoError(t, err)

	t.Run("with options", func(t *testing.T) {
		rec, err := c.CreateInvitation(context.Background(),
			WithLabel("alice"),
			WithAlias("bob"),
			WithGoal("connect", "aries.rel.build"),
			WithImageURL("https://alice.example.com/logo.png"),
			WithHandshakeProtocols(outofband.ConnectionsProtocol),
			WithMultiUse(),
			WithAutoAcceptConnection(false),
		)
		require.NoError(t, err)

		require.Equal(t, outofband.RoleSender, rec.Role)
		require.Equal(t, outofband.StateAwaitResponse, rec.State)
		require.True(t, rec.Reusable)
		require.False(t, *rec.AutoAcceptConnection)
		require.Equal(t, "bob", rec.Alias)

		inv := rec.Invitation
		require.Equal(t, InvitationMsgType, inv.Type)
		require.Equal(t, "alice", inv.Label)
		require.Equal(t, "connect", inv.Goal)
		require.Equal(t, "aries.rel.build", inv.GoalCode)
		require.Equal(t, "https://alice.example.com/logo.png", inv.ImageURL)
		require.Equal(t, []string{outofband.ConnectionsProtocol}, inv.HandshakeProtocols)
		require.Len(t, inv.InlineServices(), 1)

		stored, err := c.GetRecord(rec.ID)
		require.NoError(t, err)
		require.Equal(t, rec.Invitation.ID, stored.Invitation.ID)
	})

	t.Run("with attachment", func(t *testing.T) {
		rec, err := c.CreateInvitation(context.Background(), WithoutHandshake(), WithAttachments(
			service.DIDCommMsgMap{"@type": "https://didcomm.org/trust_ping/1.0/ping", "@id": "ping-1"},
		))
		require.NoError(t, err)
		require.Empty(t, rec.Invitation.HandshakeProtocols)

		requests, err := rec.Invitation.RequestMessages()
		require.NoError(t, err)
		require.Len(t, requests, 1)
		require.Equal(t, "ping-1", requests[0].ID())
	})

	t.Run("without handshake and attachments", func(t *testing.T) {
		_, err := c.CreateInvitation(context.Background(), WithoutHandshake())
		require.Error(t, err)
		require.True(t, errors.Is(err, outofband.ErrInvalidInvitation))
	})

	t.Run("unsupported handshake protocol", func(t *testing.T) {
		_, err := c.CreateInvitation(context.Background(),
			WithHandshakeProtocols("https://didcomm.org/unknown/1.0"))
		require.Error(t, err)
	})
}

func TestClient_CreateLegacyInvitation(t *testing.T) {
	c, err := New(agentContext(t))
	require.NoError(t, err)

	rec, inv, err := c.CreateLegacyInvitation(context.Background(), WithLabel("alice"))
	require.NoError(t, err)

	require.True(t, rec.IsLegacy())
	require.Equal(t, didcommtype.ToLegacyDIDSovPrefix(outofband.LegacyInvitationMsgType), inv.Type)
	require.Equal(t, "alice", inv.Label)
	require.Len(t, inv.RecipientKeys, 1)
	require.NotEmpty(t, inv.ServiceEndpoint)
}

func TestClient_ReceiveInvitation(t *testing.T) {
	alice, err := New(agentContext(t))
	require.NoError(t, err)

	bob, err := New(agentContext(t))
	require.NoError(t, err)

	created, err := alice.CreateInvitation(context.Background(), WithLabel("alice"))
	require.NoError(t, err)

	raw, err := json.Marshal(created.Invitation)
	require.NoError(t, err)

	states := make(chan service.StateMsg, 10)
	require.NoError(t, bob.RegisterMsgEvent(states))

	defer func() { require.NoError(t, bob.UnregisterMsgEvent(states)) }()

	t.Run("manual accept stores the invitation", func(t *testing.T) {
		res, err := bob.ReceiveRawInvitation(context.Background(), raw, WithManualAccept(), WithMyLabel("bob"))
		require.NoError(t, err)
		require.Nil(t, res.Connection)
		require.Equal(t, outofband.RoleReceiver, res.Record.Role)
		require.Equal(t, outofband.StateInitial, res.Record.State)
		require.Equal(t, created.Invitation.ID, res.Record.Invitation.ID)

		select {
		case msg := <-states:
			require.Equal(t, outofband.Name, msg.ProtocolName)
			require.Equal(t, string(outofband.StateInitial), msg.StateID)
		default:
			require.Fail(t, "no state event")
		}
	})

	t.Run("duplicate invitation", func(t *testing.T) {
		_, err := bob.ReceiveRawInvitation(context.Background(), raw, WithManualAccept())
		require.True(t, errors.Is(err, outofband.ErrDuplicateInvitation))
	})

	t.Run("invalid invitation", func(t *testing.T) {
		_, err := bob.ReceiveRawInvitation(context.Background(), []byte(`{"@type":"unknown"}`))
		require.True(t, errors.Is(err, outofband.ErrInvalidInvitation))

		_, err = bob.ReceiveInvitationURL(context.Background(), "https://alice.example.com?foo=bar")
		require.Error(t, err)
	})

	t.Run("records", func(t *testing.T) {
		records, err := bob.Records(Query{Role: outofband.RoleReceiver})
		require.NoError(t, err)
		require.Len(t, records, 1)

		require.NoError(t, bob.DeleteRecord(records[0].ID))

		_, err = bob.GetRecord(records[0].ID)
		require.True(t, errors.Is(err, outofband.ErrRecordNotFound))
	})

	t.Run("accept unknown record", func(t *testing.T) {
		_, err := bob.AcceptInvitation(context.Background(), "unknown", WithMyLabel("bob"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to accept invitation")
	})

	t.Run("empty DID", func(t *testing.T) {
		_, err := bob.ConnectToDID(context.Background(), "")
		require.True(t, errors.Is(err, outofband.ErrInvalidInvitation))
	})
}

func agentContext(t *testing.T) Provider {
	t.Helper()

	a, err := aries.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})

	ctx, err := a.Context()
	require.NoError(t, err)

	return ctx
}

type mockProvider struct {
	svc interface{}
	err error
}

func (p *mockProvider) Service(string) (interface{}, error) {
	return p.svc, p.err
}
