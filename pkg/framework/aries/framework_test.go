/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package aries

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/secretlock/local/masterlock/hkdf"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/dispatcher/inbound"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/didexchange"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/legacyconnection"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/trustping"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries/api"
	connstore "github.com/hyperledger/aries-handshake-go/pkg/store/connection"
)

const waitTimeout = 5 * time.Second

func TestFramework(t *testing.T) {
	t.Run("test framework new - returns error", func(t *testing.T) {
		_, err := New(func(opts *Aries) error {
			return errors.New("error creating the framework option")
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "Error in option passed to New")
	})

	t.Run("test framework new - with default", func(t *testing.T) {
		a, err := New()
		require.NoError(t, err)

		ctx, err := a.Context()
		require.NoError(t, err)

		require.Equal(t, defaultEndpoint, ctx.ServiceEndpoint())
		require.True(t, ctx.AutoAcceptConnections())
		require.NotEmpty(t, ctx.AriesFrameworkID())
		require.NotNil(t, ctx.KMS())
		require.NotNil(t, ctx.VDRegistry())
		require.NotNil(t, ctx.Packager())
		require.NotNil(t, ctx.OutboundDispatcher())
		require.NotNil(t, ctx.ConnectionService())
		require.NotNil(t, ctx.OutOfBandService())
		require.Len(t, ctx.AllServices(), 4)

		for _, name := range []string{didexchange.Name, legacyconnection.Name, trustping.Name, outofband.Name} {
			_, err = ctx.Service(name)
			require.NoError(t, err, name)
		}

		for _, msgType := range []string{
			didexchange.RequestMsgType,
			legacyconnection.RequestMsgType,
			trustping.PingMsgType,
			outofband.HandshakeReuseMsgType,
		} {
			require.True(t, ctx.MessageRegistry().IsSupported(msgType), msgType)
		}

		require.NoError(t, a.Close())
	})

	t.Run("test framework new - with options", func(t *testing.T) {
		store := mem.NewProvider()

		a, err := New(
			WithStoreProvider(store),
			WithServiceEndpoint("http://alice.example.com"),
			WithLabel("alice"),
			WithAutoAcceptConnections(false),
			WithTransportReturnRoute(decorator.TransportReturnRouteAll),
			WithConnectionLookup(1, time.Millisecond),
			WithOutboundRetry(1, time.Millisecond),
		)
		require.NoError(t, err)

		ctx, err := a.Context()
		require.NoError(t, err)
		require.Equal(t, store, ctx.StorageProvider())
		require.Equal(t, "http://alice.example.com", ctx.ServiceEndpoint())
		require.Equal(t, "alice", ctx.Label())
		require.False(t, ctx.AutoAcceptConnections())
		require.Equal(t, decorator.TransportReturnRouteAll, ctx.TransportReturnRoute())
		require.Equal(t, uint64(1), ctx.ConnectionLookupMaxRetries())
		require.Equal(t, time.Millisecond, ctx.ConnectionLookupBackOff())

		require.NoError(t, a.Close())
	})

	t.Run("test framework new - with secret lock", func(t *testing.T) {
		lock, err := hkdf.NewMasterLock("passphrase", sha256.New, nil)
		require.NoError(t, err)

		a, err := New(WithSecretLock(lock))
		require.NoError(t, err)

		ctx, err := a.Context()
		require.NoError(t, err)

		didKey, _, err := ctx.KMS().Create()
		require.NoError(t, err)

		sig, err := ctx.KMS().Sign(didKey, []byte("payload"))
		require.NoError(t, err)
		require.NoError(t, ctx.KMS().Verify(didKey, []byte("payload"), sig))

		require.NoError(t, a.Close())
	})

	t.Run("test framework new - invalid transport return route", func(t *testing.T) {
		_, err := New(WithTransportReturnRoute("thread"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid transport return route option")
	})

	t.Run("test framework new - invalid outbound retry", func(t *testing.T) {
		_, err := New(WithOutboundRetry(3, 0))
		require.Error(t, err)
		require.Contains(t, err.Error(), "outbound retry interval must be positive")
	})

	t.Run("test framework new - protocol service creation fails", func(t *testing.T) {
		_, err := New(WithProtocols(func(prv api.Provider) (api.ProtocolService, error) {
			return nil, errors.New("protocol error")
		}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "new protocol service failed")
	})

	t.Run("test framework new - inbound transport", func(t *testing.T) {
		in := &fakeInbound{endpoint: "http://bob.example.com"}

		a, err := New(WithInboundTransport(in))
		require.NoError(t, err)
		require.True(t, in.started)

		ctx, err := a.Context()
		require.NoError(t, err)
		require.Equal(t, "http://bob.example.com", ctx.ServiceEndpoint())

		// the started transport hands payloads to the initialized inbound handler
		_, err = in.handler(context.Background(), []byte("not an envelope"))
		require.Error(t, err)
		require.False(t, errors.Is(err, inbound.ErrNotInitialized))

		require.NoError(t, a.Close())
		require.True(t, in.stopped)
	})

	t.Run("test framework new - inbound transport start fails", func(t *testing.T) {
		_, err := New(WithInboundTransport(&fakeInbound{startErr: errors.New("port in use")}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "inbound transport start failed")
	})

	t.Run("test framework close - collects errors", func(t *testing.T) {
		a, err := New(WithInboundTransport(&fakeInbound{stopErr: errors.New("stop error")}))
		require.NoError(t, err)

		err = a.Close()
		require.Error(t, err)
		require.Contains(t, err.Error(), "inbound transport close failed")
	})
}

func TestFramework_ConnectAgents(t *testing.T) {
	network := &memNetwork{agents: map[string]transport.InboundMessageHandler{}}

	alice := network.agent(t, "alice")
	bob := network.agent(t, "bob")

	aliceCtx, err := alice.Context()
	require.NoError(t, err)

	bobCtx, err := bob.Context()
	require.NoError(t, err)

	for _, protocol := range []string{outofband.DIDExchangeProtocol, outofband.ConnectionsProtocol} {
		protocol := protocol

		t.Run(protocol, func(t *testing.T) {
			created, err := aliceCtx.OutOfBandService().CreateInvitation(context.Background(),
				&outofband.CreateInvitationConfig{Label: "alice", HandshakeProtocols: []string{protocol}})
			require.NoError(t, err)

			// the invitation travels out of band
			raw, err := json.Marshal(created.Invitation)
			require.NoError(t, err)

			inv := &outofband.Invitation{}
			require.NoError(t, json.Unmarshal(raw, inv))

			accepted, err := bobCtx.OutOfBandService().ReceiveInvitation(context.Background(), inv,
				&outofband.ReceiveInvitationConfig{Label: "bob"})
			require.NoError(t, err)
			require.NotNil(t, accepted.Connection)

			bobConn, err := bobCtx.ConnectionService().ReturnWhenIsConnected(context.Background(),
				accepted.Connection.ConnectionID, waitTimeout)
			require.NoError(t, err)
			require.Equal(t, connstore.RoleRequester, bobConn.Role)

			var aliceConn *connstore.Record

			require.Eventually(t, func() bool {
				aliceConn = completedConnection(t, aliceCtx.ConnectionService().GetAll, bobConn.ThreadID)

				return aliceConn != nil
			}, waitTimeout, 10*time.Millisecond)

			require.Equal(t, bobConn.MyDID, aliceConn.TheirDID)
			require.Equal(t, aliceConn.MyDID, bobConn.TheirDID)

			svc, err := bobCtx.Service(trustping.Name)
			require.NoError(t, err)

			_, err = svc.(*trustping.Service).Ping(context.Background(), bobConn.ConnectionID, waitTimeout)
			require.NoError(t, err)
		})
	}
}

func completedConnection(t *testing.T, all func() ([]*connstore.Record, error),
	thid string) *connstore.Record {
	t.Helper()

	records, err := all()
	require.NoError(t, err)

	for _, rec := range records {
		if rec.ThreadID == thid && rec.State == connstore.StateCompleted {
			return rec
		}
	}

	return nil
}

// memNetwork delivers packed messages between agents of the same process, each on its own goroutine.
type memNetwork struct {
	mu     sync.RWMutex
	agents map[string]transport.InboundMessageHandler
}

func (n *memNetwork) agent(t *testing.T, name string) *Aries {
	t.Helper()

	endpoint := "mem://" + name

	a, err := New(
		WithServiceEndpoint(endpoint),
		WithLabel(name),
		WithOutboundTransports(n),
		WithConnectionLookup(2, time.Millisecond),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})

	ctx, err := a.Context()
	require.NoError(t, err)

	n.mu.Lock()
	n.agents[endpoint] = ctx.InboundMessageHandler()
	n.mu.Unlock()

	return a
}

func (n *memNetwork) Send(_ context.Context, data []byte, dest *service.Destination) (string, error) {
	n.mu.RLock()
	handler, ok := n.agents[dest.ServiceEndpoint]
	n.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no agent at %s", dest.ServiceEndpoint)
	}

	go func() {
		_, _ = handler(context.Background(), data) //nolint:errcheck
	}()

	return "", nil
}

func (n *memNetwork) Accept(url string) bool {
	return strings.HasPrefix(url, "mem://")
}

type fakeInbound struct {
	endpoint string
	startErr error
	stopErr  error
	started  bool
	stopped  bool
	handler  transport.InboundMessageHandler
}

func (f *fakeInbound) Start(prov transport.InboundProvider) error {
	if f.startErr != nil {
		return f.startErr
	}

	f.handler = prov.InboundMessageHandler()
	f.started = true

	return nil
}

func (f *fakeInbound) Stop() error {
	f.stopped = true

	return f.stopErr
}

func (f *fakeInbound) Endpoint() string {
	return f.endpoint
}
