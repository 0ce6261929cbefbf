/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"errors"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/common/keyutil"
	"github.com/hyperledger/aries-handshake-go/pkg/kms"
)

const (
	ENDPOINT       = "http://router.example.com"
	agentEndpoint  = "http://agent.example.com"
	testMediatorID = "mediator-conn"
)

type mockRouteSvc struct {
	RouterEndpoint string
	RoutingKeys    []string
	ConfigErr      error
	AddKeyErr      error
	RemoveKeyErr   error
	added          []string
	removed        []string
}

func (m *mockRouteSvc) AddKey(_, recKey string) error {
	if m.AddKeyErr != nil {
		return m.AddKeyErr
	}

	m.added = append(m.added, recKey)

	return nil
}

func (m *mockRouteSvc) RemoveKey(_, recKey string) error {
	if m.RemoveKeyErr != nil {
		return m.RemoveKeyErr
	}

	m.removed = append(m.removed, recKey)

	return nil
}

func (m *mockRouteSvc) Config(string) (*Config, error) {
	if m.ConfigErr != nil {
		return nil, m.ConfigErr
	}

	if m.RouterEndpoint == "" {
		return nil, ErrRouterNotRegistered
	}

	return &Config{Endpoint: m.RouterEndpoint, RoutingKeys: m.RoutingKeys}, nil
}

func newKMS(t *testing.T) kms.KeyManager {
	t.Helper()

	km, err := kms.New(mem.NewProvider())
	require.NoError(t, err)

	return km
}

func TestGetRouterConfig(t *testing.T) {
	t.Run("no router configured", func(t *testing.T) {
		endpoint, routingKeys, err := GetRouterConfig(&mockRouteSvc{}, "conn", ENDPOINT)
		require.NoError(t, err)
		require.Equal(t, ENDPOINT, endpoint)
		require.Empty(t, routingKeys)
	})

	t.Run("router configured", func(t *testing.T) {
		routeKeys := []string{"abc", "xyz"}
		endpoint, routingKeys, err := GetRouterConfig(
			&mockRouteSvc{RouterEndpoint: ENDPOINT, RoutingKeys: routeKeys},
			"conn",
			"http://override-url.com",
		)
		require.NoError(t, err)
		require.Equal(t, ENDPOINT, endpoint)
		require.Equal(t, routeKeys, routingKeys)
	})

	t.Run("router error", func(t *testing.T) {
		endpoint, routingKeys, err := GetRouterConfig(&mockRouteSvc{ConfigErr: errors.New("router error")},
			"conn", ENDPOINT)
		require.Error(t, err)
		require.Contains(t, err.Error(), "fetch router config")
		require.Empty(t, endpoint)
		require.Nil(t, routingKeys)
	})
}

func TestAddKeyToRouter(t *testing.T) {
	require.NoError(t, AddKeyToRouter(&mockRouteSvc{}, "conn", ENDPOINT))
	require.NoError(t, AddKeyToRouter(nil, "conn", ENDPOINT))
	require.NoError(t, AddKeyToRouter(&mockRouteSvc{AddKeyErr: ErrRouterNotRegistered}, "conn", ENDPOINT))

	err := AddKeyToRouter(&mockRouteSvc{AddKeyErr: errors.New("router error")}, "conn", ENDPOINT)
	require.EqualError(t, err, "addKey: router error")
}

func TestService_GetRouting(t *testing.T) {
	t.Run("without mediator", func(t *testing.T) {
		km := newKMS(t)
		svc := NewService(km, agentEndpoint, nil)
		require.Equal(t, agentEndpoint, svc.Endpoint())

		r, err := svc.GetRouting("")
		require.NoError(t, err)
		require.Equal(t, agentEndpoint, r.Endpoint)
		require.Empty(t, r.RoutingKeys)
		require.True(t, keyutil.IsDIDKey(r.RecipientKey))
		require.True(t, km.Has(r.RecipientKey))
	})

	t.Run("with mediator", func(t *testing.T) {
		route := &mockRouteSvc{RouterEndpoint: ENDPOINT, RoutingKeys: []string{"did:key:z6Mkrouting"}}
		svc := NewService(newKMS(t), agentEndpoint, route)

		r, err := svc.GetRouting(testMediatorID)
		require.NoError(t, err)
		require.Equal(t, ENDPOINT, r.Endpoint)
		require.Equal(t, route.RoutingKeys, r.RoutingKeys)
		require.Equal(t, testMediatorID, r.MediatorID)
		require.Equal(t, []string{r.RecipientKey}, route.added)

		require.NoError(t, svc.RemoveRouting(testMediatorID, []string{r.RecipientKey}))
		require.Equal(t, []string{r.RecipientKey}, route.removed)
	})

	t.Run("mediator errors", func(t *testing.T) {
		svc := NewService(newKMS(t), agentEndpoint, &mockRouteSvc{ConfigErr: errors.New("config error")})
		_, err := svc.GetRouting(testMediatorID)
		require.ErrorContains(t, err, "config error")

		svc = NewService(newKMS(t), agentEndpoint,
			&mockRouteSvc{RouterEndpoint: ENDPOINT, AddKeyErr: errors.New("add error")})
		_, err = svc.GetRouting(testMediatorID)
		require.ErrorContains(t, err, "add error")

		svc = NewService(newKMS(t), agentEndpoint, &mockRouteSvc{RemoveKeyErr: errors.New("remove error")})
		require.ErrorContains(t, svc.RemoveRouting(testMediatorID, []string{"k1", "k2"}), "remove error")
		require.NoError(t, svc.RemoveRouting("", []string{"k1"}))
	})
}
