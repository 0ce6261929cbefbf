/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/internal/mocks/webhook"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/context"
)

func TestGetRESTHandlers(t *testing.T) {
	t.Run("default notifier", func(t *testing.T) {
		handlers, err := GetRESTHandlers(agentContext(t), WithWebhookURLs("http://localhost:8080"))
		require.NoError(t, err)

		paths := map[string]bool{}
		for _, h := range handlers {
			paths[h.Path()] = true
		}

		require.True(t, paths["/outofband/create-invitation"])
		require.True(t, paths["/connections/{id}/ping"])
		require.True(t, paths[wsPath])
	})

	t.Run("custom notifier", func(t *testing.T) {
		notifier := command.NotifierFunc(func(string, []byte) error { return nil })

		handlers, err := GetRESTHandlers(agentContext(t), WithNotifier(notifier))
		require.NoError(t, err)

		for _, h := range handlers {
			require.NotEqual(t, wsPath, h.Path())
		}
	})
}

func TestGetCommandHandlers(t *testing.T) {
	handlers, err := GetCommandHandlers(agentContext(t), WithNotifier(webhook.NewMockWebhookNotifier()))
	require.NoError(t, err)

	names := map[string]int{}
	for _, h := range handlers {
		names[h.Name()]++
	}

	require.Equal(t, 7, names["outofband"])
	require.Equal(t, 6, names["connection"])
}

func agentContext(t *testing.T) *context.Provider {
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
