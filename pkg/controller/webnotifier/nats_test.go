/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	mocks "github.com/hyperledger/aries-handshake-go/pkg/internal/gomocks/controller/webnotifier"
)

func TestNATSNotifier_Notify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("publishes on the topic subject", func(t *testing.T) {
		publisher := mocks.NewMockPublisher(ctrl)
		publisher.EXPECT().Publish(DefaultSubjectPrefix+"out-of-band_states", gomock.Any()).
			DoAndReturn(func(_ string, data []byte) error {
				msg := TopicMessage{}
				require.NoError(t, json.Unmarshal(data, &msg))
				require.Equal(t, "out-of-band_states", msg.Topic)
				require.JSONEq(t, `{"state_id":"done"}`, string(msg.Message))

				return nil
			})

		n := NewNATSNotifierWithPublisher(publisher, DefaultSubjectPrefix)
		require.NoError(t, n.Notify("out-of-band_states", []byte(`{"state_id":"done"}`)))
	})

	t.Run("publish error", func(t *testing.T) {
		publisher := mocks.NewMockPublisher(ctrl)
		publisher.EXPECT().Publish("agent.states", gomock.Any()).Return(errors.New("connection closed"))

		err := NewNATSNotifierWithPublisher(publisher, "agent.").Notify("states", []byte(`{}`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "publish to NATS subject agent.states")
	})

	t.Run("invalid input", func(t *testing.T) {
		n := NewNATSNotifierWithPublisher(mocks.NewMockPublisher(ctrl), DefaultSubjectPrefix)

		require.EqualError(t, n.Notify("", []byte(`{}`)), emptyTopicErrMsg)
		require.EqualError(t, n.Notify("states", nil), emptyMessageErrMsg)
	})

	t.Run("close", func(t *testing.T) {
		publisher := mocks.NewMockPublisher(ctrl)
		publisher.EXPECT().Close()

		NewNATSNotifierWithPublisher(publisher, DefaultSubjectPrefix).Close()
	})
}

func TestNewNATSNotifier(t *testing.T) {
	_, err := NewNATSNotifier("nats://127.0.0.1:1",
		WithClientName("test-agent"),
		WithSubjectPrefix("test."),
		WithReconnect(time.Millisecond, 0),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to connect to NATS")

	_, err = NewNATSNotifier("nats://127.0.0.1:1", WithCredentials("/nonexistent/user.creds"))
	require.Error(t, err)
}
