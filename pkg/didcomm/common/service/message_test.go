/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_MsgEvents(t *testing.T) {
	m := Message{}
	require.Nil(t, m.MsgEvents())
}

func TestMessage_RegisterMsgEvent(t *testing.T) {
	m := Message{}

	require.EqualError(t, m.RegisterMsgEvent(nil), ErrNilChannel.Error())

	ch := make(chan<- StateMsg)
	require.Nil(t, m.RegisterMsgEvent(ch))
	require.Equal(t, 1, len(m.MsgEvents()))

	require.Nil(t, m.RegisterMsgEvent(ch))
	require.Equal(t, 2, len(m.MsgEvents()))
}

func TestMessage_UnregisterMsgEvent(t *testing.T) {
	m := Message{}

	ch := make(chan<- StateMsg)
	require.Nil(t, m.RegisterMsgEvent(ch))
	require.Nil(t, m.RegisterMsgEvent(ch))
	require.Equal(t, 2, len(m.MsgEvents()))
	require.Nil(t, m.UnregisterMsgEvent(ch))
	require.Equal(t, 0, len(m.MsgEvents()))

	// no error if nothing to unregister
	require.Nil(t, m.UnregisterMsgEvent(ch))
}

func TestMessage_Notify(t *testing.T) {
	m := Message{}

	first := make(chan StateMsg, 1)
	second := make(chan StateMsg, 1)

	require.NoError(t, m.RegisterMsgEvent(first))
	require.NoError(t, m.RegisterMsgEvent(second))

	m.Notify(StateMsg{ProtocolName: "test", StateID: "done", Type: PostState})

	for _, ch := range []chan StateMsg{first, second} {
		msg := <-ch
		require.Equal(t, "test", msg.ProtocolName)
		require.Equal(t, "done", msg.StateID)
		require.Equal(t, "post_state", msg.Type.String())
	}

	require.Equal(t, "pre_state", PreState.String())
}
