/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package outofband provides support for the Out-of-Band protocols:
// https://github.com/hyperledger/aries-rfcs/blob/master/features/0434-outofband/README.md.
//
// Create your client:
//
//	ctx := getFrameworkContext()
//	client, err := outofband.New(ctx)
//	if err != nil {
//	    panic(err)
//	}
//
// Invitations are created with client.CreateInvitation() or, for agents that only speak the Connections
// protocol, client.CreateLegacyInvitation(). The record returned tracks the invitation; its id is the
// out-of-band id of every connection created from it.
//
// Invitations received out of band are handed to client.ReceiveInvitation(). Unless WithManualAccept() is
// passed the invitation is accepted right away; otherwise it is accepted later with client.AcceptInvitation().
//
// State changes of the records are published to registered channels:
//
//	states := make(chan service.StateMsg)
//	err = client.RegisterMsgEvent(states)
//	if err != nil {
//	    panic(err)
//	}
package outofband
