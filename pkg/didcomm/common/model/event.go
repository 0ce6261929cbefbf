/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

// Event properties related api. This can be used to cast generic event properties to handshake specific props.
type Event interface {
	// connection ID
	ConnectionID() string

	// out-of-band record ID
	OutOfBandID() string
}
