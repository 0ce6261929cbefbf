/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import "errors"

// ErrNilChannel is returned when a nil channel is registered.
var ErrNilChannel = errors.New("channel is nil")

// ErrThreadIDNotFound is returned when a message has neither '~thread.thid' nor '@id'.
var ErrThreadIDNotFound = errors.New("threadID not found")

// ErrInvalidMessage is returned when a payload is not a DIDComm plaintext message.
var ErrInvalidMessage = errors.New("invalid DIDComm message")
