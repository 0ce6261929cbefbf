/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import "github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/decorator"

// ProblemReport problem report definition.
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0035-report-problem
type ProblemReport struct {
	Type        string            `json:"@type"`
	ID          string            `json:"@id"`
	Description Code              `json:"description"`
	Thread      *decorator.Thread `json:"~thread,omitempty"`
	WebRedirect interface{}       `json:"~web-redirect,omitempty"`
}

// Code represents a problem report code.
type Code struct {
	Code string `json:"code"`
	En   string `json:"en,omitempty"`
}
