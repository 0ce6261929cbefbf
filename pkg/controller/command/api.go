/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

import (
	"io"
)

// Exec runs one controller command: it decodes the JSON arguments from req and encodes the result to rw.
type Exec func(rw io.Writer, req io.Reader) Error

// Handler for each controller command.
type Handler interface {
	// name of the command, e.g. "outofband"
	Name() string
	// method name of the command, e.g. "CreateInvitation"
	Method() string
	// execute function of the command
	Handle() Exec
}

// Notifier pushes a state notification to subscribers of topic.
type Notifier interface {
	Notify(topic string, message []byte) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(topic string, message []byte) error

// Notify calls f.
func (f NotifierFunc) Notify(topic string, message []byte) error {
	return f(topic, message)
}
