/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"fmt"

	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	connectioncmd "github.com/hyperledger/aries-handshake-go/pkg/controller/command/connection"
	outofbandcmd "github.com/hyperledger/aries-handshake-go/pkg/controller/command/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/rest"
	connectionrest "github.com/hyperledger/aries-handshake-go/pkg/controller/rest/connection"
	outofbandrest "github.com/hyperledger/aries-handshake-go/pkg/controller/rest/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/webnotifier"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/context"
)

type allOpts struct {
	webhookURLs []string
	notifier    command.Notifier
}

const wsPath = "/ws"

// Opt represents a controller option.
type Opt func(opts *allOpts)

// WithWebhookURLs is an option for setting up a webhook dispatcher which will notify clients of events.
func WithWebhookURLs(webhookURLs ...string) Opt {
	return func(opts *allOpts) {
		opts.webhookURLs = webhookURLs
	}
}

// WithNotifier is an option for setting up a notifier which will notify clients of events.
func WithNotifier(notifier command.Notifier) Opt {
	return func(opts *allOpts) {
		opts.notifier = notifier
	}
}

// GetRESTHandlers returns all REST handlers provided by controller.
func GetRESTHandlers(ctx *context.Provider, opts ...Opt) ([]rest.Handler, error) {
	restAPIOpts := &allOpts{}
	// Apply options
	for _, opt := range opts {
		opt(restAPIOpts)
	}

	notifier := restAPIOpts.notifier
	if notifier == nil {
		notifier = webnotifier.New(wsPath, restAPIOpts.webhookURLs)
	}

	outofbandOp, err := outofbandrest.New(ctx, notifier)
	if err != nil {
		return nil, err
	}

	connectionOp, err := connectionrest.New(ctx, notifier)
	if err != nil {
		return nil, err
	}

	var allHandlers []rest.Handler
	allHandlers = append(allHandlers, outofbandOp.GetRESTHandlers()...)
	allHandlers = append(allHandlers, connectionOp.GetRESTHandlers()...)

	nhp, ok := notifier.(handlerProvider)
	if ok {
		allHandlers = append(allHandlers, nhp.GetRESTHandlers()...)
	}

	return allHandlers, nil
}

type handlerProvider interface {
	GetRESTHandlers() []rest.Handler
}

// GetCommandHandlers returns all command handlers provided by controller.
func GetCommandHandlers(ctx *context.Provider, opts ...Opt) ([]command.Handler, error) {
	cmdOpts := &allOpts{}
	// Apply options
	for _, opt := range opts {
		opt(cmdOpts)
	}

	notifier := cmdOpts.notifier
	if notifier == nil {
		notifier = webnotifier.New(wsPath, cmdOpts.webhookURLs)
	}

	oobcmd, err := outofbandcmd.New(ctx, notifier)
	if err != nil {
		return nil, fmt.Errorf("failed initialized outofband command: %w", err)
	}

	conncmd, err := connectioncmd.New(ctx, notifier)
	if err != nil {
		return nil, fmt.Errorf("failed initialized connection command: %w", err)
	}

	var allHandlers []command.Handler
	allHandlers = append(allHandlers, oobcmd.GetHandlers()...)
	allHandlers = append(allHandlers, conncmd.GetHandlers()...)

	return allHandlers, nil
}
