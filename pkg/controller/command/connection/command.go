/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/client/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/internal/cmdutil"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/webnotifier"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	connsvc "github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/logutil"
)

var logger = log.New("aries-framework/controller/connection")

// constants for connection management commands.
const (
	CommandName = "connection"

	// StatesTopic is the notification topic of connection state changes.
	StatesTopic = connsvc.Name + "_states"

	QueryConnectionsCommandMethod = "QueryConnections"
	GetConnectionCommandMethod    = "GetConnection"
	RemoveConnectionCommandMethod = "RemoveConnection"
	AcceptRequestCommandMethod    = "AcceptRequest"
	AcceptResponseCommandMethod   = "AcceptResponse"
	PingCommandMethod             = "Ping"

	errEmptyConnID = "empty connection ID"

	// log constants.
	connectionIDString = "connectionID"
	successString      = "success"

	defaultPingTimeout = 10 * time.Second
	statesBuffer       = 20
)

const (
	// InvalidRequestErrorCode is typically a code for validation errors
	// for invalid connection controller requests.
	InvalidRequestErrorCode = command.Code(iota + command.Connection)
	// QueryConnectionsErrorCode is for failures in query connections command.
	QueryConnectionsErrorCode
	// GetConnectionErrorCode is for failures in get connection command.
	GetConnectionErrorCode
	// RemoveConnectionErrorCode is for failures in remove connection command.
	RemoveConnectionErrorCode
	// AcceptErrorCode is for failures accepting a handshake step.
	AcceptErrorCode
	// PingErrorCode is for failures in ping command.
	PingErrorCode
)

type provider interface {
	ConnectionService() *connsvc.Service
	Service(id string) (interface{}, error)
}

// Command provides controller API for connection commands.
type Command struct {
	client *connection.Client
}

// New creates connection Command. State changes of connections are published to notifier, if one is given.
func New(prov provider, notifier command.Notifier) (*Command, error) {
	client, err := connection.New(prov)
	if err != nil {
		return nil, fmt.Errorf("cannot create a client: %w", err)
	}

	if notifier != nil {
		states := make(chan service.StateMsg, statesBuffer)

		if err = client.RegisterMsgEvent(states); err != nil {
			return nil, fmt.Errorf("register message event: %w", err)
		}

		webnotifier.NewObserver(notifier).RegisterStateMsg(StatesTopic, states)
	}

	return &Command{client: client}, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (c *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, QueryConnectionsCommandMethod, c.QueryConnections),
		cmdutil.NewCommandHandler(CommandName, GetConnectionCommandMethod, c.GetConnection),
		cmdutil.NewCommandHandler(CommandName, RemoveConnectionCommandMethod, c.RemoveConnection),
		cmdutil.NewCommandHandler(CommandName, AcceptRequestCommandMethod, c.AcceptRequest),
		cmdutil.NewCommandHandler(CommandName, AcceptResponseCommandMethod, c.AcceptResponse),
		cmdutil.NewCommandHandler(CommandName, PingCommandMethod, c.Ping),
	}
}

// QueryConnections returns the connections matching the arguments.
func (c *Command) QueryConnections(rw io.Writer, req io.Reader) command.Error {
	var args QueryConnectionsArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, QueryConnectionsCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	results, err := c.client.QueryConnections(&args.QueryConnectionsParams)
	if err != nil {
		logutil.LogError(logger, CommandName, QueryConnectionsCommandMethod, err.Error())
		return command.NewExecuteError(QueryConnectionsErrorCode, err)
	}

	command.WriteNillableResponse(rw, &QueryConnectionsResponse{Results: results}, logger)

	logutil.LogDebug(logger, CommandName, QueryConnectionsCommandMethod, successString)

	return nil
}

// GetConnection returns the connection with the id.
func (c *Command) GetConnection(rw io.Writer, req io.Reader) command.Error {
	id, cmdErr := readID(req, GetConnectionCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	conn, err := c.client.GetConnection(id)
	if err != nil {
		logutil.LogError(logger, CommandName, GetConnectionCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionIDString, id))
		return toCommandError(GetConnectionErrorCode, err)
	}

	command.WriteNillableResponse(rw, &ConnectionResponse{Result: conn}, logger)

	return nil
}

// RemoveConnection removes the connection record with the id.
func (c *Command) RemoveConnection(rw io.Writer, req io.Reader) command.Error {
	id, cmdErr := readID(req, RemoveConnectionCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	if err := c.client.RemoveConnection(id); err != nil {
		logutil.LogError(logger, CommandName, RemoveConnectionCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionIDString, id))
		return toCommandError(RemoveConnectionErrorCode, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, CommandName, RemoveConnectionCommandMethod, successString,
		logutil.CreateKeyValueString(connectionIDString, id))

	return nil
}

// AcceptRequest answers a handshake request that was not accepted automatically.
func (c *Command) AcceptRequest(rw io.Writer, req io.Reader) command.Error {
	return c.accept(rw, req, AcceptRequestCommandMethod, c.client.AcceptRequest)
}

// AcceptResponse completes a handshake whose response was not accepted automatically.
func (c *Command) AcceptResponse(rw io.Writer, req io.Reader) command.Error {
	return c.accept(rw, req, AcceptResponseCommandMethod, c.client.AcceptResponse)
}

// Ping sends a trust ping on the connection and reports the round trip time.
func (c *Command) Ping(rw io.Writer, req io.Reader) command.Error {
	var args PingArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, PingCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if args.ID == "" {
		logutil.LogDebug(logger, CommandName, PingCommandMethod, errEmptyConnID)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyConnID))
	}

	timeout := defaultPingTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Millisecond
	}

	rtt, err := c.client.Ping(context.Background(), args.ID, timeout)
	if err != nil {
		logutil.LogError(logger, CommandName, PingCommandMethod, err.Error(),
			logutil.CreateKeyValueString(connectionIDString, args.ID))
		return toCommandError(PingErrorCode, err)
	}

	command.WriteNillableResponse(rw, &PingResponse{RoundTripMillis: rtt.Milliseconds()}, logger)

	return nil
}

func (c *Command) accept(rw io.Writer, req io.Reader, method string,
	accept func(ctx context.Context, connectionID string) error) command.Error {
	id, cmdErr := readID(req, method)
	if cmdErr != nil {
		return cmdErr
	}

	if err := accept(context.Background(), id); err != nil {
		logutil.LogError(logger, CommandName, method, err.Error(),
			logutil.CreateKeyValueString(connectionIDString, id))
		return toCommandError(AcceptErrorCode, err)
	}

	conn, err := c.client.GetConnection(id)
	if err != nil {
		logutil.LogError(logger, CommandName, method, err.Error(),
			logutil.CreateKeyValueString(connectionIDString, id))
		return toCommandError(AcceptErrorCode, err)
	}

	command.WriteNillableResponse(rw, &ConnectionResponse{Result: conn}, logger)

	logutil.LogDebug(logger, CommandName, method, successString,
		logutil.CreateKeyValueString(connectionIDString, id))

	return nil
}

func readID(req io.Reader, method string) (string, command.Error) {
	var args IDArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, method, err.Error())
		return "", command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if args.ID == "" {
		logutil.LogDebug(logger, CommandName, method, errEmptyConnID)
		return "", command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyConnID))
	}

	return args.ID, nil
}

func toCommandError(code command.Code, err error) command.Error {
	switch {
	case errors.Is(err, connection.ErrConnectionNotFound):
		return command.NewNotFoundError(code, err)
	case errors.Is(err, connsvc.ErrInvalidState), errors.Is(err, connsvc.ErrProtocolMismatch):
		return command.NewValidationError(code, err)
	default:
		return command.NewExecuteError(code, err)
	}
}
