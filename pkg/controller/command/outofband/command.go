/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-handshake-go/pkg/client/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/internal/cmdutil"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/webnotifier"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/common/service"
	oobsvc "github.com/hyperledger/aries-handshake-go/pkg/didcomm/protocol/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/internal/logutil"
)

const (
	// InvalidRequestErrorCode is typically a code for validation errors
	// for invalid outofband controller requests.
	InvalidRequestErrorCode = command.Code(iota + command.Outofband)
	// CreateInvitationErrorCode is for failures in create invitation command.
	CreateInvitationErrorCode
	// ReceiveInvitationErrorCode is for failures in receive invitation command.
	ReceiveInvitationErrorCode
	// AcceptInvitationErrorCode is for failures in accept invitation command.
	AcceptInvitationErrorCode
	// RecordErrorCode is for failures reading or removing records.
	RecordErrorCode
)

const (
	// CommandName is the name of the out-of-band controller command.
	CommandName = "outofband"

	// StatesTopic is the notification topic of out-of-band record state changes.
	StatesTopic = oobsvc.Name + "_states"

	createInvitation       = "CreateInvitation"
	createLegacyInvitation = "CreateLegacyInvitation"
	receiveInvitation      = "ReceiveInvitation"
	acceptInvitation       = "AcceptInvitation"
	queryRecords           = "QueryRecords"
	getRecord              = "GetRecord"
	removeRecord           = "RemoveRecord"

	// error messages.
	errEmptyInvitation = "invitation was not provided"
	errBothInvitations = "only one of invitation and invitation_url can be provided"
	errEmptyID         = "empty record ID"

	// log constants.
	recordIDString = "recordID"
	successString  = "success"

	statesBuffer = 20
)

var logger = log.New("aries-framework/controller/outofband")

// Command is controller command for outofband.
type Command struct {
	client *outofband.Client
}

// New returns new outofband controller command instance. State changes of records are published to notifier,
// if one is given.
func New(ctx outofband.Provider, notifier command.Notifier) (*Command, error) {
	client, err := outofband.New(ctx)
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
		cmdutil.NewCommandHandler(CommandName, createInvitation, c.CreateInvitation),
		cmdutil.NewCommandHandler(CommandName, createLegacyInvitation, c.CreateLegacyInvitation),
		cmdutil.NewCommandHandler(CommandName, receiveInvitation, c.ReceiveInvitation),
		cmdutil.NewCommandHandler(CommandName, acceptInvitation, c.AcceptInvitation),
		cmdutil.NewCommandHandler(CommandName, queryRecords, c.QueryRecords),
		cmdutil.NewCommandHandler(CommandName, getRecord, c.GetRecord),
		cmdutil.NewCommandHandler(CommandName, removeRecord, c.RemoveRecord),
	}
}

// CreateInvitation creates and saves an out-of-band invitation.
// Handshake protocols default to every supported one.
func (c *Command) CreateInvitation(rw io.Writer, req io.Reader) command.Error {
	var args CreateInvitationArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, createInvitation, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	rec, err := c.client.CreateInvitation(context.Background(), messageOptions(&args)...)
	if err != nil {
		logutil.LogError(logger, CommandName, createInvitation, err.Error())
		return toCommandError(CreateInvitationErrorCode, err)
	}

	resp := &CreateInvitationResponse{RecordID: rec.ID, Invitation: rec.Invitation}

	if args.URLDomain != "" {
		resp.InvitationURL, err = oobsvc.InvitationURL(args.URLDomain, rec.Invitation)
		if err != nil {
			logutil.LogError(logger, CommandName, createInvitation, err.Error())
			return command.NewExecuteError(CreateInvitationErrorCode, err)
		}
	}

	command.WriteNillableResponse(rw, resp, logger)

	logutil.LogDebug(logger, CommandName, createInvitation, successString,
		logutil.CreateKeyValueString(recordIDString, rec.ID))

	return nil
}

// CreateLegacyInvitation creates and saves a Connections protocol invitation.
func (c *Command) CreateLegacyInvitation(rw io.Writer, req io.Reader) command.Error {
	var args CreateInvitationArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, createLegacyInvitation, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	rec, inv, err := c.client.CreateLegacyInvitation(context.Background(), messageOptions(&args)...)
	if err != nil {
		logutil.LogError(logger, CommandName, createLegacyInvitation, err.Error())
		return toCommandError(CreateInvitationErrorCode, err)
	}

	resp := &CreateLegacyInvitationResponse{RecordID: rec.ID, Invitation: inv}

	if args.URLDomain != "" {
		resp.InvitationURL, err = oobsvc.LegacyInvitationURL(args.URLDomain, inv)
		if err != nil {
			logutil.LogError(logger, CommandName, createLegacyInvitation, err.Error())
			return command.NewExecuteError(CreateInvitationErrorCode, err)
		}
	}

	command.WriteNillableResponse(rw, resp, logger)

	logutil.LogDebug(logger, CommandName, createLegacyInvitation, successString,
		logutil.CreateKeyValueString(recordIDString, rec.ID))

	return nil
}

// ReceiveInvitation stores an invitation received out of band and accepts it unless manual_accept is set.
func (c *Command) ReceiveInvitation(rw io.Writer, req io.Reader) command.Error {
	var args ReceiveInvitationArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, receiveInvitation, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	hasInvitation := len(args.Invitation) > 0 && string(args.Invitation) != "null"

	if !hasInvitation && args.InvitationURL == "" {
		logutil.LogDebug(logger, CommandName, receiveInvitation, errEmptyInvitation)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyInvitation))
	}

	if hasInvitation && args.InvitationURL != "" {
		logutil.LogDebug(logger, CommandName, receiveInvitation, errBothInvitations)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errBothInvitations))
	}

	opts := receiveOptions(args.MyLabel, args.MyAlias, args.MyDID, args.ReuseConnection,
		args.ManualConnectionAccept, args.Timeout)
	if args.ManualAccept {
		opts = append(opts, outofband.WithManualAccept())
	}

	var (
		res *outofband.AcceptResult
		err error
	)

	if hasInvitation {
		res, err = c.client.ReceiveRawInvitation(context.Background(), args.Invitation, opts...)
	} else {
		res, err = c.client.ReceiveInvitationURL(context.Background(), args.InvitationURL, opts...)
	}

	if err != nil {
		logutil.LogError(logger, CommandName, receiveInvitation, err.Error())
		return toCommandError(ReceiveInvitationErrorCode, err)
	}

	command.WriteNillableResponse(rw, &AcceptResponse{Record: res.Record, Connection: res.Connection}, logger)

	logutil.LogDebug(logger, CommandName, receiveInvitation, successString,
		logutil.CreateKeyValueString(recordIDString, res.Record.ID))

	return nil
}

// AcceptInvitation accepts an invitation received with manual_accept.
func (c *Command) AcceptInvitation(rw io.Writer, req io.Reader) command.Error {
	var args AcceptInvitationArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, acceptInvitation, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if args.ID == "" {
		logutil.LogDebug(logger, CommandName, acceptInvitation, errEmptyID)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyID))
	}

	res, err := c.client.AcceptInvitation(context.Background(), args.ID,
		receiveOptions(args.MyLabel, args.MyAlias, args.MyDID, args.ReuseConnection,
			args.ManualConnectionAccept, args.Timeout)...)
	if err != nil {
		logutil.LogError(logger, CommandName, acceptInvitation, err.Error(),
			logutil.CreateKeyValueString(recordIDString, args.ID))
		return toCommandError(AcceptInvitationErrorCode, err)
	}

	command.WriteNillableResponse(rw, &AcceptResponse{Record: res.Record, Connection: res.Connection}, logger)

	logutil.LogDebug(logger, CommandName, acceptInvitation, successString,
		logutil.CreateKeyValueString(recordIDString, args.ID))

	return nil
}

// QueryRecords returns the out-of-band records matching the arguments.
func (c *Command) QueryRecords(rw io.Writer, req io.Reader) command.Error {
	var args QueryRecordsArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, queryRecords, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	records, err := c.client.Records(outofband.Query{
		Role:         oobsvc.Role(args.Role),
		State:        oobsvc.State(args.State),
		InvitationID: args.InvitationID,
	})
	if err != nil {
		logutil.LogError(logger, CommandName, queryRecords, err.Error())
		return toCommandError(RecordErrorCode, err)
	}

	command.WriteNillableResponse(rw, &QueryRecordsResponse{Records: records}, logger)

	logutil.LogDebug(logger, CommandName, queryRecords, successString)

	return nil
}

// GetRecord returns the out-of-band record with the id.
func (c *Command) GetRecord(rw io.Writer, req io.Reader) command.Error {
	var args IDArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, getRecord, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if args.ID == "" {
		logutil.LogDebug(logger, CommandName, getRecord, errEmptyID)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyID))
	}

	rec, err := c.client.GetRecord(args.ID)
	if err != nil {
		logutil.LogError(logger, CommandName, getRecord, err.Error(),
			logutil.CreateKeyValueString(recordIDString, args.ID))
		return toCommandError(RecordErrorCode, err)
	}

	command.WriteNillableResponse(rw, &RecordResponse{Record: rec}, logger)

	return nil
}

// RemoveRecord removes the out-of-band record with the id.
func (c *Command) RemoveRecord(rw io.Writer, req io.Reader) command.Error {
	var args IDArgs
	if err := command.DecodeArgs(req, &args); err != nil {
		logutil.LogDebug(logger, CommandName, removeRecord, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if args.ID == "" {
		logutil.LogDebug(logger, CommandName, removeRecord, errEmptyID)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyID))
	}

	if err := c.client.DeleteRecord(args.ID); err != nil {
		logutil.LogError(logger, CommandName, removeRecord, err.Error(),
			logutil.CreateKeyValueString(recordIDString, args.ID))
		return toCommandError(RecordErrorCode, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, CommandName, removeRecord, successString,
		logutil.CreateKeyValueString(recordIDString, args.ID))

	return nil
}

func messageOptions(args *CreateInvitationArgs) []outofband.MessageOption {
	opts := []outofband.MessageOption{
		outofband.WithLabel(args.Label),
		outofband.WithAlias(args.Alias),
		outofband.WithGoal(args.Goal, args.GoalCode),
		outofband.WithImageURL(args.ImageURL),
		outofband.WithInvitationDID(args.InvitationDID),
		outofband.WithRouterConnection(args.RouterConnectionID),
	}

	if len(args.HandshakeProtocols) > 0 {
		opts = append(opts, outofband.WithHandshakeProtocols(args.HandshakeProtocols...))
	}

	if args.WithoutHandshake {
		opts = append(opts, outofband.WithoutHandshake())
	}

	if len(args.Attachments) > 0 {
		opts = append(opts, outofband.WithAttachments(args.Attachments...))
	}

	if args.MultiUse {
		opts = append(opts, outofband.WithMultiUse())
	}

	if args.AutoAcceptConnection != nil {
		opts = append(opts, outofband.WithAutoAcceptConnection(*args.AutoAcceptConnection))
	}

	return opts
}

func receiveOptions(label, alias, did string, reuse, manualConnection bool,
	timeoutMillis int64) []outofband.ReceiveOption {
	opts := []outofband.ReceiveOption{
		outofband.WithMyLabel(label),
		outofband.WithMyAlias(alias),
		outofband.WithMyDID(did),
	}

	if reuse {
		opts = append(opts, outofband.WithReuseConnection())
	}

	if manualConnection {
		opts = append(opts, outofband.WithManualConnectionAccept())
	}

	if timeoutMillis > 0 {
		opts = append(opts, outofband.WithTimeout(time.Duration(timeoutMillis)*time.Millisecond))
	}

	return opts
}

func toCommandError(code command.Code, err error) command.Error {
	switch {
	case errors.Is(err, oobsvc.ErrRecordNotFound):
		return command.NewNotFoundError(code, err)
	case errors.Is(err, oobsvc.ErrInvalidInvitation), errors.Is(err, oobsvc.ErrDuplicateInvitation):
		return command.NewValidationError(code, err)
	default:
		return command.NewExecuteError(code, err)
	}
}
