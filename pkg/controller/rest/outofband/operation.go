/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outofband

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	client "github.com/hyperledger/aries-handshake-go/pkg/client/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	cmdoob "github.com/hyperledger/aries-handshake-go/pkg/controller/command/outofband"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/internal/cmdutil"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/rest"
)

// constants for out-of-band endpoints.
const (
	OperationID            = "/outofband"
	CreateInvitation       = OperationID + "/create-invitation"
	CreateLegacyInvitation = OperationID + "/create-legacy-invitation"
	ReceiveInvitation      = OperationID + "/receive-invitation"
	AcceptInvitation       = OperationID + "/{id}/accept-invitation"
	Records                = OperationID + "/records"
	Record                 = Records + "/{id}"
)

// Operation is controller REST service controller for outofband.
type Operation struct {
	command  *cmdoob.Command
	handlers []rest.Handler
}

// New returns new outofband rest client protocol instance.
func New(ctx client.Provider, notifier command.Notifier) (*Operation, error) {
	cmd, err := cmdoob.New(ctx, notifier)
	if err != nil {
		return nil, fmt.Errorf("outofband command : %w", err)
	}

	o := &Operation{command: cmd}
	o.registerHandler()

	return o, nil
}

// GetRESTHandlers get all controller API handler available for this protocol service.
func (c *Operation) GetRESTHandlers() []rest.Handler {
	return c.handlers
}

func (c *Operation) registerHandler() {
	c.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(CreateInvitation, http.MethodPost, c.CreateInvitation),
		cmdutil.NewHTTPHandler(CreateLegacyInvitation, http.MethodPost, c.CreateLegacyInvitation),
		cmdutil.NewHTTPHandler(ReceiveInvitation, http.MethodPost, c.ReceiveInvitation),
		cmdutil.NewHTTPHandler(AcceptInvitation, http.MethodPost, c.AcceptInvitation),
		cmdutil.NewHTTPHandler(Records, http.MethodGet, c.QueryRecords),
		cmdutil.NewHTTPHandler(Record, http.MethodGet, c.GetRecord),
		cmdutil.NewHTTPHandler(Record, http.MethodDelete, c.RemoveRecord),
	}
}

// CreateInvitation swagger:route POST /outofband/create-invitation outofband outofbandCreateInvitation
//
// Creates an invitation.
//
// Responses:
//    default: genericError
//        200: outofbandCreateInvitationResponse
func (c *Operation) CreateInvitation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.CreateInvitation, rw, req.Body)
}

// CreateLegacyInvitation swagger:route POST /outofband/create-legacy-invitation outofband outofbandCreateLegacyInvitation
//
// Creates a Connections protocol invitation.
//
// Responses:
//    default: genericError
//        200: outofbandCreateLegacyInvitationResponse
func (c *Operation) CreateLegacyInvitation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.CreateLegacyInvitation, rw, req.Body)
}

// ReceiveInvitation swagger:route POST /outofband/receive-invitation outofband outofbandReceiveInvitation
//
// Receives an invitation and accepts it unless manual_accept is set.
//
// Responses:
//    default: genericError
//        200: outofbandAcceptResponse
func (c *Operation) ReceiveInvitation(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.ReceiveInvitation, rw, req.Body)
}

// AcceptInvitation swagger:route POST /outofband/{id}/accept-invitation outofband outofbandAcceptInvitation
//
// Accepts an invitation received with manual_accept.
//
// Responses:
//    default: genericError
//        200: outofbandAcceptResponse
func (c *Operation) AcceptInvitation(rw http.ResponseWriter, req *http.Request) {
	args := cmdoob.AcceptInvitationArgs{}

	if err := command.DecodeArgs(req.Body, &args); err != nil {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, cmdoob.InvalidRequestErrorCode, err)

		return
	}

	args.ID = mux.Vars(req)["id"]

	body, err := json.Marshal(args)
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, cmdoob.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(c.command.AcceptInvitation, rw, bytes.NewBuffer(body))
}

// QueryRecords swagger:route GET /outofband/records outofband outofbandQueryRecords
//
// Returns the out-of-band records matching the role, state and invitation_id query parameters.
//
// Responses:
//    default: genericError
//        200: outofbandQueryRecordsResponse
func (c *Operation) QueryRecords(rw http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	body, err := json.Marshal(cmdoob.QueryRecordsArgs{
		Role:         q.Get("role"),
		State:        q.Get("state"),
		InvitationID: q.Get("invitation_id"),
	})
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, cmdoob.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(c.command.QueryRecords, rw, bytes.NewBuffer(body))
}

// GetRecord swagger:route GET /outofband/records/{id} outofband outofbandGetRecord
//
// Returns the out-of-band record.
//
// Responses:
//    default: genericError
//        200: outofbandRecordResponse
func (c *Operation) GetRecord(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.GetRecord, rw, idRequest(req))
}

// RemoveRecord swagger:route DELETE /outofband/records/{id} outofband outofbandRemoveRecord
//
// Removes the out-of-band record.
//
// Responses:
//    default: genericError
func (c *Operation) RemoveRecord(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.RemoveRecord, rw, idRequest(req))
}

func idRequest(req *http.Request) *bytes.Buffer {
	return bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, mux.Vars(req)["id"]))
}
