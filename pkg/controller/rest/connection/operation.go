/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	clientconn "github.com/hyperledger/aries-handshake-go/pkg/client/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/command/connection"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/internal/cmdutil"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/rest"
	connsvc "github.com/hyperledger/aries-handshake-go/pkg/didcomm/connection"
)

// constants for connection management endpoints.
const (
	OperationID        = "/connections"
	GetConnectionPath  = OperationID + "/{id}"
	AcceptRequestPath  = OperationID + "/{id}/accept-request"
	AcceptResponsePath = OperationID + "/{id}/accept-response"
	PingPath           = OperationID + "/{id}/ping"
)

type provider interface {
	ConnectionService() *connsvc.Service
	Service(id string) (interface{}, error)
}

// Operation is the REST controller for connection management.
type Operation struct {
	command  *connection.Command
	handlers []rest.Handler
}

// New returns new connection management rest client protocol instance.
func New(p provider, notifier command.Notifier) (*Operation, error) {
	cmd, err := connection.New(p, notifier)
	if err != nil {
		return nil, fmt.Errorf("connection command : %w", err)
	}

	op := &Operation{
		command: cmd,
	}

	op.registerHandler()

	return op, nil
}

// GetRESTHandlers get all controller API handlers available for this service.
func (c *Operation) GetRESTHandlers() []rest.Handler {
	return c.handlers
}

// registerHandler register handlers to be exposed from this service as REST API endpoints.
func (c *Operation) registerHandler() {
	c.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(OperationID, http.MethodGet, c.QueryConnections),
		cmdutil.NewHTTPHandler(GetConnectionPath, http.MethodGet, c.GetConnection),
		cmdutil.NewHTTPHandler(GetConnectionPath, http.MethodDelete, c.RemoveConnection),
		cmdutil.NewHTTPHandler(AcceptRequestPath, http.MethodPost, c.AcceptRequest),
		cmdutil.NewHTTPHandler(AcceptResponsePath, http.MethodPost, c.AcceptResponse),
		cmdutil.NewHTTPHandler(PingPath, http.MethodPost, c.Ping),
	}
}

// QueryConnections swagger:route GET /connections connections queryConnections
//
// Returns the connections matching the state, their_did, my_did, outofband_id and protocol query parameters.
//
// Responses:
//    default: genericError
//        200: queryConnectionsResponse
func (c *Operation) QueryConnections(rw http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	body, err := json.Marshal(connection.QueryConnectionsArgs{QueryConnectionsParams: clientconn.QueryConnectionsParams{
		State:       q.Get("state"),
		TheirDID:    q.Get("their_did"),
		MyDID:       q.Get("my_did"),
		OutOfBandID: q.Get("outofband_id"),
		Protocol:    q.Get("protocol"),
	}})
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, connection.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(c.command.QueryConnections, rw, bytes.NewBuffer(body))
}

// GetConnection swagger:route GET /connections/{id} connections getConnection
//
// Returns the connection.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) GetConnection(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.GetConnection, rw, idRequest(req))
}

// RemoveConnection swagger:route DELETE /connections/{id} connections removeConnection
//
// Removes the connection record.
//
// Responses:
//    default: genericError
func (c *Operation) RemoveConnection(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.RemoveConnection, rw, idRequest(req))
}

// AcceptRequest swagger:route POST /connections/{id}/accept-request connections acceptRequest
//
// Answers a handshake request that was not accepted automatically.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) AcceptRequest(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.AcceptRequest, rw, idRequest(req))
}

// AcceptResponse swagger:route POST /connections/{id}/accept-response connections acceptResponse
//
// Completes a handshake whose response was not accepted automatically.
//
// Responses:
//    default: genericError
//        200: connectionResponse
func (c *Operation) AcceptResponse(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(c.command.AcceptResponse, rw, idRequest(req))
}

// Ping swagger:route POST /connections/{id}/ping connections ping
//
// Sends a trust ping and returns the round trip time. The optional timeout query parameter is in milliseconds.
//
// Responses:
//    default: genericError
//        200: pingResponse
func (c *Operation) Ping(rw http.ResponseWriter, req *http.Request) {
	args := connection.PingArgs{ID: mux.Vars(req)["id"]}

	if v := req.URL.Query().Get("timeout"); v != "" {
		timeout, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			rest.SendHTTPStatusError(rw, http.StatusBadRequest, connection.InvalidRequestErrorCode,
				fmt.Errorf("invalid timeout: %w", err))

			return
		}

		args.Timeout = timeout
	}

	body, err := json.Marshal(args)
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusInternalServerError, connection.InvalidRequestErrorCode, err)

		return
	}

	rest.Execute(c.command.Ping, rw, bytes.NewBuffer(body))
}

func idRequest(req *http.Request) *bytes.Buffer {
	return bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, mux.Vars(req)["id"]))
}
