/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"net/http"

	"github.com/hyperledger/aries-handshake-go/pkg/controller/command"
)

// route is what REST and command handlers share: a key and the method served under it.
type route struct {
	key    string
	method string
}

// Method returns the http method or command method name.
func (r route) Method() string {
	return r.method
}

// HTTPHandler serves one method of a REST path.
type HTTPHandler struct {
	route
	handle http.HandlerFunc
}

// NewHTTPHandler returns instance of HTTPHandler for the given path and http method.
func NewHTTPHandler(path, method string, handle http.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{route: route{key: path, method: method}, handle: handle}
}

// Path returns http request path.
func (h *HTTPHandler) Path() string {
	return h.key
}

// Handle returns http request handle func.
func (h *HTTPHandler) Handle() http.HandlerFunc {
	return h.handle
}

// CommandHandler executes one method of a named command.
type CommandHandler struct {
	route
	handle command.Exec
}

// NewCommandHandler returns instance of CommandHandler for the given command name and method.
func NewCommandHandler(name, method string, exec command.Exec) *CommandHandler {
	return &CommandHandler{route: route{key: name, method: method}, handle: exec}
}

// Name of the command.
func (c *CommandHandler) Name() string {
	return c.key
}

// Handle returns execute function of the command handler.
func (c *CommandHandler) Handle() command.Exec {
	return c.handle
}

// Lookup finds the exec function registered for name and method.
func Lookup(handlers []command.Handler, name, method string) (command.Exec, bool) {
	for _, h := range handlers {
		if h.Name() == name && h.Method() == method {
			return h.Handle(), true
		}
	}

	return nil, false
}
