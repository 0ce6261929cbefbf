/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/hyperledger/aries-framework-go/spi/log"
)

// WriteNillableResponse is a utility function that writes v to w.
// If v is nil then an empty object is written.
func WriteNillableResponse(w io.Writer, v interface{}, l log.Logger) {
	obj := v
	if v == nil {
		obj = map[string]interface{}{}
	}

	if err := json.NewEncoder(w).Encode(obj); err != nil {
		l.Errorf("Unable to send response, %s", err)
	}
}

// DecodeArgs reads the JSON arguments of a command. A missing or empty body leaves args untouched.
func DecodeArgs(req io.Reader, args interface{}) error {
	if req == nil {
		return nil
	}

	err := json.NewDecoder(req).Decode(args)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
