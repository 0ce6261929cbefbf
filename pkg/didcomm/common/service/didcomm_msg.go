/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

const (
	jsonID       = "@id"
	jsonType     = "@type"
	jsonThread   = "~thread"
	jsonThreadID = "thid"
	jsonPThID    = "pthid"
	jsonMetadata = "_internal_metadata"
)

// DIDCommMsgMap is a DIDComm v1 plaintext message kept as a generic map.
type DIDCommMsgMap map[string]interface{}

// ParseDIDCommMsgMap parses a plaintext payload. The payload must be a JSON object with a string '@type'.
func ParseDIDCommMsgMap(payload []byte) (DIDCommMsgMap, error) {
	var msg DIDCommMsgMap

	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err.Error())
	}

	if msg.Type() == "" {
		return nil, fmt.Errorf("%w: message type is missing", ErrInvalidMessage)
	}

	return msg, nil
}

// NewDIDCommMsgMap converts a message model into a DIDCommMsgMap. The model must be JSON serializable.
func NewDIDCommMsgMap(v interface{}) DIDCommMsgMap {
	msg := DIDCommMsgMap{}

	raw, err := json.Marshal(v)
	if err != nil {
		return msg
	}

	_ = json.Unmarshal(raw, &msg) // nolint:errcheck

	return msg
}

// ID returns '@id'.
func (m DIDCommMsgMap) ID() string {
	return m.stringField(jsonID)
}

// Type returns '@type'.
func (m DIDCommMsgMap) Type() string {
	return m.stringField(jsonType)
}

// ThreadID returns '~thread.thid' or, for the first message of a thread, '@id'.
func (m DIDCommMsgMap) ThreadID() (string, error) {
	if thid := m.threadField(jsonThreadID); thid != "" {
		return thid, nil
	}

	if id := m.ID(); id != "" {
		return id, nil
	}

	return "", ErrThreadIDNotFound
}

// ParentThreadID returns '~thread.pthid'.
func (m DIDCommMsgMap) ParentThreadID() string {
	return m.threadField(jsonPThID)
}

// SetID sets '@id'.
func (m DIDCommMsgMap) SetID(id string) {
	m[jsonID] = id
}

// SetThread sets '~thread'. Empty values are left out.
func (m DIDCommMsgMap) SetThread(thid, pthid string) {
	thread := map[string]interface{}{}

	if existing, ok := m[jsonThread].(map[string]interface{}); ok {
		for k, v := range existing {
			thread[k] = v
		}
	}

	if thid != "" {
		thread[jsonThreadID] = thid
	}

	if pthid != "" {
		thread[jsonPThID] = pthid
	}

	m[jsonThread] = thread
}

// Metadata returns internal metadata attached to the message. It is never serialized to the wire.
func (m DIDCommMsgMap) Metadata() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}

	res, ok := m[jsonMetadata].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}

	return res
}

// Clone returns a shallow copy of the message.
func (m DIDCommMsgMap) Clone() DIDCommMsgMap {
	if m == nil {
		return nil
	}

	msg := DIDCommMsgMap{}
	for k, v := range m {
		msg[k] = v
	}

	return msg
}

// MarshalJSON omits the internal metadata.
func (m DIDCommMsgMap) MarshalJSON() ([]byte, error) {
	plain := make(map[string]interface{}, len(m))

	for k, v := range m {
		if k == jsonMetadata {
			continue
		}

		plain[k] = v
	}

	return json.Marshal(plain)
}

// Decode converts the message into the given model. Fields are matched by their json tag.
func (m DIDCommMsgMap) Decode(v interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       jsonUnmarshalerHook,
		WeaklyTypedInput: true,
		Result:           v,
		TagName:          "json",
	})
	if err != nil {
		return err
	}

	return decoder.Decode(m.Clone())
}

func (m DIDCommMsgMap) stringField(name string) string {
	if m == nil {
		return ""
	}

	res, ok := m[name].(string)
	if !ok {
		return ""
	}

	return res
}

func (m DIDCommMsgMap) threadField(name string) string {
	if m == nil {
		return ""
	}

	thread, ok := m[jsonThread].(map[string]interface{})
	if !ok {
		return ""
	}

	res, ok := thread[name].(string)
	if !ok {
		return ""
	}

	return res
}

// jsonUnmarshalerHook lets types with their own JSON form (DID documents, timestamps) decode from a map.
func jsonUnmarshalerHook(_, to reflect.Type, data interface{}) (interface{}, error) {
	target := reflect.New(to)

	u, ok := target.Interface().(json.Unmarshaler)
	if !ok {
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	if err := u.UnmarshalJSON(raw); err != nil {
		return nil, err
	}

	return target.Elem().Interface(), nil
}
