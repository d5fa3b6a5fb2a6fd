// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package protocol implements the JSON-RPC 2.0 envelope and the subset of
// Model Context Protocol types needed to supervise stdio tool servers.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only accepted "jsonrpc" member value.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

// Method names used by the client side of the handshake and tool calls.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// RequestID is a JSON-RPC id. Servers may echo numeric ids as strings or the
// reverse, so ids are compared through Key rather than by raw bytes.
type RequestID struct {
	raw json.RawMessage
}

// NumericID builds an id from an integer.
func NumericID(n int64) *RequestID {
	return &RequestID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// StringID builds an id from a string.
func StringID(s string) *RequestID {
	b, _ := json.Marshal(s)
	return &RequestID{raw: b}
}

// Key returns a normalized form used to match responses to requests.
func (r *RequestID) Key() string {
	if r == nil || len(r.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(r.raw))
}

// String implements fmt.Stringer.
func (r *RequestID) String() string {
	if k := r.Key(); k != "" {
		return k
	}
	return "null"
}

// MarshalJSON implements json.Marshaler.
func (r *RequestID) MarshalJSON() ([]byte, error) {
	if r == nil || len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only strings, integers and null
// are valid ids.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		r.raw = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		r.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
	var n int64
	if err := json.Unmarshal(trimmed, &n); err == nil {
		r.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
	return fmt.Errorf("invalid request ID: %s", data)
}

// Request is a JSON-RPC request, or a notification when ID is nil.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest marshals params into a request envelope.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It is returned as a Go error by the client.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError creates an error, marshaling data when present.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Envelope is used to sniff an inbound line before deciding whether it is a
// response to one of our requests or a server-initiated message.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether the envelope carries a result or an error.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && (len(e.Result) > 0 || e.Error != nil)
}

// Response converts the envelope into a Response.
func (e *Envelope) Response() *Response {
	return &Response{JSONRPC: e.JSONRPC, ID: e.ID, Result: e.Result, Error: e.Error}
}
