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

package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateToolArguments checks arguments against the tool's input schema.
// Tools without a schema accept anything.
func ValidateToolArguments(tool Tool, arguments map[string]any) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(tool.InputSchema),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid arguments for %s: %s", tool.Name, strings.Join(msgs, "; "))
}

// ValidateResponse checks the structural rules of a JSON-RPC response.
func ValidateResponse(resp *Response) error {
	if resp.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %q (expected %s)", resp.JSONRPC, JSONRPCVersion)
	}
	if resp.ID.Key() == "" {
		return errors.New("response ID is required")
	}
	if (len(resp.Result) > 0) == (resp.Error != nil) {
		return errors.New("response must have exactly one of result or error")
	}
	return nil
}
