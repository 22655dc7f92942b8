// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// fieldContract is the JSON Schema every backend response must satisfy.
// Extra keys and missing keys are both rejected.
const fieldContract = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "content": {"type": "string"},
    "page_references": {"type": "array", "items": {"type": "integer"}}
  },
  "required": ["content", "page_references"],
  "additionalProperties": false
}`

// FieldContract returns the response schema sent to backends.
func FieldContract() json.RawMessage {
	return json.RawMessage(fieldContract)
}

// compiledContract is compiled once; a compiled schema is safe for
// concurrent validation.
var compiledContract = mustCompileContract()

func mustCompileContract() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("field-contract.json", strings.NewReader(fieldContract)); err != nil {
		panic(fmt.Sprintf("add field contract: %v", err))
	}
	return compiler.MustCompile("field-contract.json")
}

// fieldResponse is a validated backend response.
type fieldResponse struct {
	Content        string `json:"content"`
	PageReferences []int  `json:"page_references"`
}

// parseResponse strips Markdown code fences, validates raw against the
// field contract, and decodes it.
func parseResponse(field types.FieldID, raw []byte) (fieldResponse, error) {
	data := stripCodeFences(raw)
	if len(data) == 0 {
		return fieldResponse{}, &ValidationError{Field: field, Reason: "empty response"}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fieldResponse{}, &ValidationError{Field: field, Reason: "response is not JSON", Err: err}
	}
	if err := compiledContract.Validate(v); err != nil {
		return fieldResponse{}, &ValidationError{Field: field, Reason: "response does not match contract", Err: err}
	}

	var resp fieldResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fieldResponse{}, &ValidationError{Field: field, Reason: "decoding response", Err: err}
	}
	resp.PageReferences = types.NormalizePages(resp.PageReferences)
	return resp, nil
}

// stripCodeFences removes a surrounding ``` or ```json fence.
func stripCodeFences(raw []byte) []byte {
	data := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		data = data[nl+1:]
	} else {
		data = bytes.TrimPrefix(data, []byte("```"))
	}
	data = bytes.TrimSpace(data)
	data = bytes.TrimSuffix(data, []byte("```"))
	return bytes.TrimSpace(data)
}
