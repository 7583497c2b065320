package handshake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const requestSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["kind", "id", "from", "supportedProtocols", "timestamp"],
	"properties": {
		"kind": {"const": "handshake_request"},
		"id": {"type": "string", "minLength": 1},
		"from": {"type": "string", "minLength": 1},
		"supportedProtocols": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"capabilities": {
			"type": "array",
			"items": {"type": "string"}
		},
		"timestamp": {"type": "integer"}
	}
}`

const responseSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["kind", "requestId", "accepted"],
	"properties": {
		"kind": {"const": "handshake_response"},
		"requestId": {"type": "string", "minLength": 1},
		"from": {"type": "string"},
		"accepted": {"type": "boolean"},
		"protocol": {"type": "string"},
		"supportedProtocols": {
			"type": "array",
			"items": {"type": "string"}
		},
		"capabilities": {
			"type": "array",
			"items": {"type": "string"}
		},
		"reason": {"type": "string"},
		"timestamp": {"type": "integer"}
	}
}`

var (
	schemaOnce     sync.Once
	schemaErr      error
	requestSchema  *jsonschema.Schema
	responseSchema *jsonschema.Schema
)

func compileSchemas() {
	requestSchema, schemaErr = compile("handshake_request.json", requestSchemaJSON)
	if schemaErr != nil {
		return
	}
	responseSchema, schemaErr = compile("handshake_response.json", responseSchemaJSON)
}

func compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reparse envelope: %w", err)
	}
	return schema.Validate(parsed)
}

// ValidateRequest checks a request envelope against the wire schema.
func ValidateRequest(req *Request) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	return validate(requestSchema, req)
}

// ValidateResponse checks a response envelope against the wire schema.
func ValidateResponse(resp *Response) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	return validate(responseSchema, resp)
}
