package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidOperation wraps every schema or decode failure of an inbound
// operation.
var ErrInvalidOperation = errors.New("invalid operation")

var operationSchema struct {
	once    sync.Once
	schema  *jsonschema.Schema
	initErr error
}

func validateOperation(raw []byte) error {
	operationSchema.once.Do(func() {
		operationSchema.schema, operationSchema.initErr = jsonschema.CompileString("operation.json", operationSchemaJSON)
	})
	if operationSchema.initErr != nil {
		return fmt.Errorf("compile operation schema: %w", operationSchema.initErr)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if err := operationSchema.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return nil
}

const operationSchemaJSON = `{
  "$defs": {
    "point": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      }
    },
    "element": {
      "type": "object",
      "required": ["id", "type", "position", "size"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "enum": ["shape", "text", "sticky", "image", "frame", "arrow", "smart", "group", "file"]
        },
        "position": { "$ref": "#/$defs/point" },
        "size": {
          "type": "object",
          "required": ["width", "height"],
          "properties": {
            "width": { "type": "number", "minimum": 0 },
            "height": { "type": "number", "minimum": 0 }
          }
        },
        "rotation": { "type": "number" },
        "visible": { "type": "boolean" },
        "locked": { "type": "boolean" },
        "layerId": { "type": "string" },
        "style": { "type": ["object", "null"] },
        "metadata": { "type": "object" },
        "data": { "type": ["object", "null"] }
      }
    }
  },
  "type": "object",
  "required": ["type", "operationId", "userId", "timestamp"],
  "properties": {
    "type": { "enum": ["add", "update", "delete", "reorder", "bulk_update"] },
    "operationId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string" },
    "clientId": { "type": "string" },
    "timestamp": { "type": "integer" },
    "elementId": { "type": "string", "minLength": 1 },
    "elementIds": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "element": { "$ref": "#/$defs/element" },
    "elements": {
      "type": "array",
      "items": { "$ref": "#/$defs/element" }
    },
    "data": { "type": ["object", "null"] }
  },
  "allOf": [
    {
      "if": { "properties": { "type": { "enum": ["add", "update"] } } },
      "then": { "required": ["element"] }
    },
    {
      "if": { "properties": { "type": { "const": "delete" } } },
      "then": { "required": ["elementIds"] }
    },
    {
      "if": { "properties": { "type": { "const": "reorder" } } },
      "then": {
        "required": ["elementId", "data"],
        "properties": {
          "data": {
            "type": "object",
            "required": ["fromIndex", "toIndex"],
            "properties": {
              "fromIndex": { "type": "integer" },
              "toIndex": { "type": "integer" }
            }
          }
        }
      }
    },
    {
      "if": { "properties": { "type": { "const": "bulk_update" } } },
      "then": { "required": ["elements"] }
    }
  ]
}`
