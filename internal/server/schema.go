package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const executeMsgSchema = `{
  "oneOf": [
    {
      "type": "object",
      "required": ["create_poll"],
      "additionalProperties": false,
      "properties": {
        "create_poll": {
          "type": "object",
          "required": ["poll_id", "question", "options"],
          "additionalProperties": false,
          "properties": {
            "poll_id": {"type": "string", "minLength": 1},
            "question": {"type": "string"},
            "options": {"type": "array", "items": {"type": "string"}}
          }
        }
      }
    },
    {
      "type": "object",
      "required": ["vote"],
      "additionalProperties": false,
      "properties": {
        "vote": {
          "type": "object",
          "required": ["poll_id", "vote"],
          "additionalProperties": false,
          "properties": {
            "poll_id": {"type": "string"},
            "vote": {"type": "string"}
          }
        }
      }
    }
  ]
}`

const queryMsgSchema = `{
  "oneOf": [
    {
      "type": "object",
      "required": ["all_polls"],
      "additionalProperties": false,
      "properties": {"all_polls": {"type": "object", "additionalProperties": false}}
    },
    {
      "type": "object",
      "required": ["poll"],
      "additionalProperties": false,
      "properties": {
        "poll": {
          "type": "object",
          "required": ["poll_id"],
          "additionalProperties": false,
          "properties": {"poll_id": {"type": "string"}}
        }
      }
    },
    {
      "type": "object",
      "required": ["vote"],
      "additionalProperties": false,
      "properties": {
        "vote": {
          "type": "object",
          "required": ["poll_id", "address"],
          "additionalProperties": false,
          "properties": {
            "poll_id": {"type": "string"},
            "address": {"type": "string"}
          }
        }
      }
    },
    {
      "type": "object",
      "required": ["config"],
      "additionalProperties": false,
      "properties": {"config": {"type": "object", "additionalProperties": false}}
    }
  ]
}`

var (
	executeSchema = mustSchema(executeMsgSchema)
	querySchema   = mustSchema(queryMsgSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile message schema: %v", err))
	}
	return s
}

type ValidationErrorItem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaValidationError lists why a raw message was rejected.
type SchemaValidationError struct {
	Errors []ValidationErrorItem `json:"validation_errors"`
}

func (e *SchemaValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "message does not match schema"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		parts = append(parts, item.Path+": "+item.Message)
	}
	return "message does not match schema: " + strings.Join(parts, "; ")
}

func validateMessage(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	items := make([]ValidationErrorItem, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		items = append(items, ValidationErrorItem{Path: item.Field(), Message: item.Description()})
	}
	return &SchemaValidationError{Errors: items}
}
