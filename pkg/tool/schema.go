package tool

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Schema is a function input schema in both JSON Schema form, used to validate arguments
// sent by the model, and Gemini form, used in the function declaration
type Schema struct {
	resolved *jsonschema.Resolved
	genai    *genai.Schema
}

// SchemaFor infers the schema of T from its struct tags
func SchemaFor[T any]() (*Schema, error) {
	js, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer json schema")
	}

	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve json schema")
	}

	gs, err := ConvertJSONSchemaToGenai(js)
	if err != nil {
		return nil, err
	}

	return &Schema{resolved: resolved, genai: gs}, nil
}

// Genai returns the schema for a Gemini function declaration
func (s *Schema) Genai() *genai.Schema {
	return s.genai
}

// Validate checks function call arguments against the schema
func (s *Schema) Validate(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	if err := s.resolved.Validate(args); err != nil {
		return goerr.Wrap(err, "arguments do not match schema")
	}
	return nil
}

// ConvertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func ConvertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	genaiSchema := &genai.Schema{}

	// Map type
	switch schema.Type {
	case "object":
		genaiSchema.Type = genai.TypeObject
	case "string":
		genaiSchema.Type = genai.TypeString
	case "number":
		genaiSchema.Type = genai.TypeNumber
	case "integer":
		genaiSchema.Type = genai.TypeInteger
	case "boolean":
		genaiSchema.Type = genai.TypeBoolean
	case "array":
		genaiSchema.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
		}
	}

	if schema.Description != "" {
		genaiSchema.Description = schema.Description
	}

	if len(schema.Enum) > 0 {
		genaiSchema.Enum = make([]string, len(schema.Enum))
		for i, v := range schema.Enum {
			if s, ok := v.(string); ok {
				genaiSchema.Enum[i] = s
			}
		}
	}

	if len(schema.Properties) > 0 {
		genaiSchema.Properties = make(map[string]*genai.Schema)
		for name, propSchema := range schema.Properties {
			converted, err := ConvertJSONSchemaToGenai(propSchema)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema",
					goerr.V("property", name))
			}
			genaiSchema.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		genaiSchema.Required = schema.Required
	}

	if schema.Items != nil {
		converted, err := ConvertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		genaiSchema.Items = converted
	}

	return genaiSchema, nil
}
