package forecast

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsvalidate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/augur/internal/metaculus"
)

// SchemaFor returns the JSON schema for the structured output of the given
// question type. The model is instructed to emit its final answer
// conforming to this schema.
func SchemaFor(questionType metaculus.QuestionType) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var schema *jsonschema.Schema
	switch questionType {
	case metaculus.TypeBinary:
		schema = reflector.Reflect(&Binary{})
	case metaculus.TypeNumeric, metaculus.TypeDiscrete, metaculus.TypeDate:
		schema = reflector.Reflect(&Numeric{})
	case metaculus.TypeMultipleChoice:
		schema = reflector.Reflect(&MultipleChoice{})
	default:
		return nil, fmt.Errorf("no schema for question type %q", questionType)
	}

	raw, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return raw, nil
}

// Parse decodes and validates the model's structured output for the given
// question type, returning the tagged forecast. The raw payload is checked
// against the declared schema first so malformed output is rejected with a
// schema error rather than a partial decode.
func Parse(questionType metaculus.QuestionType, raw json.RawMessage) (*Forecast, error) {
	schemaBytes, err := SchemaFor(questionType)
	if err != nil {
		return nil, err
	}

	compiler := jsvalidate.NewCompiler()
	if err := compiler.AddResource("forecast.json", bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("forecast.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("structured output is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("structured output failed schema validation: %w", err)
	}

	f := &Forecast{Type: questionType}
	switch questionType {
	case metaculus.TypeBinary:
		var payload Binary
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		f.Binary = &payload
	case metaculus.TypeNumeric, metaculus.TypeDiscrete, metaculus.TypeDate:
		var payload Numeric
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		f.Numeric = &payload
	case metaculus.TypeMultipleChoice:
		var payload MultipleChoice
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		f.MultipleChoice = &payload
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
