package validate

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

// SchemaRule validates a message's content and payload against a JSON
// Schema registered per MessageType. A message of a type with no registered
// schema passes unconditionally — schemas are opt-in per type, not a
// blanket requirement.
type SchemaRule struct {
	name    string
	schemas map[bus.MessageType]*jsonschema.Schema
}

// NewSchemaRule returns an empty SchemaRule; register schemas with
// RegisterSchema before use.
func NewSchemaRule(name string) *SchemaRule {
	return &SchemaRule{
		name:    name,
		schemas: make(map[bus.MessageType]*jsonschema.Schema),
	}
}

// RegisterSchema compiles schema (a JSON Schema document) and binds it to
// msgType. A later call for the same msgType replaces the earlier schema.
func (r *SchemaRule) RegisterSchema(msgType bus.MessageType, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://acgs-bus.local/schemas/%s.json", msgType)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema rule %s: load %s: %w", r.name, msgType, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("schema rule %s: compile %s: %w", r.name, msgType, err)
	}
	r.schemas[msgType] = compiled
	return nil
}

// Name implements Rule.
func (r *SchemaRule) Name() string { return r.name }

// Check implements Rule: it validates msg.Content and msg.Payload together
// against the schema registered for msg.Type, if any.
func (r *SchemaRule) Check(msg *bus.Message) error {
	schema, ok := r.schemas[msg.Type]
	if !ok || schema == nil {
		return nil
	}
	doc := map[string]interface{}{
		"content": stringMapToAny(msg.Content),
		"payload": stringMapToAny(msg.Payload),
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", msg.Type, err)
	}
	return nil
}
