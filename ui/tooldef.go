package ui

import (
	"github.com/invopop/jsonschema"
)

// ToolFor builds a Tool declaration whose input schema is reflected from the
// arguments struct A. Field names, json tags, jsonschema tags (description,
// enum) and required-ness all carry through, so callers declare tools with a
// plain Go type instead of hand-writing schema maps.
func ToolFor[A any](name, description string) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: reflectInputSchema[A](),
	}
}

func reflectInputSchema[A any]() ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(new(A))

	// Non-struct argument types reflect to something other than an object;
	// fall back to an unconstrained object schema.
	if s.Type != "object" || s.Properties == nil {
		return ToolInputSchema{Type: "object"}
	}

	out := ToolInputSchema{
		Type:     "object",
		Required: s.Required,
	}
	if s.Properties.Len() > 0 {
		out.Properties = make(map[string]SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toSchemaProperty(el.Value)
		}
	}
	return out
}

func toSchemaProperty(s *jsonschema.Schema) SchemaProperty {
	if s == nil {
		return SchemaProperty{}
	}
	p := SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = append(p.Enum, s.Enum...)
	}
	if s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		p.Properties = make(map[string]SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p.Properties[el.Key] = toSchemaProperty(el.Value)
		}
	}
	return p
}
