package util

import (
	"reflect"
	"strings"
)

// SchemaFromStruct derives a JSON Schema object from the exported fields of a
// struct. It exists so tests and examples can declare descriptor schemas as
// plain structs; real tool servers ship their schemas in the handshake.
//
// Fields are named by their json tag, annotated from the description tag, and
// required unless the json tag carries omitempty or the field is a pointer.
func SchemaFromStruct(v any) map[string]any {
	properties := map[string]any{}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string
	for _, field := range reflect.VisibleFields(t) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		optional := field.Type.Kind() == reflect.Pointer ||
			strings.Contains(","+opts+",", ",omitempty,")
		if !optional {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch k := t.Kind(); {
	case k == reflect.Bool:
		return "boolean"
	case k >= reflect.Int && k <= reflect.Uint64:
		return "integer"
	case k == reflect.Float32 || k == reflect.Float64:
		return "number"
	case k == reflect.Slice || k == reflect.Array:
		return "array"
	case k == reflect.Map || k == reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
