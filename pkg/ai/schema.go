package ai

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

var jsonSchemaReflector = jsonschema.Reflector{
	Anonymous:                 true,
	AllowAdditionalProperties: true,
	DoNotReference:            true,
	ExpandedStruct:            true,
}

// ReflectSchema converts a Go struct type into the generic JSON-schema map
// that StructuredRequest.Schema expects.
func ReflectSchema(v any) (map[string]any, error) {
	schema := jsonSchemaReflector.ReflectFromType(reflect.TypeOf(v))

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(schemaBytes, &out); err != nil {
		return nil, err
	}
	return out, nil
}
