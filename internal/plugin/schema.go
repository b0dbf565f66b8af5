// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// MetadataSchemaID is the published $id for registry metadata records.
const MetadataSchemaID = "https://panelkit.dev/schemas/plugin-metadata.schema.json"

// GenerateMetadataSchema generates a JSON Schema for the Metadata record,
// for publication to registry implementers.
func GenerateMetadataSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Metadata{})

	schema.ID = jsonschema.ID(MetadataSchemaID)
	schema.Title = "PanelKit Plugin Metadata"
	schema.Description = "Schema for plugin registry metadata records"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateConfig checks a configuration payload against the plugin's
// declared config schema. A nil/empty schema accepts everything.
// Violations are advisory at the call sites: the slot logs them and still
// delivers the payload.
func ValidateConfig(schemaJSON json.RawMessage, config map[string]any) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	var schemaData any
	if err := json.Unmarshal(schemaJSON, &schemaData); err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("config.schema.json", schemaData); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	// Round-trip to JSON-compatible types; config payloads may hold
	// arbitrary Go values when constructed in-process.
	payload := convertToJSONTypes(config)
	if err := sch.Validate(payload); err != nil {
		return fmt.Errorf("config schema validation failed: %w", err)
	}
	return nil
}

// convertToJSONTypes normalizes nested values to JSON-compatible types.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case string, float64, bool, nil:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}
