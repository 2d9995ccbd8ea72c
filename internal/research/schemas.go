package research

import (
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func DefaultViewSchemas() map[string]Schema {
	return map[string]Schema{
		"key_points": {
			"type": "object",
			"properties": map[string]any{
				"main_points":  stringArray(),
				"technologies": stringArray(),
			},
			"required":             []any{"main_points"},
			"additionalProperties": false,
		},
		"entities": {
			"type": "object",
			"properties": map[string]any{
				"organizations": stringArray(),
				"people":        stringArray(),
				"locations":     stringArray(),
			},
			"additionalProperties": false,
		},
		"timeline": {
			"type": "object",
			"properties": map[string]any{
				"events": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"year":  map[string]any{"type": "string"},
							"event": map[string]any{"type": "string"},
						},
					},
				},
			},
			"additionalProperties": false,
		},
	}
}

// LoadSchemaSet reads a file mapping view names to schemas. YAML is accepted,
// and so is JSON since it is valid YAML.
func LoadSchemaSet(path string) (map[string]Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema set %s", path)
	}
	return ParseSchemaSet(raw)
}

func ParseSchemaSet(raw []byte) (map[string]Schema, error) {
	var decoded map[string]map[string]any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode schema set")
	}
	if len(decoded) == 0 {
		return nil, errors.New("schema set is empty")
	}

	out := make(map[string]Schema, len(decoded))
	for name, schema := range decoded {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, errors.New("schema set has a blank name")
		}
		if len(schema) == 0 {
			return nil, errors.Errorf("schema %q is empty", trimmed)
		}
		out[trimmed] = Schema(schema)
	}
	return out, nil
}

func LoadSchema(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema %s", path)
	}
	var schema Schema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, errors.Wrapf(err, "decode schema %s", path)
	}
	if len(schema) == 0 {
		return nil, errors.Errorf("schema %s is empty", path)
	}
	return schema, nil
}
