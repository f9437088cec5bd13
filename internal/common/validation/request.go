// Package validation checks inbound request descriptors against a JSON
// schema before the coordinator allocates any per-request state.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"oracle-orchestrator/internal/common/errors"
)

var requestSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"id": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"input": map[string]interface{}{
			"type": "string",
		},
		"deadlineHintMs": map[string]interface{}{
			"type":    "integer",
			"minimum": 0,
		},
		"kinds": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "string",
				"enum": []string{"context", "generation", "terminal"},
			},
		},
	},
	"required":             []string{"id"},
	"additionalProperties": true,
}

// ValidateRequestDescriptor validates the opaque descriptor shape arriving
// from the API layer. Violations come back as a single VALIDATION_FAILED
// error listing every failing field.
func ValidateRequestDescriptor(descriptor interface{}) error {
	data, err := json.Marshal(descriptor)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("descriptor not serializable: %v", err))
	}

	schemaLoader := gojsonschema.NewGoLoader(requestSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("schema validation error: %v", err))
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return errors.NewValidationError(strings.Join(details, "; "))
}
