// ABOUTME: Registration-time sanity check for tool descriptors and their input schemas.
// ABOUTME: Catches malformed definitions before they are advertised in tools/list.

package registry

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/2389/stampchain-mcp/internal/toolerr"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// CheckTool validates a descriptor. Failures are validation faults wrapping
// ErrInvalidTool.
func CheckTool(tool Tool) error {
	if !toolNamePattern.MatchString(tool.Name) {
		return invalid(tool.Name, "name must match %s", toolNamePattern)
	}
	if tool.Description == "" {
		return invalid(tool.Name, "description is required")
	}
	if tool.Execute == nil {
		return invalid(tool.Name, "execute function is required")
	}
	return checkSchema(tool.Name, tool.InputSchema)
}

func checkSchema(name string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return invalid(name, "input schema is required")
	}

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return invalid(name, "input schema is not a JSON object: %v", err)
	}
	if schema.Type != "object" {
		return invalid(name, "input schema type must be \"object\", got %q", schema.Type)
	}

	for prop, def := range schema.Properties {
		var m map[string]any
		if err := json.Unmarshal(def, &m); err != nil || m == nil {
			return invalid(name, "property %q must be a schema object", prop)
		}
	}
	for _, req := range schema.Required {
		if _, ok := schema.Properties[req]; !ok {
			return invalid(name, "required property %q is not declared", req)
		}
	}
	return nil
}

func invalid(name, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return toolerr.Wrap(toolerr.KindValidation, ErrInvalidTool,
		fmt.Sprintf("invalid tool %q: %s", name, msg))
}
