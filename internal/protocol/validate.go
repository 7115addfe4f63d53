// ABOUTME: Structural validation of tool response envelopes before they leave the server.
// ABOUTME: Checks the encoded JSON so the gate sees exactly what the client will receive.

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/2389/stampchain-mcp/internal/toolerr"
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldObject
)

// contentFields lists, per content type, the fields an item must carry
// besides "type". No other fields are allowed.
var contentFields = map[ContentType]map[string]fieldKind{
	ContentText:     {"text": fieldString},
	ContentImage:    {"data": fieldString, "mimeType": fieldString},
	ContentResource: {"resource": fieldObject},
}

// ValidateResponse checks that resp is a well-formed tool response.
// The returned error is a KindProtocol *toolerr.Error.
func ValidateResponse(resp *ToolResponse) error {
	if resp == nil {
		return toolerr.New(toolerr.KindProtocol, "response is nil")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return toolerr.Wrap(toolerr.KindProtocol, err, "response is not encodable")
	}
	return ValidateResponseJSON(data)
}

// IsValidResponse is the boolean form of ValidateResponse.
func IsValidResponse(resp *ToolResponse) bool {
	return ValidateResponse(resp) == nil
}

// ValidateResponseJSON checks an encoded tool response.
func ValidateResponseJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return toolerr.Wrap(toolerr.KindProtocol, err, "response must be a JSON object")
	}

	rawContent, ok := top["content"]
	if !ok {
		return toolerr.New(toolerr.KindProtocol, "response is missing content")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawContent, &items); err != nil || items == nil {
		return toolerr.New(toolerr.KindProtocol, "content must be an array")
	}
	for i, raw := range items {
		if err := validateItem(raw); err != nil {
			return toolerr.Newf(toolerr.KindProtocol, "content[%d]: %v", i, err)
		}
	}

	if raw, ok := top["isError"]; ok {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return toolerr.New(toolerr.KindProtocol, "isError must be a boolean")
		}
	}
	if raw, ok := top["_meta"]; ok {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			return toolerr.New(toolerr.KindProtocol, "_meta must be an object")
		}
	}
	return nil
}

func validateItem(raw json.RawMessage) error {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return fmt.Errorf("item must be an object")
	}

	typeName, ok := item["type"].(string)
	if !ok {
		return fmt.Errorf("item type must be a string")
	}
	required, known := contentFields[ContentType(typeName)]
	if !known {
		return fmt.Errorf("unrecognized content type %q", typeName)
	}

	for field, kind := range required {
		v, present := item[field]
		if !present {
			return fmt.Errorf("%s item is missing %q", typeName, field)
		}
		switch kind {
		case fieldString:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%s item field %q must be a string", typeName, field)
			}
		case fieldObject:
			if _, ok := v.(map[string]any); !ok {
				return fmt.Errorf("%s item field %q must be an object", typeName, field)
			}
		}
	}

	for field := range item {
		if field == "type" {
			continue
		}
		if _, allowed := required[field]; !allowed {
			return fmt.Errorf("%s item has unexpected field %q", typeName, field)
		}
	}
	return nil
}
