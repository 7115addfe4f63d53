// ABOUTME: Tool response envelope and its text/image/resource content items.
// ABOUTME: Content marshals to exactly the fields its type requires on the wire.

package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentType identifies the kind of a content item.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// Content is one item of a tool response. Only the fields belonging to Type
// are emitted.
type Content struct {
	Type     ContentType
	Text     string
	Data     string
	MimeType string
	Resource map[string]any
}

// TextContent builds a text item.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent builds an image item from base64 data.
func ImageContent(data, mimeType string) Content {
	return Content{Type: ContentImage, Data: data, MimeType: mimeType}
}

// ResourceContent builds an embedded resource item.
func ResourceContent(resource map[string]any) Content {
	return Content{Type: ContentResource, Resource: resource}
}

// JSONContent marshals v with indentation into a text item.
func JSONContent(v any) (Content, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Content{}, fmt.Errorf("encoding content: %w", err)
	}
	return TextContent(string(data)), nil
}

type textWire struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

type imageWire struct {
	Type     ContentType `json:"type"`
	Data     string      `json:"data"`
	MimeType string      `json:"mimeType"`
}

type resourceWire struct {
	Type     ContentType    `json:"type"`
	Resource map[string]any `json:"resource"`
}

// MarshalJSON emits the item's type plus the fields that type requires.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentText:
		return json.Marshal(textWire{Type: c.Type, Text: c.Text})
	case ContentImage:
		return json.Marshal(imageWire{Type: c.Type, Data: c.Data, MimeType: c.MimeType})
	case ContentResource:
		return json.Marshal(resourceWire{Type: c.Type, Resource: c.Resource})
	default:
		return json.Marshal(struct {
			Type ContentType `json:"type"`
		}{c.Type})
	}
}

// UnmarshalJSON accepts any item shape; use ValidateResponse to check it.
func (c *Content) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type     ContentType    `json:"type"`
		Text     string         `json:"text"`
		Data     string         `json:"data"`
		MimeType string         `json:"mimeType"`
		Resource map[string]any `json:"resource"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Content{
		Type:     aux.Type,
		Text:     aux.Text,
		Data:     aux.Data,
		MimeType: aux.MimeType,
		Resource: aux.Resource,
	}
	return nil
}

// ToolResponse is the result of tools/call.
type ToolResponse struct {
	Content []Content      `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Meta    map[string]any `json:"_meta,omitempty"`
}

// NewTextResponse is a convenience for the common single-text-item result.
func NewTextResponse(text string) *ToolResponse {
	return &ToolResponse{Content: []Content{TextContent(text)}}
}
