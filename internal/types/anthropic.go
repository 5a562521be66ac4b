package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Anthropic Messages API shapes. Content fields that the wire allows as
// either a plain string or a block list get a small union type with custom
// JSON marshalling so the rest of the code never touches raw maps.

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"

	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered block list.
type MessageContent struct {
	Plain  *string
	Blocks []ContentBlock
}

func PlainContent(s string) MessageContent {
	return MessageContent{Plain: &s}
}

func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		c.Plain = &s
		c.Blocks = nil

		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("message content is neither string nor block list: %w", err)
	}

	c.Plain = nil
	c.Blocks = blocks

	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Plain != nil {
		return json.Marshal(*c.Plain)
	}

	if c.Blocks == nil {
		return json.Marshal("")
	}

	return json.Marshal(c.Blocks)
}

// ContentBlock is the tagged variant for message content. Raw keeps the
// original bytes so unknown block types survive the round trip.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*b = ContentBlock(a)
	b.Raw = append(json.RawMessage(nil), data...)

	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	type alias ContentBlock

	return json.Marshal(alias(b))
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemPrompt is either a plain string or a list of text blocks.
type SystemPrompt struct {
	Plain  *string
	Blocks []ContentBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var c MessageContent
	if err := c.UnmarshalJSON(data); err != nil {
		return err
	}

	s.Plain = c.Plain
	s.Blocks = c.Blocks

	return nil
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	return MessageContent{Plain: s.Plain, Blocks: s.Blocks}.MarshalJSON()
}

// Text joins the prompt into a single string, one block per line.
func (s SystemPrompt) Text() string {
	if s.Plain != nil {
		return *s.Plain
	}

	var buf bytes.Buffer

	for _, block := range s.Blocks {
		if block.Type != BlockTypeText {
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}

		buf.WriteString(block.Text)
	}

	return buf.String()
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the Anthropic-shape error envelope.
type ErrorResponse struct {
	Type  string   `json:"type"`
	Error APIError `json:"error"`
}

func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: APIError{Type: errType, Message: message}}
}

// CountTokensRequest is the body of /v1/messages/count_tokens. It accepts
// the same fields as a Messages request; only the countable ones are listed.
type CountTokensRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []Message     `json:"messages"`
	System   *SystemPrompt `json:"system,omitempty"`
	Tools    []Tool        `json:"tools,omitempty"`
}

type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
