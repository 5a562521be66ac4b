// Package stream converts an OpenAI Chat Completions SSE stream into an
// Anthropic Messages SSE stream, frame by frame. The Translator is a pure
// state machine: the caller feeds it raw upstream bytes and writes whatever
// it returns, in order. For any legal input the emitted sequence contains
// exactly one message_start, balanced content_block_start/stop pairs per
// index, one message_delta, and one message_stop.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Davincible/claude-vllm-proxy/internal/mistral"
	"github.com/Davincible/claude-vllm-proxy/internal/transform"
	"github.com/Davincible/claude-vllm-proxy/internal/types"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	// inlineFlushThreshold is how much text may sit in the inline buffer
	// before the safe prefix is flushed. inlineRetainTail is what stays
	// behind: one byte short of the marker, so the marker can never be
	// split across an emitted prefix.
	inlineFlushThreshold = 20
	inlineRetainTail     = len(mistral.Marker) - 1
)

// Options configures a Translator for one request.
type Options struct {
	// Model is the declared output model, echoed in message_start. It also
	// decides whether inline [TOOL_CALLS] detection is armed.
	Model string

	// MessageID identifies the message in message_start.
	MessageID string

	// InputTokens is the precomputed input estimate for message_start.
	InputTokens int
}

type toolBlock struct {
	index       int
	id          string
	name        string
	started     bool
	stopped     bool
	pendingArgs string
}

type Translator struct {
	opts       Options
	inlineMode bool

	lineBuf []byte

	contentIndex int
	textOpen     bool
	textIndex    int
	toolBlocks   map[int]*toolBlock

	pending     string
	inlineFound bool

	outputTokens     int
	upstreamInput    int
	upstreamOutput   int
	usageSeen        bool
	stopReason       *string
	finished         bool
	finalEmitted     bool
}

func New(opts Options) *Translator {
	return &Translator{
		opts:       opts,
		inlineMode: mistral.UsesInlineToolCalls(opts.Model),
		toolBlocks: make(map[int]*toolBlock),
	}
}

// Start returns the opening message_start frame. Call once, before Feed.
func (t *Translator) Start() []byte {
	return sseEvent(types.EventMessageStart, types.MessageStartEvent{
		Type: types.EventMessageStart,
		Message: types.StartMessage{
			ID:      t.opts.MessageID,
			Type:    "message",
			Role:    types.RoleAssistant,
			Model:   t.opts.Model,
			Content: []any{},
			Usage:   types.Usage{InputTokens: t.opts.InputTokens, OutputTokens: 0},
		},
	})
}

// Feed consumes one chunk of upstream bytes and returns the translated
// frames, possibly empty. Partial SSE lines are held across calls.
func (t *Translator) Feed(chunk []byte) []byte {
	t.lineBuf = append(t.lineBuf, chunk...)

	var out []byte

	for {
		nl := bytes.IndexByte(t.lineBuf, '\n')
		if nl < 0 {
			break
		}

		line := strings.TrimRight(string(t.lineBuf[:nl]), "\r")
		t.lineBuf = t.lineBuf[nl+1:]

		out = append(out, t.processLine(line)...)
	}

	return out
}

// Finish flushes buffered state at end of stream and returns the trailing
// frames. Safe to call exactly once, after the last Feed.
func (t *Translator) Finish() []byte {
	var out []byte

	if rest := strings.TrimRight(string(t.lineBuf), "\r"); rest != "" {
		out = append(out, t.processLine(rest)...)
	}

	t.lineBuf = nil

	if !t.finished {
		out = append(out, t.drainInline()...)
		out = append(out, t.closeOpenBlocks()...)
		t.finished = true
	}

	out = append(out, t.emitFinal()...)

	return out
}

func (t *Translator) processLine(line string) []byte {
	line = strings.TrimSpace(line)

	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return nil
	}

	payload := strings.TrimPrefix(line, dataPrefix)
	if payload == doneSentinel {
		return nil
	}

	var chunk types.ChatResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// Malformed data lines are never fatal.
		return nil
	}

	return t.processChunk(&chunk)
}

func (t *Translator) processChunk(chunk *types.ChatResponse) []byte {
	var out []byte

	if chunk.Error != nil {
		out = append(out, sseEvent(types.EventError, types.ErrorEvent{
			Type:  types.EventError,
			Error: types.APIError{Type: "api_error", Message: chunk.Error.Message},
		})...)

		return out
	}

	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]

		if choice.Delta != nil {
			if len(choice.Delta.ToolCalls) > 0 {
				for _, call := range choice.Delta.ToolCalls {
					out = append(out, t.handleToolCallDelta(call)...)
				}
			} else if choice.Delta.Content != nil && *choice.Delta.Content != "" {
				out = append(out, t.handleText(*choice.Delta.Content)...)
			}
		}

		if choice.FinishReason != nil && !t.finished {
			out = append(out, t.handleFinish(*choice.FinishReason)...)
		}
	}

	if chunk.Usage != nil {
		t.usageSeen = true
		t.upstreamInput = chunk.Usage.PromptTokens
		t.upstreamOutput = chunk.Usage.CompletionTokens
	}

	if t.finished && t.usageSeen {
		out = append(out, t.emitFinal()...)
	}

	return out
}

func (t *Translator) handleText(text string) []byte {
	t.outputTokens++

	if !t.inlineMode {
		return t.emitTextDelta(text)
	}

	t.pending += text

	if t.inlineFound {
		return nil
	}

	if idx := strings.Index(t.pending, mistral.Marker); idx >= 0 {
		t.inlineFound = true

		var out []byte
		if idx > 0 {
			out = t.emitTextDelta(t.pending[:idx])
		}

		t.pending = t.pending[idx:]

		return out
	}

	if len(t.pending) > inlineFlushThreshold {
		cut := len(t.pending) - inlineRetainTail

		// Never split a code point across the flush boundary.
		for cut > 0 && !utf8.RuneStart(t.pending[cut]) {
			cut--
		}

		if cut == 0 {
			return nil
		}

		out := t.emitTextDelta(t.pending[:cut])
		t.pending = t.pending[cut:]

		return out
	}

	return nil
}

func (t *Translator) emitTextDelta(text string) []byte {
	var out []byte

	if !t.textOpen {
		t.textIndex = t.nextFreeIndex()
		t.contentIndex = t.textIndex
		t.textOpen = true

		empty := ""
		out = append(out, sseEvent(types.EventContentBlockStart, types.ContentBlockStartEvent{
			Type:         types.EventContentBlockStart,
			Index:        t.textIndex,
			ContentBlock: types.StreamBlock{Type: types.BlockTypeText, Text: &empty},
		})...)
	}

	out = append(out, sseEvent(types.EventContentBlockDelta, types.ContentBlockDeltaEvent{
		Type:  types.EventContentBlockDelta,
		Index: t.textIndex,
		Delta: types.BlockDelta{Type: types.DeltaTypeText, Text: text},
	})...)

	return out
}

func (t *Translator) handleToolCallDelta(call types.ToolCall) []byte {
	var out []byte

	slot := 0
	if call.Index != nil {
		slot = *call.Index
	}

	block, ok := t.toolBlocks[slot]
	if !ok {
		if t.textOpen {
			out = append(out, t.stopTextBlock()...)
			t.contentIndex++
		}

		block = &toolBlock{index: t.contentIndex + slot}
		t.toolBlocks[slot] = block
	}

	if call.ID != "" {
		block.id = call.ID
	}

	if call.Function.Name != "" {
		block.name = call.Function.Name
	}

	if !block.started && block.name != "" {
		if block.id == "" {
			block.id = mistral.NewToolCallID()
		}

		out = append(out, sseEvent(types.EventContentBlockStart, types.ContentBlockStartEvent{
			Type:  types.EventContentBlockStart,
			Index: block.index,
			ContentBlock: types.StreamBlock{
				Type:  types.BlockTypeToolUse,
				ID:    block.id,
				Name:  block.name,
				Input: json.RawMessage("{}"),
			},
		})...)
		block.started = true

		if block.pendingArgs != "" {
			out = append(out, t.inputJSONDelta(block.index, block.pendingArgs)...)
			block.pendingArgs = ""
		}
	}

	if args := call.Function.Arguments; args != "" {
		if block.started {
			out = append(out, t.inputJSONDelta(block.index, args)...)
		} else {
			block.pendingArgs += args
		}
	}

	return out
}

func (t *Translator) inputJSONDelta(index int, partial string) []byte {
	return sseEvent(types.EventContentBlockDelta, types.ContentBlockDeltaEvent{
		Type:  types.EventContentBlockDelta,
		Index: index,
		Delta: types.BlockDelta{Type: types.DeltaTypeInputJSON, PartialJSON: partial},
	})
}

func (t *Translator) handleFinish(reason string) []byte {
	t.finished = true
	t.stopReason = transform.MapFinishReason(&reason)

	var out []byte

	out = append(out, t.drainInline()...)
	out = append(out, t.closeOpenBlocks()...)

	return out
}

// drainInline resolves the inline buffer: parsed tool calls become tool_use
// blocks and force the stop reason to tool_use; otherwise leftover text is
// flushed as an ordinary delta.
func (t *Translator) drainInline() []byte {
	if t.pending == "" {
		return nil
	}

	pending := t.pending
	t.pending = ""

	if !t.inlineFound {
		return t.emitTextDelta(pending)
	}

	calls := mistral.ParseInlineCalls(pending)
	if len(calls) == 0 {
		// Marker without a parseable call: surface the raw text rather
		// than dropping it.
		return t.emitTextDelta(pending)
	}

	var out []byte

	if t.textOpen {
		out = append(out, t.stopTextBlock()...)
		t.contentIndex++
	}

	for _, call := range calls {
		index := t.nextFreeIndex()
		t.contentIndex = index

		out = append(out, sseEvent(types.EventContentBlockStart, types.ContentBlockStartEvent{
			Type:  types.EventContentBlockStart,
			Index: index,
			ContentBlock: types.StreamBlock{
				Type:  types.BlockTypeToolUse,
				ID:    mistral.NewToolCallID(),
				Name:  transform.SanitizeToolName(call.Name),
				Input: json.RawMessage("{}"),
			},
		})...)
		out = append(out, t.inputJSONDelta(index, string(call.Arguments))...)
		out = append(out, sseEvent(types.EventContentBlockStop, types.ContentBlockStopEvent{
			Type:  types.EventContentBlockStop,
			Index: index,
		})...)

		t.contentIndex++
	}

	toolUse := types.StopReasonToolUse
	t.stopReason = &toolUse

	return out
}

func (t *Translator) stopTextBlock() []byte {
	t.textOpen = false

	return sseEvent(types.EventContentBlockStop, types.ContentBlockStopEvent{
		Type:  types.EventContentBlockStop,
		Index: t.textIndex,
	})
}

func (t *Translator) closeOpenBlocks() []byte {
	var out []byte

	if t.textOpen {
		out = append(out, t.stopTextBlock()...)
	}

	open := make([]*toolBlock, 0, len(t.toolBlocks))

	for _, block := range t.toolBlocks {
		if block.started && !block.stopped {
			open = append(open, block)
		}
	}

	// Ascending block index, not map order.
	sort.Slice(open, func(i, j int) bool { return open[i].index < open[j].index })

	for _, block := range open {
		out = append(out, sseEvent(types.EventContentBlockStop, types.ContentBlockStopEvent{
			Type:  types.EventContentBlockStop,
			Index: block.index,
		})...)
		block.stopped = true
	}

	return out
}

// nextFreeIndex returns the lowest block index above everything opened so
// far, so a late text block never collides with a tool slot.
func (t *Translator) nextFreeIndex() int {
	next := t.contentIndex

	for _, block := range t.toolBlocks {
		if block.index >= next {
			next = block.index + 1
		}
	}

	return next
}

func (t *Translator) emitFinal() []byte {
	if t.finalEmitted {
		return nil
	}

	t.finalEmitted = true

	stopReason := t.stopReason
	if stopReason == nil {
		endTurn := types.StopReasonEndTurn
		stopReason = &endTurn
	}

	inputTokens := t.opts.InputTokens
	if t.usageSeen && t.upstreamInput > 0 {
		inputTokens = t.upstreamInput
	}

	// The upstream completion count is sometimes incomplete in streaming
	// mode; trust whichever counter saw more.
	outputTokens := t.outputTokens
	if t.upstreamOutput > outputTokens {
		outputTokens = t.upstreamOutput
	}

	out := sseEvent(types.EventMessageDelta, types.MessageDeltaEvent{
		Type:  types.EventMessageDelta,
		Delta: types.MessageDelta{StopReason: stopReason},
		Usage: types.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	})

	out = append(out, sseEvent(types.EventMessageStop, types.MessageStopEvent{
		Type: types.EventMessageStop,
	})...)

	return out
}

// Usage reports the final token counts, following the same rules as the
// closing message_delta. Meaningful once the stream has been finished.
func (t *Translator) Usage() types.Usage {
	inputTokens := t.opts.InputTokens
	if t.usageSeen && t.upstreamInput > 0 {
		inputTokens = t.upstreamInput
	}

	outputTokens := t.outputTokens
	if t.upstreamOutput > outputTokens {
		outputTokens = t.upstreamOutput
	}

	return types.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
}

func sseEvent(eventType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal event\"}}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}
