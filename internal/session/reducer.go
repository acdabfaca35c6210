package session

import (
	"github.com/google/uuid"

	"github.com/bhandras/wristlink/internal/protocol/wire"
)

// reduce applies one inbound frame to the observable state. A frame that
// fails to parse, or carries an unknown kind, changes nothing; one bad frame
// must never poison the stream.
func (c *Client) reduce(data []byte) {
	frame, err := wire.ParseFrame(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	switch frame.Type {
	case wire.FrameState:
		c.reduceState(frame)
	case wire.FrameTool:
		c.reduceTool(frame)
	case wire.FrameChat:
		c.reduceChat(frame)
	case wire.FrameHistory:
		c.reduceHistory(frame)
	case wire.FramePrompt:
		c.reducePrompt(frame)
	case wire.FramePermission:
		c.reducePermission(frame)
	case wire.FramePermissionResolved:
		c.reducePermissionResolved(frame)
	case wire.FrameUsage:
		c.reduceUsage(frame)
	default:
		c.log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame kind")
	}
}

// reduceState sets the agent status and request id. The tool name is left
// alone, except that going idle or speaking clears it.
func (c *Client) reduceState(frame *wire.Frame) {
	status := frame.Status
	if status == "" {
		status = StatusIdle
	}
	c.claude.Update(func(state ClaudeState) ClaudeState {
		state.Status = status
		state.RequestID = frame.RequestID
		if status == StatusIdle || status == StatusSpeaking {
			state.CurrentTool = ""
		}
		return state
	})
}

// reduceTool records the active tool name. An empty name is a no-op rather
// than a clear; clearing happens via idle/speaking state frames.
func (c *Client) reduceTool(frame *wire.Frame) {
	if frame.Tool == "" {
		return
	}
	c.claude.Update(func(state ClaudeState) ClaudeState {
		state.CurrentTool = frame.Tool
		return state
	})
}

func (c *Client) reduceChat(frame *wire.Frame) {
	msg := ChatMessage{
		ID:        newMessageID(),
		Role:      frame.Role,
		Content:   frame.Content,
		Timestamp: frame.Timestamp,
		Status:    DeliverySent,
	}
	c.messages.Update(func(list []ChatMessage) []ChatMessage {
		next := make([]ChatMessage, len(list), len(list)+1)
		copy(next, list)
		return append(next, msg)
	})
}

// reduceHistory replaces the whole conversation; an empty array clears it.
func (c *Client) reduceHistory(frame *wire.Frame) {
	msgs := make([]ChatMessage, 0, len(frame.Messages))
	for _, m := range frame.Messages {
		id := m.ID
		if id == "" {
			id = newMessageID()
		}
		msgs = append(msgs, ChatMessage{
			ID:        id,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Status:    DeliverySent,
		})
	}
	c.messages.Set(msgs)
}

func (c *Client) reducePrompt(frame *wire.Frame) {
	if frame.Prompt == nil {
		c.prompt.Set(nil)
		return
	}
	p := frame.Prompt
	c.prompt.Set(&ClaudePrompt{
		Question:     p.Question,
		Options:      promptOptions(p.Options),
		Timestamp:    p.Timestamp,
		Title:        p.Title,
		Context:      p.Context,
		RequestID:    p.RequestID,
		ToolName:     p.ToolName,
		IsPermission: false,
	})
}

func (c *Client) reducePermission(frame *wire.Frame) {
	toolName := frame.ToolName
	requestID := frame.RequestID
	c.prompt.Set(&ClaudePrompt{
		Question:     frame.Question,
		Options:      promptOptions(frame.Options),
		Timestamp:    c.now(),
		Title:        &toolName,
		Context:      frame.Context,
		RequestID:    &requestID,
		ToolName:     &toolName,
		IsPermission: true,
	})
}

// reducePermissionResolved clears the current prompt only when the
// resolution matches it; a stale resolution for a superseded prompt must not
// clear the new one.
func (c *Client) reducePermissionResolved(frame *wire.Frame) {
	current := c.prompt.Get()
	if current == nil || current.RequestID == nil {
		return
	}
	if *current.RequestID == frame.RequestID {
		c.prompt.Set(nil)
	}
}

func (c *Client) reduceUsage(frame *wire.Frame) {
	usage := NewContextUsage()
	if frame.TotalContext != nil {
		usage.TotalContext = *frame.TotalContext
	}
	if frame.ContextWindow != nil {
		usage.ContextWindow = *frame.ContextWindow
	}
	if frame.ContextPercent != nil {
		usage.ContextPercent = *frame.ContextPercent
	}
	if frame.CostUSD != nil {
		usage.CostUSD = *frame.CostUSD
	}
	c.usage.Set(usage)
}

func promptOptions(opts []wire.PromptOption) []PromptOption {
	out := make([]PromptOption, 0, len(opts))
	for _, o := range opts {
		out = append(out, PromptOption{
			Num:         o.Num,
			Label:       o.Label,
			Description: o.Description,
			Selected:    o.Selected,
		})
	}
	return out
}

func newMessageID() string {
	return uuid.NewString()
}
