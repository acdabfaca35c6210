package wire

import (
	json "github.com/goccy/go-json"
)

// Frame kinds carried on the duplex link.
const (
	FrameState              = "state"
	FrameChat               = "chat"
	FrameHistory            = "history"
	FrameTool               = "tool"
	FramePrompt             = "prompt"
	FramePermission         = "permission"
	FramePermissionResolved = "permission_resolved"
	FrameUsage              = "usage"
)

// Frame is one tagged unit of the event protocol. The server sends one JSON
// object per websocket text message, discriminated by Type; every other field
// is populated only for the kinds that use it.
//
// Fields whose absence is meaningful to the reducer (as opposed to being
// merely empty or zero) are pointers.
type Frame struct {
	// Type is the frame kind discriminator.
	Type string `json:"type"`

	// Status is the agent activity for "state" frames
	// (idle, listening, thinking, speaking, waiting).
	Status string `json:"status,omitempty"`
	// RequestID correlates "state", "permission" and "permission_resolved"
	// frames with an in-flight agent request.
	RequestID string `json:"request_id,omitempty"`

	// Role, Content and Timestamp carry one conversation turn for "chat"
	// frames.
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Messages is the full conversation for "history" frames.
	Messages []HistoryMessage `json:"messages,omitempty"`

	// Tool is the active tool name for "tool" frames.
	Tool string `json:"tool,omitempty"`

	// Prompt is the nested prompt object for "prompt" frames. A "prompt"
	// frame without it clears the current prompt.
	Prompt *Prompt `json:"prompt,omitempty"`

	// Question, Options, ToolName and Context describe a permission request
	// for "permission" frames. Context distinguishes a missing field from an
	// empty command string.
	Question string         `json:"question,omitempty"`
	Options  []PromptOption `json:"options,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Context  *string        `json:"context,omitempty"`

	// Token accounting for "usage" frames. All optional; the reducer applies
	// per-field defaults.
	TotalContext   *int     `json:"total_context,omitempty"`
	ContextWindow  *int     `json:"context_window,omitempty"`
	ContextPercent *float64 `json:"context_percent,omitempty"`
	CostUSD        *float64 `json:"cost_usd,omitempty"`
}

// HistoryMessage is one conversation turn inside a "history" frame.
type HistoryMessage struct {
	// ID is the server-assigned message id, when present.
	ID string `json:"id,omitempty"`
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Timestamp is the server-side message timestamp.
	Timestamp string `json:"timestamp"`
}

// Prompt is the nested prompt object inside a "prompt" frame.
type Prompt struct {
	// Question is the text presented to the user.
	Question string `json:"question"`
	// Options are the selectable answers, in presentation order.
	Options []PromptOption `json:"options"`
	// Timestamp is the server-side prompt timestamp.
	Timestamp string `json:"timestamp"`
	// Title is an optional heading.
	Title *string `json:"title,omitempty"`
	// Context is optional supporting detail (e.g. the command to approve).
	Context *string `json:"context,omitempty"`
	// RequestID correlates the prompt with its resolution frame.
	RequestID *string `json:"request_id,omitempty"`
	// ToolName is the tool the prompt concerns, when any.
	ToolName *string `json:"tool_name,omitempty"`
}

// PromptOption is one selectable answer inside a prompt.
type PromptOption struct {
	// Num is the option's ordinal as assigned by the server.
	Num int `json:"num"`
	// Label is the short answer text.
	Label string `json:"label"`
	// Description is optional longer detail.
	Description string `json:"description,omitempty"`
	// Selected marks the server-side default.
	Selected bool `json:"selected,omitempty"`
}

// ParseFrame parses one duplex-link message into a typed frame.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FrameKind extracts just the kind discriminator from a raw frame without
// fully parsing it. It returns "" when the payload is not a frame.
func FrameKind(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Type
}
