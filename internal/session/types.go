package session

// ConnectionStatus is the duplex-link lifecycle state.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

// String returns the wire spelling used on relay status envelopes.
func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Agent activity statuses carried by "state" frames.
const (
	StatusIdle      = "idle"
	StatusListening = "listening"
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
	StatusWaiting   = "waiting"
)

// ClaudeState is the remote agent's current activity.
type ClaudeState struct {
	// Status is one of the Status* constants.
	Status string
	// RequestID correlates the activity with an in-flight request; empty
	// means none.
	RequestID string
	// CurrentTool is the tool the agent is running, when known. Cleared when
	// the agent goes idle or starts speaking.
	CurrentTool string
}

// DeliveryStatus tracks an outbound message's fate.
type DeliveryStatus int

const (
	DeliverySent DeliveryStatus = iota
	DeliveryPending
	DeliveryFailed
)

// ChatMessage is one turn in the conversation.
//
// ID is the message's stable identity: two messages are the same list item
// iff their IDs match, regardless of content or status changes.
type ChatMessage struct {
	ID        string
	Role      string
	Content   string
	Timestamp string
	Status    DeliveryStatus
	// AudioPath references a server-side audio payload for voice turns.
	AudioPath string
}

// PromptOption is one selectable answer in a prompt.
type PromptOption struct {
	Num         int
	Label       string
	Description string
	Selected    bool
}

// ClaudePrompt is a pending decision the user must make. At most one is
// active at a time; each new prompt frame replaces it wholesale.
type ClaudePrompt struct {
	Question  string
	Options   []PromptOption
	Timestamp string
	// Title, Context, RequestID and ToolName are nil when the corresponding
	// wire field was absent.
	Title     *string
	Context   *string
	RequestID *string
	ToolName  *string
	// IsPermission is true for tool permission requests.
	IsPermission bool
}

// ContextUsage is token and cost telemetry, replaced wholesale on each usage
// frame.
type ContextUsage struct {
	TotalContext   int
	ContextWindow  int
	ContextPercent float64
	CostUSD        float64
}

// DefaultContextWindow is assumed when a usage frame omits the window size.
const DefaultContextWindow = 200000

// NewContextUsage returns the zero-usage value with the default window.
func NewContextUsage() ContextUsage {
	return ContextUsage{ContextWindow: DefaultContextWindow}
}
