package session

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bhandras/wristlink/internal/observe"
)

// DefaultReconnectDelay is the pause before re-dialing after the link drops.
const DefaultReconnectDelay = 5 * time.Second

var (
	// ErrLinkClosed is returned when sending on a link that is not open.
	ErrLinkClosed = errors.New("link closed")
	// ErrDestroyed is returned by operations on a destroyed client.
	ErrDestroyed = errors.New("session client destroyed")
)

// Config configures a Client.
type Config struct {
	// Transport opens the duplex link to the server.
	Transport Transport
	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration
	// FrameTap, when set, observes every raw inbound frame before reduction.
	// The relay bridge uses it to forward frames verbatim.
	FrameTap func(data []byte)
	// Log receives client-level events.
	Log zerolog.Logger
}

// Client owns one duplex connection to the server and reduces its tagged
// frames into observable state. All state channels are written only from the
// link's frame-handling goroutine (plus Connect/Disconnect transitions); any
// number of observers may read concurrently.
type Client struct {
	transport      Transport
	reconnectDelay time.Duration
	frameTap       func([]byte)
	log            zerolog.Logger

	mu        sync.Mutex
	link      Link
	gen       int
	reconnect *time.Timer
	destroyed bool

	status   *observe.Value[ConnectionStatus]
	claude   *observe.Value[ClaudeState]
	messages *observe.Value[[]ChatMessage]
	prompt   *observe.Value[*ClaudePrompt]
	usage    *observe.Value[ContextUsage]
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Client{
		transport:      cfg.Transport,
		reconnectDelay: delay,
		frameTap:       cfg.FrameTap,
		log:            cfg.Log,
		status:         observe.NewValue(Disconnected),
		claude:         observe.NewValue(ClaudeState{Status: StatusIdle}),
		messages:       observe.NewValue([]ChatMessage(nil)),
		prompt:         observe.NewValue[*ClaudePrompt](nil),
		usage:          observe.NewValue(NewContextUsage()),
	}
}

// ConnectionStatus is the link lifecycle channel.
func (c *Client) ConnectionStatus() *observe.Value[ConnectionStatus] { return c.status }

// ClaudeState is the agent activity channel.
func (c *Client) ClaudeState() *observe.Value[ClaudeState] { return c.claude }

// Messages is the ordered conversation channel. Observers always see a full
// replacement list; prior lists are never mutated.
func (c *Client) Messages() *observe.Value[[]ChatMessage] { return c.messages }

// Prompt is the pending-decision channel; nil means no active prompt.
func (c *Client) Prompt() *observe.Value[*ClaudePrompt] { return c.prompt }

// Usage is the token/cost telemetry channel.
func (c *Client) Usage() *observe.Value[ContextUsage] { return c.usage }

// Connect opens the duplex link. It is idempotent while a connection attempt
// is in flight, and cancels any scheduled reconnect before dialing.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if c.status.Get() == Connecting {
		c.mu.Unlock()
		return
	}

	c.cancelReconnectLocked()
	if c.link != nil {
		old := c.link
		c.link = nil
		defer func() { _ = old.Close() }()
	}
	c.gen++
	gen := c.gen
	c.status.Set(Connecting)

	link, err := c.transport.Open(Events{
		Opened: func() { c.linkOpened(gen) },
		Frame:  func(data []byte) { c.handleFrame(gen, data) },
		Closed: func(err error) { c.linkClosed(gen, err) },
	})
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("failed to open link")
		c.linkClosed(gen, err)
		return
	}
	c.link = link
	c.mu.Unlock()
}

// Disconnect cancels any scheduled reconnect, closes the link if open and
// transitions to Disconnected. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	c.gen++
	link := c.link
	c.link = nil
	c.status.Set(Disconnected)
	c.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
}

// Destroy disconnects and releases background scheduling resources. The
// client must not be used afterwards.
func (c *Client) Destroy() {
	c.Disconnect()
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
}

// AppendLocalMessage appends an outbound message in Pending state and returns
// its id, so callers can surface per-message delivery results.
func (c *Client) AppendLocalMessage(msg ChatMessage) string {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	msg.Status = DeliveryPending
	c.messages.Update(func(list []ChatMessage) []ChatMessage {
		next := make([]ChatMessage, len(list), len(list)+1)
		copy(next, list)
		return append(next, msg)
	})
	return msg.ID
}

// SetMessageStatus updates the delivery status of the message with the given
// id. Unknown ids are ignored.
func (c *Client) SetMessageStatus(id string, status DeliveryStatus) {
	c.messages.Update(func(list []ChatMessage) []ChatMessage {
		for i := range list {
			if list[i].ID == id {
				next := make([]ChatMessage, len(list))
				copy(next, list)
				next[i].Status = status
				return next
			}
		}
		return list
	})
}

func (c *Client) linkOpened(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.log.Info().Msg("link connected")
	c.status.Set(Connected)
}

func (c *Client) linkClosed(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// A newer Connect or an explicit Disconnect superseded this link.
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("link lost")
	} else {
		c.log.Info().Msg("link closed by peer")
	}
	c.link = nil
	c.status.Set(Disconnected)
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.destroyed {
		return
	}
	c.cancelReconnectLocked()
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		c.Connect()
	})
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// now timestamps client-constructed prompts, mirroring server timestamps'
// millisecond format.
func (c *Client) now() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func (c *Client) handleFrame(gen int, data []byte) {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}
	if c.frameTap != nil {
		c.frameTap(data)
	}
	c.reduce(data)
}
