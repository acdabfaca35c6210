package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// EnvelopeHandler receives control envelopes delivered to an endpoint.
type EnvelopeHandler func(fromNodeID, path string, data []byte)

// StreamHandler receives binary channels opened towards an endpoint.
type StreamHandler func(fromNodeID, path string, r io.Reader)

// LoopbackEndpoint is one end of an in-process device-to-device transport.
// It implements Messenger, ChannelOpener and NodeResolver, delivering
// everything to the paired endpoint's handlers on fresh goroutines,
// asynchronous and unordered across kinds like the real messaging fabric.
//
// Used by the single-process demo daemon and by tests.
type LoopbackEndpoint struct {
	id string

	mu       sync.Mutex
	peer     *LoopbackEndpoint
	onMsg    EnvelopeHandler
	onStream StreamHandler
}

// NewLoopbackPair creates two connected endpoints.
func NewLoopbackPair(idA, idB string) (*LoopbackEndpoint, *LoopbackEndpoint) {
	a := &LoopbackEndpoint{id: idA}
	b := &LoopbackEndpoint{id: idB}
	a.peer = b
	b.peer = a
	return a, b
}

// ID returns this endpoint's node id.
func (e *LoopbackEndpoint) ID() string { return e.id }

// Handle installs the endpoint's inbound handlers.
func (e *LoopbackEndpoint) Handle(onMsg EnvelopeHandler, onStream StreamHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMsg = onMsg
	e.onStream = onStream
}

// SendMessage delivers one control envelope to the peer endpoint.
func (e *LoopbackEndpoint) SendMessage(ctx context.Context, nodeID, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	peer := e.peer
	if nodeID != peer.id {
		return fmt.Errorf("unknown node %q", nodeID)
	}
	peer.mu.Lock()
	handler := peer.onMsg
	peer.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("node %q has no message handler", nodeID)
	}

	// Copy so the sender can reuse its buffer.
	buf := make([]byte, len(data))
	copy(buf, data)
	go handler(e.id, path, buf)
	return nil
}

// OpenChannel opens a binary channel towards the peer endpoint.
func (e *LoopbackEndpoint) OpenChannel(ctx context.Context, nodeID, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peer := e.peer
	if nodeID != peer.id {
		return nil, fmt.Errorf("unknown node %q", nodeID)
	}
	peer.mu.Lock()
	handler := peer.onStream
	peer.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("node %q has no stream handler", nodeID)
	}

	r, w := io.Pipe()
	go handler(e.id, path, r)
	return w, nil
}

// ConnectedNodes lists the paired endpoint.
func (e *LoopbackEndpoint) ConnectedNodes(ctx context.Context) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Node{{ID: e.peer.id, Name: e.peer.id}}, nil
}
