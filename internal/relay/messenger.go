// Package relay lets a device with no direct network path drive HTTP
// requests, follow the live session event stream, and move audio payloads
// through a paired device, over a lossy message-oriented transport.
package relay

import (
	"context"
	"io"
)

// Node is one reachable peer device.
type Node struct {
	// ID is the platform-assigned opaque node id.
	ID string
	// Name is the human-readable device name, when known.
	Name string
}

// Messenger delivers small control envelopes to a peer device, addressed by
// logical path. Delivery is at-most-once; errors mean the envelope may not
// have been sent.
type Messenger interface {
	SendMessage(ctx context.Context, nodeID, path string, data []byte) error
}

// ChannelOpener opens stream-oriented channels to a peer device for bulk
// binary payloads that do not fit in control envelopes.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, nodeID, path string) (io.WriteCloser, error)
}

// NodeResolver lists the peer devices currently reachable over the
// device-to-device transport.
type NodeResolver interface {
	ConnectedNodes(ctx context.Context) ([]Node, error)
}
