package session

// Events receives duplex-link lifecycle callbacks from a Transport.
//
// Callbacks for one link are invoked from a single goroutine: Opened at most
// once, then any number of Frame calls, then Closed at most once.
type Events struct {
	// Opened fires when the link is established.
	Opened func()
	// Frame fires for every inbound protocol frame, in arrival order.
	Frame func(data []byte)
	// Closed fires when the link is torn down, with the cause when the peer
	// or the network failed it (nil on clean close).
	Closed func(err error)
}

// Link is an established duplex link.
type Link interface {
	// Send transmits one protocol frame to the server.
	Send(data []byte) error
	// Close tears the link down. Closed is still delivered.
	Close() error
}

// Transport opens duplex links. Open starts connecting and returns a handle
// immediately; establishment and failure are reported through ev.
//
// One Client uses one Transport; the tethered device supplies a websocket
// transport, the remote one a relay-backed transport.
type Transport interface {
	Open(ev Events) (Link, error)
}
