package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bhandras/wristlink/internal/protocol/wire"
	"github.com/bhandras/wristlink/internal/session"
)

// linkControlTimeout bounds the fire-and-forget ws/connect and ws/disconnect
// notifications.
const linkControlTimeout = 10 * time.Second

// ErrReceiveOnly is returned when sending frames over a relayed link; the
// untethered device talks to the server through Transport.Request instead.
var ErrReceiveOnly = errors.New("relay link is receive-only")

// SessionTransport adapts a relay Transport into a session.Transport, so the
// untethered device runs the identical session client a directly-connected
// device would: the peer opens the real link and forwards its frames and
// status transitions back to us.
type SessionTransport struct {
	Transport *Transport
	Log       zerolog.Logger
}

// Open asks the peer to open its session link and wires the forwarded stream
// into ev. Establishment is reported when the peer's own link connects.
func (t *SessionTransport) Open(ev session.Events) (session.Link, error) {
	t.Transport.SetStreamHandlers(
		func(data []byte) {
			if ev.Frame != nil {
				ev.Frame(data)
			}
		},
		func(status string) {
			switch status {
			case wire.StatusConnected:
				if ev.Opened != nil {
					ev.Opened()
				}
			case wire.StatusDisconnected:
				if ev.Closed != nil {
					ev.Closed(nil)
				}
			}
			// "connecting" needs no action: the caller is already in its
			// own connecting state.
		},
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), linkControlTimeout)
		defer cancel()
		if err := t.Transport.OpenSessionLink(ctx); err != nil {
			t.Log.Warn().Err(err).Msg("failed to request session link from peer")
			if ev.Closed != nil {
				ev.Closed(err)
			}
		}
	}()

	return &relayLink{transport: t.Transport}, nil
}

type relayLink struct {
	transport *Transport
	once      sync.Once
}

func (l *relayLink) Send(data []byte) error {
	return ErrReceiveOnly
}

func (l *relayLink) Close() error {
	var err error
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), linkControlTimeout)
		defer cancel()
		err = l.transport.CloseSessionLink(ctx)
	})
	return err
}
