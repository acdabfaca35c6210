package relay

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/bhandras/wristlink/internal/protocol/wire"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Transport receives completions and forwarded stream events.
	Transport *Transport
	// Wake, when set, is invoked whenever a forwarded frame carries a
	// permission request, so the platform can bring the device's UI to the
	// foreground. Policy hook; the listener itself has no UI knowledge.
	Wake func()

	Log zerolog.Logger
}

// Listener demultiplexes inbound relay traffic on the untethered device:
// response envelopes complete pending calls, stream envelopes feed the local
// session client, download channels are drained into their pending calls.
type Listener struct {
	transport *Transport
	wake      func()
	log       zerolog.Logger
}

// NewListener creates a Listener bound to a Transport.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{
		transport: cfg.Transport,
		wake:      cfg.Wake,
		log:       cfg.Log,
	}
}

// HandleMessage dispatches one inbound control envelope by path.
func (l *Listener) HandleMessage(path string, data []byte) {
	l.log.Debug().Str("path", path).Msg("relay message received")

	switch path {
	case wire.PathHTTPResponse:
		l.transport.CompleteHTTP(data)
	case wire.PathWSMessage:
		l.transport.HandleFrameEvent(data)
		if l.wake != nil && wire.FrameKind(data) == wire.FramePermission {
			l.log.Info().Msg("permission request received, waking device")
			l.wake()
		}
	case wire.PathWSStatus:
		l.transport.HandleStatusEvent(string(data))
	case wire.PathAudioUploadResponse:
		l.transport.CompleteUpload(data)
	default:
		l.log.Warn().Str("path", path).Msg("unknown relay message path")
	}
}

// HandleChannel drains one inbound binary channel. Only audio download
// channels are expected; a failed read completes the matching call with zero
// bytes instead of failing it, so callers observe an empty payload.
func (l *Listener) HandleChannel(path string, r io.Reader) {
	id, ok := wire.ChannelRequestID(wire.PathAudioDownloadData, path)
	if !ok {
		l.log.Debug().Str("path", path).Msg("ignoring unexpected channel")
		return
	}

	data, err := io.ReadAll(r)
	if err != nil {
		l.log.Error().Err(err).Str("request_id", id).Msg("error reading download channel")
		l.transport.CompleteDownload(id, []byte{})
		return
	}
	l.log.Debug().Str("request_id", id).Int("size", len(data)).Msg("received audio download")
	l.transport.CompleteDownload(id, data)
}
