package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bhandras/wristlink/internal/protocol/wire"
	"github.com/bhandras/wristlink/internal/session"
)

const (
	bridgeSendTimeout = 10 * time.Second
	bridgeHTTPTimeout = 30 * time.Second

	// transcribePath is the server endpoint audio uploads are posted to.
	transcribePath = "/transcribe"
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Messenger and Channels reach the untethered peer device.
	Messenger Messenger
	Channels  ChannelOpener

	// WSURL is the duplex-link websocket URL opened on the peer's behalf.
	WSURL string
	// WSHeader carries optional handshake headers (e.g. a bearer token).
	WSHeader http.Header
	// HTTPBaseURL is the server HTTP API base relayed requests resolve
	// against (e.g. "http://host:5566").
	HTTPBaseURL string
	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client

	// ReconnectDelay is passed through to the owned session client.
	ReconnectDelay time.Duration

	Log zerolog.Logger
}

// Bridge runs on the network-capable device. It owns one session client and
// forwards every inbound protocol frame and every connection-status
// transition, verbatim, to the peer device, which then reduces them with its
// own session client. Inbound relay envelopes from the peer are executed
// against the real network.
type Bridge struct {
	messenger  Messenger
	channels   ChannelOpener
	httpBase   string
	httpClient *http.Client
	log        zerolog.Logger

	client *session.Client

	mu         sync.Mutex
	peerID     string
	uploadMeta map[string]*wire.RelayUploadMeta

	stopStatus func()
}

// NewBridge creates a Bridge and its underlying session client. Call Start
// to begin forwarding status transitions.
func NewBridge(cfg BridgeConfig) *Bridge {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: bridgeHTTPTimeout}
	}

	b := &Bridge{
		messenger:  cfg.Messenger,
		channels:   cfg.Channels,
		httpBase:   strings.TrimRight(cfg.HTTPBaseURL, "/"),
		httpClient: httpClient,
		log:        cfg.Log,
		uploadMeta: make(map[string]*wire.RelayUploadMeta),
	}
	b.client = session.NewClient(session.Config{
		Transport: &session.WebSocketTransport{
			URL:    cfg.WSURL,
			Header: cfg.WSHeader,
			Log:    cfg.Log,
		},
		ReconnectDelay: cfg.ReconnectDelay,
		FrameTap:       b.forwardFrame,
		Log:            cfg.Log,
	})
	return b
}

// Client exposes the owned session client, e.g. for local observation.
func (b *Bridge) Client() *session.Client { return b.client }

// Start subscribes to the session client's connection status and forwards
// every transition to the attached peer.
func (b *Bridge) Start() {
	statusCh, cancel := b.client.ConnectionStatus().Subscribe()
	b.mu.Lock()
	b.stopStatus = cancel
	b.mu.Unlock()

	go func() {
		for status := range statusCh {
			b.forwardStatus(status)
		}
	}()
}

// Stop tears the bridge down: the status forwarder and the owned session
// client are both stopped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.stopStatus
	b.stopStatus = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.client.Destroy()
}

// HandleMessage dispatches one inbound relay envelope from the peer device.
func (b *Bridge) HandleMessage(nodeID, path string, data []byte) {
	b.log.Debug().Str("path", path).Str("node", nodeID).Msg("bridge message received")

	switch path {
	case wire.PathWSConnect:
		b.setPeer(nodeID)
		b.client.Connect()
		// Replay the current status so a re-attaching peer is not left in
		// the dark until the next transition.
		b.forwardStatus(b.client.ConnectionStatus().Get())
	case wire.PathWSDisconnect:
		b.client.Disconnect()
	case wire.PathHTTPRequest:
		b.setPeer(nodeID)
		go b.executeHTTPRequest(nodeID, data)
	case wire.PathAudioUpload:
		b.setPeer(nodeID)
		b.rememberUploadMeta(data)
	case wire.PathAudioDownload:
		b.setPeer(nodeID)
		go b.executeDownload(nodeID, data)
	default:
		b.log.Warn().Str("path", path).Msg("unknown bridge message path")
	}
}

// HandleChannel drains one inbound binary channel from the peer. Only audio
// upload data channels are expected; the upload's metadata envelope must
// have arrived first.
func (b *Bridge) HandleChannel(nodeID, path string, r io.Reader) {
	id, ok := wire.ChannelRequestID(wire.PathAudioUploadData, path)
	if !ok {
		b.log.Debug().Str("path", path).Msg("ignoring unexpected channel")
		return
	}

	meta := b.takeUploadMeta(id)
	if meta == nil {
		b.log.Warn().Str("request_id", id).Msg("upload data without metadata; dropping")
		return
	}

	audio, err := io.ReadAll(r)
	if err != nil {
		b.log.Error().Err(err).Str("request_id", id).Msg("error reading upload channel")
		return
	}
	go b.executeUpload(nodeID, meta, audio)
}

func (b *Bridge) setPeer(nodeID string) {
	b.mu.Lock()
	b.peerID = nodeID
	b.mu.Unlock()
}

func (b *Bridge) peer() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peerID
}

// forwardFrame relays one raw inbound protocol frame to the peer, verbatim.
func (b *Bridge) forwardFrame(data []byte) {
	nodeID := b.peer()
	if nodeID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridgeSendTimeout)
	defer cancel()
	if err := b.messenger.SendMessage(ctx, nodeID, wire.PathWSMessage, data); err != nil {
		b.log.Error().Err(err).Msg("failed to forward frame to peer")
	}
}

func (b *Bridge) forwardStatus(status session.ConnectionStatus) {
	nodeID := b.peer()
	if nodeID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridgeSendTimeout)
	defer cancel()
	if err := b.messenger.SendMessage(ctx, nodeID, wire.PathWSStatus, []byte(status.String())); err != nil {
		b.log.Error().Err(err).Msg("failed to forward status to peer")
	}
}

// executeHTTPRequest performs a relayed HTTP request against the server and
// replies with a response envelope. A request that never reached the server
// is answered with success=false and status 0 so the caller fails loudly
// instead of timing out.
func (b *Bridge) executeHTTPRequest(nodeID string, data []byte) {
	req, err := wire.ParseRelayHTTPRequest(data)
	if err != nil {
		b.log.Debug().Err(err).Msg("dropping malformed http request envelope")
		return
	}

	resp := wire.RelayHTTPResponse{RequestID: req.RequestID}

	status, body, err := b.doHTTP(req)
	if err != nil {
		b.log.Error().Err(err).Str("path", req.Path).Msg("relayed http request failed")
		resp.Body = err.Error()
	} else {
		resp.Status = status
		resp.Body = body
		resp.Success = status >= 200 && status < 300
	}

	b.reply(nodeID, wire.PathHTTPResponse, resp)
}

func (b *Bridge) doHTTP(req *wire.RelayHTTPRequest) (int, string, error) {
	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequest(req.Method, b.httpBase+req.Path, bodyReader)
	if err != nil {
		return 0, "", err
	}
	if req.Body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, "", err
	}
	return httpResp.StatusCode, string(body), nil
}

func (b *Bridge) rememberUploadMeta(data []byte) {
	meta, err := wire.ParseRelayUploadMeta(data)
	if err != nil {
		b.log.Debug().Err(err).Msg("dropping malformed upload metadata envelope")
		return
	}
	b.mu.Lock()
	b.uploadMeta[meta.RequestID] = meta
	b.mu.Unlock()
}

func (b *Bridge) takeUploadMeta(id string) *wire.RelayUploadMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	meta := b.uploadMeta[id]
	delete(b.uploadMeta, id)
	return meta
}

// executeUpload posts the received audio to the server transcription
// endpoint and replies with the response body.
func (b *Bridge) executeUpload(nodeID string, meta *wire.RelayUploadMeta, audio []byte) {
	uploadURL := b.httpBase + transcribePath
	if meta.ResponseMode != "" {
		uploadURL += "?response_mode=" + url.QueryEscape(meta.ResponseMode)
	}

	var body string
	httpReq, err := http.NewRequest(http.MethodPost, uploadURL, strings.NewReader(string(audio)))
	if err == nil {
		httpReq.Header.Set("Content-Type", "audio/mp4")
		var httpResp *http.Response
		httpResp, err = b.httpClient.Do(httpReq)
		if err == nil {
			raw, readErr := io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			if readErr == nil {
				body = string(raw)
			}
			if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
				err = fmt.Errorf("upload failed with status %d", httpResp.StatusCode)
			}
		}
	}
	if err != nil {
		b.log.Error().Err(err).Str("request_id", meta.RequestID).Msg("audio upload failed")
	}

	b.reply(nodeID, wire.PathAudioUploadResponse, wire.RelayUploadResponse{
		RequestID: meta.RequestID,
		Body:      body,
	})
}

// executeDownload fetches the requested payload and streams it back on a
// download data channel. A failed fetch still opens and closes the channel
// so the peer completes with zero bytes rather than waiting out its
// deadline.
func (b *Bridge) executeDownload(nodeID string, data []byte) {
	req, err := wire.ParseRelayDownloadRequest(data)
	if err != nil {
		b.log.Debug().Err(err).Msg("dropping malformed download request envelope")
		return
	}

	var payload []byte
	httpResp, err := b.httpClient.Get(b.httpBase + req.Path)
	if err != nil {
		b.log.Error().Err(err).Str("path", req.Path).Msg("audio download fetch failed")
	} else {
		payload, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			b.log.Error().Err(err).Str("path", req.Path).Msg("audio download read failed")
			payload = nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), bridgeSendTimeout)
	defer cancel()
	w, err := b.channels.OpenChannel(ctx, nodeID, wire.ChannelPath(wire.PathAudioDownloadData, req.RequestID))
	if err != nil {
		b.log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to open download channel")
		return
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			b.log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to write download channel")
		}
	}
	_ = w.Close()
}

func (b *Bridge) reply(nodeID, path string, envelope any) {
	data, err := wire.Marshal(envelope)
	if err != nil {
		b.log.Error().Err(err).Str("path", path).Msg("failed to encode reply envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridgeSendTimeout)
	defer cancel()
	if err := b.messenger.SendMessage(ctx, nodeID, path, data); err != nil {
		b.log.Error().Err(err).Str("path", path).Msg("failed to send reply envelope")
	}
}
