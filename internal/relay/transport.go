package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bhandras/wristlink/internal/protocol/wire"
)

const (
	// DefaultRequestTimeout bounds relayed HTTP calls.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultBinaryTimeout bounds audio uploads and downloads.
	DefaultBinaryTimeout = 60 * time.Second
)

var (
	// ErrNoPeer means no paired device is currently reachable.
	ErrNoPeer = errors.New("no connected peer device")
	// ErrTimeout means no completion arrived before the call's deadline.
	ErrTimeout = errors.New("relay call timed out")
	// ErrClosed means the transport has been shut down.
	ErrClosed = errors.New("relay transport closed")
)

type pendingKind int

const (
	pendingHTTP pendingKind = iota
	pendingUpload
	pendingDownload
)

func (k pendingKind) String() string {
	switch k {
	case pendingHTTP:
		return "http"
	case pendingUpload:
		return "audio-upload"
	default:
		return "audio-download"
	}
}

// pendingResult is the single-assignment result slot of a pending call; only
// the field matching the call's kind is set.
type pendingResult struct {
	httpResp *wire.RelayHTTPResponse
	body     string
	data     []byte
}

type pendingCall struct {
	id   string
	kind pendingKind
	ch   chan pendingResult
}

// Config configures a Transport. Messenger, Channels and Nodes are the
// injected handles to the platform's device-to-device messaging facility.
type Config struct {
	Messenger Messenger
	Channels  ChannelOpener
	Nodes     NodeResolver

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration
	// BinaryTimeout overrides DefaultBinaryTimeout when positive.
	BinaryTimeout time.Duration

	Log zerolog.Logger
}

// Transport performs network-shaped operations for the untethered device by
// exchanging control envelopes and binary channels with a paired device.
//
// The pending-call table and the peer cache are its only mutable shared
// state; both tolerate concurrent calls. Every completion happens at most
// once per call; late or duplicate completions are dropped.
type Transport struct {
	messenger Messenger
	channels  ChannelOpener
	nodes     NodeResolver

	requestTimeout time.Duration
	binaryTimeout  time.Duration
	log            zerolog.Logger

	mu      sync.Mutex
	peerID  string
	pending map[string]*pendingCall
	closed  bool
	quit    chan struct{}

	streamMu sync.Mutex
	onFrame  func(data []byte)
	onStatus func(status string)
}

// NewTransport creates a Transport with an empty pending table and peer cache.
func NewTransport(cfg Config) *Transport {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	binaryTimeout := cfg.BinaryTimeout
	if binaryTimeout <= 0 {
		binaryTimeout = DefaultBinaryTimeout
	}
	return &Transport{
		messenger:      cfg.Messenger,
		channels:       cfg.Channels,
		nodes:          cfg.Nodes,
		requestTimeout: requestTimeout,
		binaryTimeout:  binaryTimeout,
		log:            cfg.Log,
		pending:        make(map[string]*pendingCall),
		quit:           make(chan struct{}),
	}
}

// Close shuts the transport down: the peer cache and pending table are
// cleared and every in-flight call fails with ErrClosed.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.peerID = ""
	t.pending = make(map[string]*pendingCall)
	close(t.quit)
	t.mu.Unlock()
}

// OpenSessionLink asks the peer to start its session client on our behalf.
// Fire and forget; the link status comes back on the status stream.
func (t *Transport) OpenSessionLink(ctx context.Context) error {
	nodeID, err := t.resolvePeer(ctx)
	if err != nil {
		return err
	}
	if err := t.messenger.SendMessage(ctx, nodeID, wire.PathWSConnect, nil); err != nil {
		t.invalidatePeer()
		return fmt.Errorf("send ws/connect: %w", err)
	}
	t.log.Debug().Msg("sent ws/connect to peer")
	return nil
}

// CloseSessionLink asks the peer to stop its session client.
func (t *Transport) CloseSessionLink(ctx context.Context) error {
	nodeID, err := t.resolvePeer(ctx)
	if err != nil {
		return err
	}
	if err := t.messenger.SendMessage(ctx, nodeID, wire.PathWSDisconnect, nil); err != nil {
		t.invalidatePeer()
		return fmt.Errorf("send ws/disconnect: %w", err)
	}
	t.log.Debug().Msg("sent ws/disconnect to peer")
	return nil
}

// Request performs an HTTP request through the peer and waits for the
// correlated response envelope.
func (t *Transport) Request(ctx context.Context, method, path, body string, headers map[string]string) (*wire.RelayHTTPResponse, error) {
	call, err := t.register(pendingHTTP)
	if err != nil {
		return nil, err
	}

	env := wire.RelayHTTPRequest{
		RequestID: call.id,
		Method:    method,
		Path:      path,
		Body:      body,
		Headers:   headers,
	}
	data, err := wire.Marshal(env)
	if err != nil {
		t.remove(call.id)
		return nil, err
	}

	if err := t.send(ctx, wire.PathHTTPRequest, data); err != nil {
		t.remove(call.id)
		return nil, err
	}
	t.log.Debug().Str("method", method).Str("path", path).Str("request_id", call.id).
		Msg("sent relayed http request")

	res, err := t.await(ctx, call, t.requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("relayed %s %s: %w", method, path, err)
	}
	return res.httpResp, nil
}

// UploadAudio sends audio bytes to the peer for forwarding to the server: a
// metadata envelope on the control path, then the payload on a dedicated
// channel. Both must succeed. Returns the server response body.
func (t *Transport) UploadAudio(ctx context.Context, audio []byte, responseMode string) (string, error) {
	call, err := t.register(pendingUpload)
	if err != nil {
		return "", err
	}

	meta := wire.RelayUploadMeta{
		RequestID:    call.id,
		ResponseMode: responseMode,
		Size:         len(audio),
	}
	data, err := wire.Marshal(meta)
	if err != nil {
		t.remove(call.id)
		return "", err
	}

	nodeID, err := t.resolvePeer(ctx)
	if err != nil {
		t.remove(call.id)
		return "", err
	}
	if err := t.messenger.SendMessage(ctx, nodeID, wire.PathAudioUpload, data); err != nil {
		t.remove(call.id)
		t.invalidatePeer()
		return "", fmt.Errorf("send upload metadata: %w", err)
	}

	if err := t.writeChannel(ctx, nodeID, wire.ChannelPath(wire.PathAudioUploadData, call.id), audio); err != nil {
		t.remove(call.id)
		t.invalidatePeer()
		return "", fmt.Errorf("write upload channel: %w", err)
	}
	t.log.Debug().Int("size", len(audio)).Str("request_id", call.id).Msg("sent audio upload")

	res, err := t.await(ctx, call, t.binaryTimeout)
	if err != nil {
		return "", fmt.Errorf("audio upload: %w", err)
	}
	return res.body, nil
}

// DownloadAudio fetches a binary payload through the peer. The result
// arrives on a dedicated inbound channel; a failed channel read completes
// the call with zero bytes rather than an error (see the listener).
func (t *Transport) DownloadAudio(ctx context.Context, path string) ([]byte, error) {
	call, err := t.register(pendingDownload)
	if err != nil {
		return nil, err
	}

	env := wire.RelayDownloadRequest{RequestID: call.id, Path: path}
	data, err := wire.Marshal(env)
	if err != nil {
		t.remove(call.id)
		return nil, err
	}

	if err := t.send(ctx, wire.PathAudioDownload, data); err != nil {
		t.remove(call.id)
		return nil, err
	}
	t.log.Debug().Str("path", path).Str("request_id", call.id).Msg("sent audio download request")

	res, err := t.await(ctx, call, t.binaryTimeout)
	if err != nil {
		return nil, fmt.Errorf("audio download %s: %w", path, err)
	}
	return res.data, nil
}

// CompleteHTTP dispatches an inbound PathHTTPResponse envelope to its
// pending call.
func (t *Transport) CompleteHTTP(data []byte) {
	resp, err := wire.ParseRelayHTTPResponse(data)
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping malformed http response envelope")
		return
	}
	t.complete(resp.RequestID, pendingHTTP, pendingResult{httpResp: resp})
}

// CompleteUpload dispatches an inbound PathAudioUploadResponse envelope.
func (t *Transport) CompleteUpload(data []byte) {
	resp, err := wire.ParseRelayUploadResponse(data)
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping malformed upload response envelope")
		return
	}
	t.complete(resp.RequestID, pendingUpload, pendingResult{body: resp.Body})
}

// CompleteDownload dispatches downloaded bytes to their pending call.
func (t *Transport) CompleteDownload(requestID string, data []byte) {
	t.complete(requestID, pendingDownload, pendingResult{data: data})
}

// SetStreamHandlers installs the callbacks for forwarded session frames and
// link status changes. Nil clears them.
func (t *Transport) SetStreamHandlers(onFrame func(data []byte), onStatus func(status string)) {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	t.onFrame = onFrame
	t.onStatus = onStatus
}

// HandleFrameEvent delivers one forwarded protocol frame.
func (t *Transport) HandleFrameEvent(data []byte) {
	t.streamMu.Lock()
	cb := t.onFrame
	t.streamMu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// HandleStatusEvent delivers one forwarded link status.
func (t *Transport) HandleStatusEvent(status string) {
	t.streamMu.Lock()
	cb := t.onStatus
	t.streamMu.Unlock()
	if cb != nil {
		cb(status)
	}
}

// register allocates a correlation id and inserts a pending call.
func (t *Transport) register(kind pendingKind) (*pendingCall, error) {
	call := &pendingCall{
		id:   uuid.NewString(),
		kind: kind,
		ch:   make(chan pendingResult, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.pending[call.id] = call
	return call, nil
}

// remove destroys a pending call without completing it.
func (t *Transport) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// complete finishes a pending call exactly once. A completion for an
// unknown, already-completed or kind-mismatched id is dropped.
func (t *Transport) complete(id string, kind pendingKind, res pendingResult) {
	t.mu.Lock()
	call, ok := t.pending[id]
	if ok && call.kind == kind {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok || call.kind != kind {
		t.log.Debug().Str("request_id", id).Stringer("kind", kind).
			Msg("no pending call for completion; dropping")
		return
	}
	call.ch <- res
	t.log.Debug().Str("request_id", id).Stringer("kind", kind).Msg("completed pending call")
}

// await blocks until the call completes, its deadline elapses, the caller's
// context ends, or the transport closes. A deadline expiry removes the call
// and invalidates the peer cache.
func (t *Transport) await(ctx context.Context, call *pendingCall, timeout time.Duration) (pendingResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res, nil
	case <-timer.C:
		t.remove(call.id)
		t.invalidatePeer()
		return pendingResult{}, ErrTimeout
	case <-ctx.Done():
		t.remove(call.id)
		return pendingResult{}, ctx.Err()
	case <-t.quit:
		return pendingResult{}, ErrClosed
	}
}

// send resolves the peer and delivers one control envelope, invalidating the
// peer cache on failure.
func (t *Transport) send(ctx context.Context, path string, data []byte) error {
	nodeID, err := t.resolvePeer(ctx)
	if err != nil {
		return err
	}
	if err := t.messenger.SendMessage(ctx, nodeID, path, data); err != nil {
		t.invalidatePeer()
		return fmt.Errorf("send %s: %w", path, err)
	}
	return nil
}

func (t *Transport) writeChannel(ctx context.Context, nodeID, path string, data []byte) error {
	w, err := t.channels.OpenChannel(ctx, nodeID, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// resolvePeer returns the cached peer node id, resolving it through the
// platform when the cache is empty. The first reachable node wins.
func (t *Transport) resolvePeer(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrClosed
	}
	if t.peerID != "" {
		id := t.peerID
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	nodes, err := t.nodes.ConnectedNodes(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve peer: %w", err)
	}
	if len(nodes) == 0 {
		return "", ErrNoPeer
	}
	node := nodes[0]

	t.mu.Lock()
	t.peerID = node.ID
	t.mu.Unlock()
	t.log.Info().Str("node", node.ID).Str("name", node.Name).Msg("resolved peer device")
	return node.ID, nil
}

// invalidatePeer clears the cached peer so the next call re-resolves.
func (t *Transport) invalidatePeer() {
	t.mu.Lock()
	t.peerID = ""
	t.mu.Unlock()
}

// peer exposes the cache for tests.
func (t *Transport) peer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerID
}
