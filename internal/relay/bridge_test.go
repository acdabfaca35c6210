package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bhandras/wristlink/internal/protocol/wire"
)

func newTestBridge(fabric *fakeFabric, httpBase string) *Bridge {
	return NewBridge(BridgeConfig{
		Messenger:   fabric,
		Channels:    fabric,
		WSURL:       "ws://127.0.0.1:1/ws",
		HTTPBaseURL: httpBase,
	})
}

func waitForEnvelope(t *testing.T, fabric *fakeFabric, path string) sentEnvelope {
	t.Helper()
	var env sentEnvelope
	require.Eventually(t, func() bool {
		for _, e := range fabric.envelopes() {
			if e.path == path {
				env = e
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return env
}

func TestBridge_ExecutesHTTPRequest(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	fabric := &fakeFabric{}
	b := newTestBridge(fabric, srv.URL)
	defer b.Stop()

	env, err := wire.Marshal(wire.RelayHTTPRequest{
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/api/message",
		Body:      `{"message":"hi"}`,
	})
	require.NoError(t, err)
	b.HandleMessage("watch-1", wire.PathHTTPRequest, env)

	reply := waitForEnvelope(t, fabric, wire.PathHTTPResponse)
	require.Equal(t, "watch-1", reply.nodeID)

	resp, err := wire.ParseRelayHTTPResponse(reply.data)
	require.NoError(t, err)
	require.Equal(t, "req-1", resp.RequestID)
	require.Equal(t, 200, resp.Status)
	require.True(t, resp.Success)
	require.Equal(t, `{"ok":true}`, resp.Body)
	require.Equal(t, "/api/message", gotPath)
	require.Equal(t, `{"message":"hi"}`, gotBody)
}

func TestBridge_UnreachableServerRepliesWithFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	fabric := &fakeFabric{}
	b := newTestBridge(fabric, base)
	defer b.Stop()

	env, _ := wire.Marshal(wire.RelayHTTPRequest{RequestID: "req-2", Method: "GET", Path: "/api/status"})
	b.HandleMessage("watch-1", wire.PathHTTPRequest, env)

	reply := waitForEnvelope(t, fabric, wire.PathHTTPResponse)
	resp, err := wire.ParseRelayHTTPResponse(reply.data)
	require.NoError(t, err)
	require.Equal(t, "req-2", resp.RequestID)
	require.Zero(t, resp.Status)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Body)
}

func TestBridge_UploadRoundTrip(t *testing.T) {
	var gotContentType, gotQuery string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transcribe", r.URL.Path)
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotAudio, _ = io.ReadAll(r.Body)
		w.Write([]byte("what time is it"))
	}))
	defer srv.Close()

	fabric := &fakeFabric{}
	b := newTestBridge(fabric, srv.URL)
	defer b.Stop()

	audio := []byte{0xde, 0xad, 0xbe, 0xef}
	meta, _ := wire.Marshal(wire.RelayUploadMeta{RequestID: "up-1", ResponseMode: "text", Size: len(audio)})
	b.HandleMessage("watch-1", wire.PathAudioUpload, meta)
	b.HandleChannel("watch-1", wire.ChannelPath(wire.PathAudioUploadData, "up-1"),
		strings.NewReader(string(audio)))

	reply := waitForEnvelope(t, fabric, wire.PathAudioUploadResponse)
	resp, err := wire.ParseRelayUploadResponse(reply.data)
	require.NoError(t, err)
	require.Equal(t, "up-1", resp.RequestID)
	require.Equal(t, "what time is it", resp.Body)
	require.Equal(t, "audio/mp4", gotContentType)
	require.Equal(t, "response_mode=text", gotQuery)
	require.Equal(t, audio, gotAudio)
}

func TestBridge_UploadDataWithoutMetadataIsDropped(t *testing.T) {
	fabric := &fakeFabric{}
	b := newTestBridge(fabric, "http://127.0.0.1:1")
	defer b.Stop()

	b.HandleChannel("watch-1", wire.ChannelPath(wire.PathAudioUploadData, "orphan"),
		strings.NewReader("bytes"))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fabric.envelopes())
}

func TestBridge_DownloadStreamsPayloadBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/reply-1.m4a", r.URL.Path)
		w.Write([]byte("mp4 bytes"))
	}))
	defer srv.Close()

	fabric := &fakeFabric{}
	b := newTestBridge(fabric, srv.URL)
	defer b.Stop()

	env, _ := wire.Marshal(wire.RelayDownloadRequest{RequestID: "dl-1", Path: "/audio/reply-1.m4a"})
	b.HandleMessage("watch-1", wire.PathAudioDownload, env)

	require.Eventually(t, func() bool {
		fabric.mu.Lock()
		defer fabric.mu.Unlock()
		return len(fabric.channels) == 1 && fabric.channels[0].closed
	}, 2*time.Second, 5*time.Millisecond)

	fabric.mu.Lock()
	ch := fabric.channels[0]
	fabric.mu.Unlock()
	require.Equal(t, "watch-1", ch.nodeID)
	require.Equal(t, wire.ChannelPath(wire.PathAudioDownloadData, "dl-1"), ch.path)
	require.Equal(t, []byte("mp4 bytes"), ch.buf.Bytes())
}

func TestBridge_DownloadFailureStillClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	fabric := &fakeFabric{}
	b := newTestBridge(fabric, base)
	defer b.Stop()

	env, _ := wire.Marshal(wire.RelayDownloadRequest{RequestID: "dl-2", Path: "/audio/x.m4a"})
	b.HandleMessage("watch-1", wire.PathAudioDownload, env)

	require.Eventually(t, func() bool {
		fabric.mu.Lock()
		defer fabric.mu.Unlock()
		return len(fabric.channels) == 1 && fabric.channels[0].closed
	}, 2*time.Second, 5*time.Millisecond)

	fabric.mu.Lock()
	defer fabric.mu.Unlock()
	require.Zero(t, fabric.channels[0].buf.Len())
}

func TestBridge_ForwardsFramesAndStatusVerbatim(t *testing.T) {
	frame := []byte(`{"type":"state","status":"thinking","request_id":"r1"}`)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, frame)
		// Keep the link up until the test is done with it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	fabric := &fakeFabric{}
	b := NewBridge(BridgeConfig{
		Messenger:   fabric,
		Channels:    fabric,
		WSURL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		HTTPBaseURL: srv.URL,
	})
	defer b.Stop()
	b.Start()

	b.HandleMessage("watch-1", wire.PathWSConnect, nil)

	forwarded := waitForEnvelope(t, fabric, wire.PathWSMessage)
	require.Equal(t, frame, forwarded.data)
	require.Equal(t, "watch-1", forwarded.nodeID)

	require.Eventually(t, func() bool {
		for _, e := range fabric.envelopes() {
			if e.path == wire.PathWSStatus && string(e.data) == wire.StatusConnected {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	b.HandleMessage("watch-1", wire.PathWSDisconnect, nil)
	require.Eventually(t, func() bool {
		for _, e := range fabric.envelopes() {
			if e.path == wire.PathWSStatus && string(e.data) == wire.StatusDisconnected {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}
