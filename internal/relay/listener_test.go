package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/wristlink/internal/protocol/wire"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("channel reset")
}

func TestListener_RoutesHTTPResponse(t *testing.T) {
	fabric := pairedFabric()
	tr := newTestTransport(fabric)
	defer tr.Close()
	l := NewListener(ListenerConfig{Transport: tr})

	done := make(chan struct{})
	var resp *wire.RelayHTTPResponse
	go func() {
		defer close(done)
		resp, _ = tr.Request(context.Background(), "GET", "/api/status", "", nil)
	}()

	var id string
	require.Eventually(t, func() bool {
		envs := fabric.envelopes()
		if len(envs) == 0 {
			return false
		}
		req, err := wire.ParseRelayHTTPRequest(envs[0].data)
		if err != nil {
			return false
		}
		id = req.RequestID
		return true
	}, time.Second, 5*time.Millisecond)

	reply, _ := wire.Marshal(wire.RelayHTTPResponse{RequestID: id, Status: 204, Success: true})
	l.HandleMessage(wire.PathHTTPResponse, reply)

	<-done
	require.Equal(t, 204, resp.Status)
}

func TestListener_RoutesStreamEvents(t *testing.T) {
	tr := newTestTransport(&fakeFabric{})
	defer tr.Close()
	l := NewListener(ListenerConfig{Transport: tr})

	var frames [][]byte
	var statuses []string
	tr.SetStreamHandlers(
		func(data []byte) { frames = append(frames, data) },
		func(status string) { statuses = append(statuses, status) },
	)

	l.HandleMessage(wire.PathWSMessage, []byte(`{"type":"state","status":"thinking"}`))
	l.HandleMessage(wire.PathWSStatus, []byte(wire.StatusConnected))
	l.HandleMessage("/relay/unknown", []byte("ignored"))

	require.Len(t, frames, 1)
	require.Equal(t, []string{wire.StatusConnected}, statuses)
}

func TestListener_WakesOnlyOnPermissionFrames(t *testing.T) {
	tr := newTestTransport(&fakeFabric{})
	defer tr.Close()

	wakes := 0
	l := NewListener(ListenerConfig{Transport: tr, Wake: func() { wakes++ }})

	l.HandleMessage(wire.PathWSMessage, []byte(`{"type":"state","status":"thinking"}`))
	l.HandleMessage(wire.PathWSMessage, []byte(`{"type":"chat","role":"user","content":"x"}`))
	require.Zero(t, wakes)

	l.HandleMessage(wire.PathWSMessage,
		[]byte(`{"type":"permission","question":"Allow?","tool_name":"Bash","request_id":"p1"}`))
	require.Equal(t, 1, wakes)
}

func TestListener_DrainsDownloadChannel(t *testing.T) {
	fabric := pairedFabric()
	tr := newTestTransport(fabric)
	defer tr.Close()
	l := NewListener(ListenerConfig{Transport: tr})

	done := make(chan struct{})
	var data []byte
	var dlErr error
	go func() {
		defer close(done)
		data, dlErr = tr.DownloadAudio(context.Background(), "/audio/a.m4a")
	}()

	var id string
	require.Eventually(t, func() bool {
		envs := fabric.envelopes()
		if len(envs) == 0 {
			return false
		}
		req, err := wire.ParseRelayDownloadRequest(envs[0].data)
		if err != nil {
			return false
		}
		id = req.RequestID
		return true
	}, time.Second, 5*time.Millisecond)

	l.HandleChannel(wire.ChannelPath(wire.PathAudioDownloadData, id),
		strings.NewReader("audio payload"))

	<-done
	require.NoError(t, dlErr)
	require.Equal(t, []byte("audio payload"), data)
}

func TestListener_FailedChannelReadYieldsEmptyBytes(t *testing.T) {
	fabric := pairedFabric()
	tr := newTestTransport(fabric)
	defer tr.Close()
	l := NewListener(ListenerConfig{Transport: tr})

	done := make(chan struct{})
	var data []byte
	var dlErr error
	go func() {
		defer close(done)
		data, dlErr = tr.DownloadAudio(context.Background(), "/audio/a.m4a")
	}()

	var id string
	require.Eventually(t, func() bool {
		envs := fabric.envelopes()
		if len(envs) == 0 {
			return false
		}
		req, err := wire.ParseRelayDownloadRequest(envs[0].data)
		if err != nil {
			return false
		}
		id = req.RequestID
		return true
	}, time.Second, 5*time.Millisecond)

	l.HandleChannel(wire.ChannelPath(wire.PathAudioDownloadData, id), failingReader{})

	// A failed transfer completes the call with zero bytes, not an error.
	<-done
	require.NoError(t, dlErr)
	require.Empty(t, data)
}

func TestListener_IgnoresUnexpectedChannel(t *testing.T) {
	tr := newTestTransport(&fakeFabric{})
	defer tr.Close()
	l := NewListener(ListenerConfig{Transport: tr})

	l.HandleChannel("/relay/audio/upload/data/some-id", strings.NewReader("x"))
	l.HandleChannel(wire.PathAudioDownloadData, strings.NewReader("x"))
}
