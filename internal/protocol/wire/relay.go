package wire

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Relay message paths. Control envelopes are addressed by path; binary
// payloads travel on dedicated channels whose path embeds the correlation id.
const (
	PathWSConnect    = "/relay/ws/connect"
	PathWSDisconnect = "/relay/ws/disconnect"
	PathWSMessage    = "/relay/ws/message"
	PathWSStatus     = "/relay/ws/status"

	PathHTTPRequest  = "/relay/http/request"
	PathHTTPResponse = "/relay/http/response"

	PathAudioUpload         = "/relay/audio/upload"
	PathAudioUploadResponse = "/relay/audio/upload/response"
	PathAudioDownload       = "/relay/audio/download"

	// Channel path prefixes; the correlation id is appended as the last
	// segment.
	PathAudioUploadData   = "/relay/audio/upload/data"
	PathAudioDownloadData = "/relay/audio/download/data"
)

// Link status strings sent on PathWSStatus.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// RelayHTTPRequest asks the tethered device to perform an HTTP request
// against the server on the caller's behalf.
type RelayHTTPRequest struct {
	// RequestID is the correlation id pairing the request with its response
	// envelope.
	RequestID string `json:"request_id"`
	// Method is the HTTP method.
	Method string `json:"method"`
	// Path is the URL path relative to the server base URL.
	Path string `json:"path"`
	// Body is the optional request body.
	Body string `json:"body,omitempty"`
	// Headers are optional extra request headers.
	Headers map[string]string `json:"headers,omitempty"`
}

// RelayHTTPResponse is the reply to a RelayHTTPRequest.
type RelayHTTPResponse struct {
	// RequestID echoes the request's correlation id.
	RequestID string `json:"request_id"`
	// Status is the HTTP status code, or 0 when the request never reached
	// the server.
	Status int `json:"status"`
	// Body is the response body, or an error description when Success is
	// false and Status is 0.
	Body string `json:"body"`
	// Success is true for 2xx responses.
	Success bool `json:"success"`
}

// RelayUploadMeta announces an audio upload; the bytes follow on the
// PathAudioUploadData channel scoped to the same correlation id.
type RelayUploadMeta struct {
	// RequestID is the correlation id shared by the metadata envelope, the
	// data channel and the response envelope.
	RequestID string `json:"request_id"`
	// ResponseMode selects how the server should answer ("audio" or "text").
	ResponseMode string `json:"response_mode"`
	// Size is the upload's byte length.
	Size int `json:"size"`
}

// RelayUploadResponse is the reply to a completed audio upload.
type RelayUploadResponse struct {
	// RequestID echoes the upload's correlation id.
	RequestID string `json:"request_id"`
	// Body is the server response body.
	Body string `json:"body"`
}

// RelayDownloadRequest asks the tethered device to fetch a binary payload;
// the bytes come back on the PathAudioDownloadData channel scoped to the
// same correlation id.
type RelayDownloadRequest struct {
	// RequestID is the correlation id shared with the data channel.
	RequestID string `json:"request_id"`
	// Path is the URL path of the payload to fetch.
	Path string `json:"path"`
}

// ParseRelayHTTPRequest parses a PathHTTPRequest envelope.
func ParseRelayHTTPRequest(data []byte) (*RelayHTTPRequest, error) {
	var req RelayHTTPRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseRelayHTTPResponse parses a PathHTTPResponse envelope.
func ParseRelayHTTPResponse(data []byte) (*RelayHTTPResponse, error) {
	var resp RelayHTTPResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseRelayUploadMeta parses a PathAudioUpload envelope.
func ParseRelayUploadMeta(data []byte) (*RelayUploadMeta, error) {
	var meta RelayUploadMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ParseRelayUploadResponse parses a PathAudioUploadResponse envelope.
func ParseRelayUploadResponse(data []byte) (*RelayUploadResponse, error) {
	var resp RelayUploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseRelayDownloadRequest parses a PathAudioDownload envelope.
func ParseRelayDownloadRequest(data []byte) (*RelayDownloadRequest, error) {
	var req RelayDownloadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Marshal encodes any relay envelope or frame for transmission.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ChannelPath builds a binary channel path from a prefix and correlation id.
func ChannelPath(prefix, requestID string) string {
	return prefix + "/" + requestID
}

// ChannelRequestID extracts the correlation id from a binary channel path.
// It returns false when the path does not belong to the given prefix.
func ChannelRequestID(prefix, path string) (string, bool) {
	if !strings.HasPrefix(path, prefix+"/") {
		return "", false
	}
	id := strings.TrimPrefix(path, prefix+"/")
	if id == "" {
		return "", false
	}
	return id, true
}
