package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
)

// HTTPSink PUTs snapshots as zstd-compressed JSON to a REST endpoint.
type HTTPSink struct {
	url     string
	client  *http.Client
	encoder *zstd.Encoder
	token   string
}

// NewHTTPSink creates a sink posting to url. token, when set, is sent as a
// bearer credential.
func NewHTTPSink(url, token string) (*HTTPSink, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &HTTPSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		encoder: encoder,
		token:   token,
	}, nil
}

// Put implements Sink. 4xx responses are permanent failures.
func (s *HTTPSink) Put(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode snapshot: %w", err))
	}
	body := s.encoder.EncodeAll(payload, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("put snapshot: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("put snapshot: status %d", resp.StatusCode)
	}
}

// Close implements Sink.
func (s *HTTPSink) Close() error {
	return s.encoder.Close()
}
