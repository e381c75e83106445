// Package segment forwards finalized leads to the Segment HTTP Tracking API.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/config"
)

// TrackEvent is one analytics event, identity-keyed by the Segment anonymous
// id captured at visit time.
type TrackEvent struct {
	AnonymousID string         `json:"anonymousId"`
	Event       string         `json:"event"`
	Properties  map[string]any `json:"properties,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Forwarder sends tracking events to the analytics sink.
type Forwarder interface {
	Track(ctx context.Context, event TrackEvent) error
}

// Noop is the forwarder used when Segment is administratively disabled.
// It succeeds without action so the lead write path never blocks on the
// optional integration.
type Noop struct{}

func (Noop) Track(ctx context.Context, event TrackEvent) error { return nil }

// Client calls the Segment HTTP Tracking API.
type Client struct {
	writeKey string
	endpoint string
	client   *http.Client
}

// NewForwarder returns a Client when Segment is configured and a Noop
// otherwise.
func NewForwarder(cfg config.SegmentConfig) Forwarder {
	if !cfg.IsSegmentEnabled() {
		return Noop{}
	}

	return &Client{
		writeKey: cfg.GetSegmentWriteKey(),
		endpoint: cfg.GetSegmentEndpoint(),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Track posts one event to the tracking endpoint. The write key is the
// basic-auth username with an empty password, per the Segment HTTP API.
func (c *Client) Track(ctx context.Context, event TrackEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.writeKey, "")
	req.Header.Set("content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("segment track failed with status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
