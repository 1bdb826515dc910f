package httpjson

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/latticehq/sequencer/pkg/transport"
)

// Client is a thin HTTP client for a node's status endpoint, used by
// cmd/sequencerctl status against a peer's advertised HTTP address. It
// supports optional TLS and a simple capped backoff retry.
type Client struct {
	httpc     *http.Client
	transport *http.Transport
	isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	tr := &http.Transport{}
	return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
	if c.transport != nil {
		c.transport.TLSClientConfig = cfg
	}
	c.isTLS = cfg != nil
	return c
}

// GetStatus fetches and decodes a peer's /status snapshot, retrying a fixed
// number of times with exponential backoff.
func (c *Client) GetStatus(ctx context.Context, addr string) (transport.StatusSnapshot, error) {
	var out transport.StatusSnapshot
	scheme := "http"
	if c.isTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/status", scheme, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
		} else {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					b, _ := io.ReadAll(resp.Body)
					lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
					return
				}
				lastErr = json.NewDecoder(resp.Body).Decode(&out)
			}()
			if lastErr == nil {
				return out, nil
			}
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
		}
	}
	return out, lastErr
}
