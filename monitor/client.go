/*
Package monitor talks to the external fleet runtime monitor over HTTP.

PURPOSE:
  Implements vending.MonitorGateway. The monitor is an advisory
  third-party service: it observes physical machines and reports raw
  status strings. It is never the source of truth for money or
  identity, so every call here is best-effort - network failures,
  timeouts, and malformed payloads all degrade to "no remote data"
  and are logged, never propagated as errors.

ENDPOINTS:
  POST {base}/heartbeat        form-encoded boot announcement
  GET  {base}/statuses         JSON list of {code, status} entries
  POST {base}/fleet            JSON snapshot of the local fleet

TIMEOUTS:
  Short and asymmetric: the status fetch sits on the distributor
  request path, so it gets the tighter budget.
*/
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brewnet/vendcore/metrics"
	"github.com/brewnet/vendcore/vending"
)

const (
	fetchTimeout = 2 * time.Second
	pushTimeout  = 4 * time.Second

	// maxBody caps how much of a response we are willing to parse.
	maxBody = 1 << 20
)

// Client is the HTTP implementation of vending.MonitorGateway.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ vending.MonitorGateway = (*Client)(nil)

// New creates a monitor client for the given base URL. A nil
// httpClient gets a default with the push timeout; per-call deadlines
// still apply on top.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: pushTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Heartbeat announces a machine boot. Fire-and-forget.
func (c *Client) Heartbeat(ctx context.Context, code string) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	form := url.Values{"code": {code}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/heartbeat", strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("[Monitor] Heartbeat request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.MonitorRequests.WithLabelValues("heartbeat", "error").Inc()
		log.Printf("[Monitor] Heartbeat for %s failed: %v", code, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	metrics.MonitorRequests.WithLabelValues("heartbeat", outcome(resp.StatusCode)).Inc()
	if resp.StatusCode >= 300 {
		log.Printf("[Monitor] Heartbeat for %s returned %d", code, resp.StatusCode)
	}
}

// statusEntry is one machine report in the monitor's status payload.
// The monitor's schema has drifted over time, so both "code" and the
// older "distributor" key are accepted.
type statusEntry struct {
	Code        string `json:"code"`
	Distributor string `json:"distributor"`
	Status      string `json:"status"`
}

// FetchStatuses returns the monitor's code -> raw status map. Any
// failure - connection, HTTP status, malformed JSON - yields an empty
// map so callers reconcile against "nothing heard".
func (c *Client) FetchStatuses(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/statuses", nil)
	if err != nil {
		log.Printf("[Monitor] Status request build failed: %v", err)
		return map[string]string{}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.MonitorRequests.WithLabelValues("statuses", "error").Inc()
		log.Printf("[Monitor] Status fetch failed: %v", err)
		return map[string]string{}
	}
	defer resp.Body.Close()

	metrics.MonitorRequests.WithLabelValues("statuses", outcome(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[Monitor] Status fetch returned %d", resp.StatusCode)
		return map[string]string{}
	}

	var entries []statusEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&entries); err != nil {
		log.Printf("[Monitor] Status payload unreadable: %v", err)
		return map[string]string{}
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		code := e.Code
		if code == "" {
			code = e.Distributor
		}
		if code == "" {
			continue
		}
		out[code] = e.Status
	}
	return out
}

// snapshotEntry mirrors one local distributor in the pushed fleet
// snapshot.
type snapshotEntry struct {
	Code     string `json:"code"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

// PushSnapshot sends the local distributor list to the monitor.
// Fire-and-forget.
func (c *Client) PushSnapshot(ctx context.Context, distributors []vending.Distributor) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	entries := make([]snapshotEntry, 0, len(distributors))
	for _, d := range distributors {
		entries = append(entries, snapshotEntry{
			Code:     d.Code,
			Location: d.Location,
			Status:   string(d.Status),
		})
	}

	body, err := json.Marshal(entries)
	if err != nil {
		log.Printf("[Monitor] Snapshot marshal failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/fleet", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Monitor] Snapshot request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.MonitorRequests.WithLabelValues("fleet", "error").Inc()
		log.Printf("[Monitor] Snapshot push failed: %v", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	metrics.MonitorRequests.WithLabelValues("fleet", outcome(resp.StatusCode)).Inc()
	if resp.StatusCode >= 300 {
		log.Printf("[Monitor] Snapshot push returned %d", resp.StatusCode)
	}
}

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "error"
}
