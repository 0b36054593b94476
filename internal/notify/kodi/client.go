// Package kodi is a minimal client for Kodi's JSON-RPC API, used to tell a
// running Kodi instance to rescan a library path after the engine
// publishes or repairs one.
package kodi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/notify"
)

// Client wraps Kodi's JSON-RPC HTTP endpoint with a host/port and a
// mutex-guarded connection, using a pooled HTTP client rather than a
// persistent TCP socket since Kodi's JSON-RPC is request/response over
// HTTP rather than a stateful session.
type Client struct {
	mu       sync.RWMutex
	http     *http.Client
	baseURL  string
	username string
	password string
}

// NewClient builds a Client targeting http://host:port/jsonrpc.
func NewClient(host string, port int, username, password string) *Client {
	return &Client{
		http:     &http.Client{Timeout: 20 * time.Second},
		baseURL:  fmt.Sprintf("http://%s:%d/jsonrpc", host, port),
		username: username,
		password: password,
	}
}

// Ping verifies the endpoint is reachable via JSONRPC.Ping.
func (c *Client) Ping(ctx context.Context) error {
	var result string
	if err := c.call(ctx, "JSONRPC.Ping", nil, &result); err != nil {
		return fmt.Errorf("kodi: ping: %w", err)
	}
	if result != "pong" {
		return fmt.Errorf("kodi: unexpected ping response %q", result)
	}
	return nil
}

// ScanDirectory triggers VideoLibrary.Scan scoped to directory, matching
// the per-library-path rescan the verifier/publisher ask for rather than
// a full library scan.
func (c *Client) ScanDirectory(ctx context.Context, directory string) error {
	params := map[string]interface{}{"directory": directory, "showdialogs": false}
	var result string
	if err := c.call(ctx, "VideoLibrary.Scan", params, &result); err != nil {
		return fmt.Errorf("kodi: scan %s: %w", directory, err)
	}
	log.Debug().Str("directory", directory).Msg("kodi: scan requested")
	return nil
}

// Notify implements notify.Notifier by scanning the directory the event
// names. entityID/libraryID/title carry no meaning to Kodi; only the path
// does.
func (c *Client) Notify(ctx context.Context, ev notify.Event) error {
	return c.ScanDirectory(ctx, ev.DirtyPath)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
