// Package client is a Go client for the order gateway: it submits orders
// over HTTP and follows their status updates over the WebSocket endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

const (
	// writeWait is the time allowed to write the subscribe frame.
	writeWait = 10 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 1024
)

// ErrStreamClosed is returned by Watch when the server closed the stream
// before a terminal status arrived.
var ErrStreamClosed = errors.New("client: stream closed before terminal status")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a Client for baseURL, e.g. "http://localhost:3000". apiKey may
// be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Submit admits an order and returns its id.
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("client: marshal order: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/orders/execute", body)
	if err != nil {
		return "", fmt.Errorf("client: submit: %w", err)
	}

	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("client: decode submit response: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("client: submit response without order_id")
	}
	return out.OrderID, nil
}

// Get returns the persisted outcome of orderID. An order that is unknown or
// still in flight yields an *APIError with status 404.
func (c *Client) Get(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("client: get %s: %w", orderID, err)
	}
	var o domain.PersistedOrder
	if err := json.Unmarshal(resp, &o); err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("client: decode order: %w", err)
	}
	return o, nil
}

// Watch subscribes to orderID and calls fn for every status update until a
// terminal status arrives, which is also returned. Updates published before
// the subscription was registered are not replayed.
func (c *Client) Watch(ctx context.Context, orderID string, fn func(domain.StatusEvent)) (domain.StatusEvent, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), c.headers())
	if err != nil {
		return domain.StatusEvent{}, fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(orderID)); err != nil {
		return domain.StatusEvent{}, fmt.Errorf("client: subscribe %s: %w", orderID, err)
	}

	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return domain.StatusEvent{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return domain.StatusEvent{}, ErrStreamClosed
			}
			return domain.StatusEvent{}, fmt.Errorf("client: read: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := stream.DecodeStatus(payload)
		if err != nil {
			return domain.StatusEvent{}, fmt.Errorf("client: %w", err)
		}
		if fn != nil {
			fn(ev)
		}
		if ev.Terminal() {
			return ev, nil
		}
	}
}

func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/orders/execute"
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers() {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

func apiError(code int, body []byte) *APIError {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &APIError{StatusCode: code, Message: msg}
}
