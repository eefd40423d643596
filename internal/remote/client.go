// Package remote is the JSON-over-HTTP client for the restaurant server.
//
// It maps every outcome onto a two-way taxonomy the sync engine drains by:
// connection failures, timeouts and 5xx answers become *TransportError
// (retryable), 4xx answers become *RejectionError (terminal). Callers never
// inspect raw HTTP status codes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/tables"
)

// Endpoint templates. Pending operations are enqueued with these paths so
// a drain can replay them verbatim; {id} is resolved at submission time.
const (
	PathOrders        = "/orders"
	PathOrder         = "/orders/{id}"
	PathOrderPay      = "/orders/{id}/pay"
	PathOrderStatus   = "/orders/{id}/status"
	PathOrderCancel   = "/orders/{id}/cancel"
	PathCustomers     = "/customers"
	PathAddresses     = "/customers/{id}/addresses"
	PathTableSnapshot = "/tables/occupied"
	PathPing          = "/ping"
)

const maxResponseBytes = 1 << 20

// Client talks to one restaurant server.
type Client struct {
	base  *url.URL
	token string
	hc    *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client. Test hook.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient builds a client for the given base URL. The timeout bounds
// every request end to end; an elapsed timeout is a transport failure.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:  u,
		token: token,
		hc:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitResult carries the server-assigned identity from a confirmed
// create. Zero for non-create operations.
type SubmitResult struct {
	ID     pos.EntityID `json:"id"`
	Number string       `json:"order_number"`
}

// flexID tolerates servers that send identifiers as JSON numbers.
type flexID pos.EntityID

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

type submitWire struct {
	ID     flexID `json:"id"`
	Number string `json:"order_number"`
}

// Do replays one queued operation exactly as it was recorded.
func (c *Client) Do(ctx context.Context, op pos.PendingOp) (SubmitResult, error) {
	var wire submitWire
	name := string(op.Kind)
	if name == "" {
		name = op.Method + " " + op.Path
	}
	if err := c.call(ctx, name, op.Method, op.ResolvedPath(), op.Payload, &wire); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{ID: pos.EntityID(wire.ID), Number: wire.Number}, nil
}

func (c *Client) CreateOrder(ctx context.Context, body json.RawMessage) (SubmitResult, error) {
	var wire submitWire
	if err := c.call(ctx, "create order", http.MethodPost, PathOrders, body, &wire); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{ID: pos.EntityID(wire.ID), Number: wire.Number}, nil
}

func (c *Client) UpdateOrder(ctx context.Context, id pos.EntityID, body json.RawMessage) error {
	return c.call(ctx, "update order", http.MethodPut, orderPath(PathOrder, id), body, nil)
}

func (c *Client) MarkPaid(ctx context.Context, id pos.EntityID, body json.RawMessage) error {
	return c.call(ctx, "mark paid", http.MethodPost, orderPath(PathOrderPay, id), body, nil)
}

func (c *Client) UpdateStatus(ctx context.Context, id pos.EntityID, body json.RawMessage) error {
	return c.call(ctx, "update status", http.MethodPost, orderPath(PathOrderStatus, id), body, nil)
}

func (c *Client) CancelOrder(ctx context.Context, id pos.EntityID) error {
	return c.call(ctx, "cancel order", http.MethodPost, orderPath(PathOrderCancel, id), nil, nil)
}

func (c *Client) CreateCustomer(ctx context.Context, body json.RawMessage) (SubmitResult, error) {
	var wire submitWire
	if err := c.call(ctx, "create customer", http.MethodPost, PathCustomers, body, &wire); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{ID: pos.EntityID(wire.ID)}, nil
}

func (c *Client) AddAddress(ctx context.Context, id pos.EntityID, body json.RawMessage) error {
	return c.call(ctx, "add address", http.MethodPost, orderPath(PathAddresses, id), body, nil)
}

// FetchTableSnapshot pulls the server's current table occupancy.
func (c *Client) FetchTableSnapshot(ctx context.Context) ([]tables.Reservation, error) {
	var wire []struct {
		Table  int    `json:"table"`
		ID     flexID `json:"order_id"`
		Number string `json:"order_number"`
	}
	if err := c.call(ctx, "fetch table snapshot", http.MethodGet, PathTableSnapshot, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]tables.Reservation, 0, len(wire))
	for _, e := range wire {
		out = append(out, tables.Reservation{
			Table:       e.Table,
			OrderID:     pos.EntityID(e.ID),
			OrderNumber: e.Number,
		})
	}
	return out, nil
}

// Ping probes connectivity. Any non-transport answer counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.call(ctx, "ping", http.MethodGet, PathPing, nil, nil)
	if err != nil && !IsRetryable(err) {
		return nil
	}
	return err
}

func orderPath(template string, id pos.EntityID) string {
	return strings.ReplaceAll(template, "{id}", string(id))
}

func (c *Client) call(ctx context.Context, name, method, path string, body json.RawMessage, out any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &TransportError{Op: name, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: name, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return &TransportError{Op: name, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return &RejectionError{Op: name, Status: resp.StatusCode, Message: rejectionMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("remote: %s: decode response: %w", name, err)
		}
	}
	return nil
}

// rejectionMessage digs the human-readable reason out of an error body.
func rejectionMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
