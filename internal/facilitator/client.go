// Package facilitator is the HTTP client for the remote facilitator
// service that performs cryptographic verification and on-chain settlement.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/wire"
)

// DefaultBaseURL is the production facilitator endpoint.
const DefaultBaseURL = "https://facilitator.x402.network"

// Client is an authenticated facilitator REST client. Network-layer
// failures on Verify and Settle surface as structured failure responses;
// failures on Supported degrade to an empty support matrix.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the Bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger (nop by default).
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a facilitator client. An empty baseURL selects the built-in
// production endpoint.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured facilitator endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Verify submits the payment to POST /verify. Transport failures come back
// as an unsuccessful VerifyResponse, not an error.
func (c *Client) Verify(ctx context.Context, payload wire.PaymentPayload, reqs wire.PaymentRequirements) (*wire.VerifyResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := wire.VerifyRequest{
		X402Version:         wire.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	}
	resp, err := c.do(ctx, http.MethodPost, "/verify", body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("facilitator verify unreachable", zap.Error(err))
		return &wire.VerifyResponse{Success: false, Error: "facilitator_unreachable", ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	var vr wire.VerifyResponse
	if err := decodeResponse(resp, &vr); err != nil {
		c.log.Warn("facilitator verify bad response", zap.Error(err))
		return &wire.VerifyResponse{Success: false, Error: "facilitator_error", ErrorMessage: err.Error()}, nil
	}
	return &vr, nil
}

// Settle submits the payment to POST /settle with waitUntil=confirmed.
// Transport failures come back as an unsuccessful SettleResponse.
func (c *Client) Settle(ctx context.Context, payload wire.PaymentPayload, reqs wire.PaymentRequirements) (*wire.SettleResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := wire.SettleRequest{
		X402Version:         wire.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
		WaitUntil:           wire.WaitConfirmed,
	}
	resp, err := c.do(ctx, http.MethodPost, "/settle", body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("facilitator settle unreachable", zap.Error(err))
		return &wire.SettleResponse{Success: false, Error: "facilitator_unreachable", ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	var sr wire.SettleResponse
	if err := decodeResponse(resp, &sr); err != nil {
		c.log.Warn("facilitator settle bad response", zap.Error(err))
		return &wire.SettleResponse{Success: false, Error: "facilitator_error", ErrorMessage: err.Error()}, nil
	}
	return &sr, nil
}

// Supported queries GET /supported for the facilitator's support matrix.
// Any failure yields an empty kinds list so requirement construction stays
// live when the facilitator is down.
func (c *Client) Supported(ctx context.Context, chainID, tokenAddress string) (*wire.SupportedResponse, error) {
	q := url.Values{}
	if chainID != "" {
		q.Set("chainId", chainID)
	}
	if tokenAddress != "" {
		q.Set("tokenAddress", tokenAddress)
	}
	path := "/supported"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("facilitator supported unreachable", zap.Error(err))
		return &wire.SupportedResponse{}, nil
	}
	defer resp.Body.Close()

	var sup wire.SupportedResponse
	if err := decodeResponse(resp, &sup); err != nil {
		c.log.Warn("facilitator supported bad response", zap.Error(err))
		return &wire.SupportedResponse{}, nil
	}
	return &sup, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("facilitator status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode facilitator response: %w", err)
	}
	return nil
}
