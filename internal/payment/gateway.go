// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/reelstream/internal/telemetry"
)

// ErrGateway marks failures talking to the payment gateway.
var ErrGateway = errors.New("payment gateway unavailable")

// Gateway is the payment provider capability.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	// VerifySignature checks the checkout signature returned to the client.
	VerifySignature(orderID, paymentID, signature string) bool
	FetchDetails(ctx context.Context, paymentID string) (Details, error)
	Refund(ctx context.Context, paymentID string, amountMinor int64) (Refund, error)
}

// OrderRequest asks the gateway for a checkout order. Amount is in minor units.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Details is the gateway's view of a captured payment.
type Details struct {
	Method string
	Raw    json.RawMessage
}

type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}

// ClientOptions configures the HTTP gateway client.
type ClientOptions struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

const (
	defaultGatewayURL     = "https://api.razorpay.com"
	defaultGatewayTimeout = 10 * time.Second
	defaultGatewayRetries = 2
	defaultGatewayBackoff = 250 * time.Millisecond
)

// Client talks to a Razorpay-compatible REST API.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	tracer     trace.Tracer
}

func NewClient(opts ClientOptions) *Client {
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultGatewayURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGatewayTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultGatewayRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultGatewayBackoff
	}
	transport := &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		keyID:      opts.KeyID,
		keySecret:  opts.KeySecret,
		http:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		tracer:     telemetry.Tracer("reelstream/payment"),
	}
}

// KeyID is the public key handed to checkout clients.
func (c *Client) KeyID() string { return c.keyID }

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var order Order
	err := c.do(ctx, http.MethodPost, "/v1/orders", req, &order, false)
	return order, err
}

// VerifySignature compares signature against HMAC-SHA256(order|payment)
// keyed with the API secret.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifySignature(c.keySecret, orderID, paymentID, signature)
}

// Sign computes the checkout signature of an order and payment.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	want := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}

func (c *Client) FetchDetails(ctx context.Context, paymentID string) (Details, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &raw, true); err != nil {
		return Details{}, err
	}
	var head struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Details{}, fmt.Errorf("decode payment details: %w", err)
	}
	return Details{Method: head.Method, Raw: raw}, nil
}

// Refund refunds amountMinor of a captured payment; zero refunds it in full.
func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor int64) (Refund, error) {
	body := map[string]int64{}
	if amountMinor > 0 {
		body["amount"] = amountMinor
	}
	var r Refund
	err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", body, &r, false)
	return r, err
}

// do performs one API call. Only idempotent calls are retried, and only on
// transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, in, out any, idempotent bool) error {
	ctx, span := c.tracer.Start(ctx, "payment.gateway "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	attempts := 1
	if idempotent {
		attempts += c.maxRetries
	}
	var lastErr error
retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := c.once(ctx, method, path, payload, out)
		span.SetAttributes(telemetry.HTTPAttributes(method, path, status)...)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		lastErr = err
		var herr *HTTPError
		if errors.As(err, &herr) && herr.Status < http.StatusInternalServerError {
			break
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return fmt.Errorf("%w: %s %s: %v", ErrGateway, method, path, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
