package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/txtx/moneymq-go"
)

// Client is the gate's view of a facilitator: it only needs the three
// endpoints the payment flow calls over HTTP, whether the facilitator
// is mounted in the same process or reached remotely.
type Client interface {
	Supported(ctx context.Context) (x402.SupportedResponse, error)
	Verify(ctx context.Context, req x402.VerifyRequest) (x402.VerifyResponse, error)
	Settle(ctx context.Context, req x402.SettleRequest) (x402.SettleResponse, error)
}

// LocalClient calls a Facilitator in-process, skipping the HTTP hop
// when the gate and facilitator share a process.
type LocalClient struct {
	f *Facilitator
}

// NewLocalClient wraps f as a Client.
func NewLocalClient(f *Facilitator) *LocalClient { return &LocalClient{f: f} }

func (c *LocalClient) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	return c.f.Supported(ctx), nil
}

func (c *LocalClient) Verify(ctx context.Context, req x402.VerifyRequest) (x402.VerifyResponse, error) {
	return c.f.Verify(ctx, req)
}

func (c *LocalClient) Settle(ctx context.Context, req x402.SettleRequest) (x402.SettleResponse, error) {
	return c.f.Settle(ctx, req)
}

// HTTPClient calls a facilitator over HTTP, for a gate running in a
// separate process or talking to a third-party facilitator.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds an HTTPClient rooted at baseURL (e.g.
// "https://pay.example.com/payment/v1").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("create supported request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return x402.SupportedResponse{}, x402.NewPaymentError(x402.CodeFacilitatorUnreach, "supported request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return x402.SupportedResponse{}, facilitatorHTTPError(resp)
	}

	var out x402.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("decode supported response: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) Verify(ctx context.Context, req x402.VerifyRequest) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	err := c.post(ctx, "/verify", req, &out)
	return out, err
}

func (c *HTTPClient) Settle(ctx context.Context, req x402.SettleRequest) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	err := c.post(ctx, "/settle", req, &out)
	return out, err
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return x402.NewPaymentError(x402.CodeFacilitatorUnreach, "facilitator request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return facilitatorHTTPError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func facilitatorHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var decoded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &decoded)
	if decoded.Code == "" {
		decoded.Code = x402.CodeFacilitatorUnreach
	}
	if decoded.Message == "" {
		decoded.Message = string(body)
	}
	return x402.NewPaymentError(decoded.Code, decoded.Message, nil)
}
