// Package client is a typed HTTP client for the sparks API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fulmine-labs/sparks/internal/imagegen"
	"github.com/fulmine-labs/sparks/internal/poll"
	"github.com/fulmine-labs/sparks/internal/service"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultAPIPath = "/api/v1"
	DefaultTimeout = 11 * time.Minute
)

var (
	ErrPaymentRequired = errors.New("payment required")
	ErrInvoiceExpired  = errors.New("invoice expired")
	ErrNotFound        = errors.New("not found")
)

// APIError is any non-2xx answer other than 402 and 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: http %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error  string  `json:"error"`
	Reason string  `json:"reason"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

func (b errorBody) message() string {
	switch {
	case b.Error != "":
		return b.Error
	case b.Reason != "":
		return b.Reason
	default:
		return b.Status
	}
}

type Client struct {
	client  *resty.Client
	apiPath string
}

func New(baseURL, apiPath string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if apiPath == "" {
		apiPath = DefaultAPIPath
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		apiPath: "/" + strings.Trim(apiPath, "/"),
	}
}

type Health struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Models(ctx context.Context) ([]imagegen.Model, error) {
	var out struct {
		Models []imagegen.Model `json:"models"`
	}
	if err := c.get(ctx, c.apiPath+"/services/image/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) Price(ctx context.Context, model string, numOutputs int) (*service.QuoteResponse, error) {
	params := map[string]string{"num_outputs": strconv.Itoa(numOutputs)}
	if model != "" {
		params["model"] = model
	}

	var out service.QuoteResponse
	if err := c.get(ctx, c.apiPath+"/services/image/price", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ModerationResponse struct {
	Prompt    string  `json:"prompt"`
	Safe      bool    `json:"is_safe"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	Threshold float64 `json:"threshold"`
}

type moderationRequest struct {
	Prompt    string   `json:"prompt"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Moderate scores prompt. A nil threshold leaves the server's in place.
func (c *Client) Moderate(ctx context.Context, prompt string, threshold *float64) (*ModerationResponse, error) {
	var out ModerationResponse
	if err := c.post(ctx, c.apiPath+"/moderation/check", moderationRequest{Prompt: prompt, Threshold: threshold}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate returns the response for both a completed generation and one
// awaiting payment; check Status.
func (c *Client) Generate(ctx context.Context, req service.GenerateRequest) (*service.GenerateResponse, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.apiPath + "/services/image/generate")
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusPaymentRequired:
		var out service.GenerateResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("decode generate response: %w", err)
		}
		return &out, nil
	default:
		var errBody errorBody
		json.Unmarshal(resp.Body(), &errBody)
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: errBody.message()}
	}
}

// Retrieve fetches a paid result. Unpaid invoices yield ErrPaymentRequired
// or ErrInvoiceExpired.
func (c *Client) Retrieve(ctx context.Context, paymentHash string) (*service.RetrieveResponse, error) {
	var out service.RetrieveResponse
	err := c.get(ctx, c.apiPath+"/services/image/retrieve/"+paymentHash, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForResult polls Retrieve until the invoice is paid, it expires, or
// policy runs out.
func (c *Client) WaitForResult(ctx context.Context, paymentHash string, policy poll.Policy) (*service.RetrieveResponse, error) {
	var result *service.RetrieveResponse

	err := poll.Until(ctx, policy, func(ctx context.Context) (bool, error) {
		r, err := c.Retrieve(ctx, paymentHash)
		if errors.Is(err, ErrPaymentRequired) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		result = r
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) InvoiceStatus(ctx context.Context, paymentHash string) (*service.InvoiceStatus, error) {
	var out service.InvoiceStatus
	if err := c.get(ctx, c.apiPath+"/invoices/"+paymentHash, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	var errBody errorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		SetError(&errBody).
		Get(path)
	if err != nil {
		return err
	}
	return checkResponse(resp, errBody)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var errBody errorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&errBody).
		Post(path)
	if err != nil {
		return err
	}
	return checkResponse(resp, errBody)
}

func checkResponse(resp *resty.Response, body errorBody) error {
	switch {
	case !resp.IsError():
		return nil
	case resp.StatusCode() == http.StatusPaymentRequired && body.Status == service.StatusExpired:
		return ErrInvoiceExpired
	case resp.StatusCode() == http.StatusPaymentRequired:
		return ErrPaymentRequired
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.message())
	default:
		return &APIError{StatusCode: resp.StatusCode(), Message: body.message()}
	}
}
