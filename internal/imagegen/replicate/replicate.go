// Package replicate is an imagegen.Backend for the Replicate predictions API.
package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fulmine-labs/sparks/internal/imagegen"
)

const (
	DefaultBaseURL = "https://api.replicate.com"
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	client *resty.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthScheme("Token").
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{client: client}
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// Submit starts a prediction. A "owner/name:version" ref is posted to the
// versioned endpoint, a bare "owner/name" to the model endpoint.
func (c *Client) Submit(ctx context.Context, modelRef string, input map[string]any) (*imagegen.Prediction, error) {
	var (
		path string
		body = map[string]any{"input": input}
	)

	if name, version, ok := strings.Cut(modelRef, ":"); ok {
		if name == "" || version == "" {
			return nil, fmt.Errorf("replicate: invalid model ref %q", modelRef)
		}
		path = "/v1/predictions"
		body["version"] = version
	} else {
		owner, model, ok := strings.Cut(modelRef, "/")
		if !ok || owner == "" || model == "" {
			return nil, fmt.Errorf("replicate: invalid model ref %q", modelRef)
		}
		path = fmt.Sprintf("/v1/models/%s/%s/predictions", owner, model)
	}

	var (
		out    prediction
		apiErr apiError
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("replicate: submit: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("replicate: submit: http %d: %s", resp.StatusCode(), apiErr.Detail)
	}

	return out.decode()
}

func (c *Client) Get(ctx context.Context, id string) (*imagegen.Prediction, error) {
	var (
		out    prediction
		apiErr apiError
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/predictions/{id}")
	if err != nil {
		return nil, fmt.Errorf("replicate: get %v: %w", id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("replicate: get %v: http %d: %s", id, resp.StatusCode(), apiErr.Detail)
	}

	return out.decode()
}

// decode normalises output, which is a list of URLs for most models and a
// single URL for some.
func (p prediction) decode() (*imagegen.Prediction, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("replicate: prediction without id")
	}

	pred := &imagegen.Prediction{
		ID:     p.ID,
		Status: imagegen.Status(p.Status),
	}

	if len(p.Output) > 0 && string(p.Output) != "null" {
		var list []string
		if err := json.Unmarshal(p.Output, &list); err != nil {
			var single string
			if err := json.Unmarshal(p.Output, &single); err != nil {
				return nil, fmt.Errorf("replicate: unexpected output: %s", p.Output)
			}
			list = []string{single}
		}
		pred.Output = list
	}

	if p.Error != nil {
		pred.Error = fmt.Sprint(p.Error)
	}

	return pred, nil
}
