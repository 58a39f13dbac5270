package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// RESTClient talks to the advertising platform over its JSON API. It is
// constructed once by the daemon and injected everywhere the API interface is
// consumed.
type RESTClient struct {
	httpClient     *http.Client
	endpoint       string
	developerToken string
}

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	Endpoint       string
	DeveloperToken string
	Timeout        time.Duration
}

// NewRESTClient builds a client with its own pooled http.Client.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &RESTClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint:       cfg.Endpoint,
		developerToken: cfg.DeveloperToken,
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []Row `json:"results"`
}

// Search implements API.
func (c *RESTClient) Search(ctx context.Context, customerID, query string) ([]Row, error) {
	url := fmt.Sprintf("%s/v17/customers/%s/googleAds:search", c.endpoint, customerID)
	var resp searchResponse
	if err := c.post(ctx, url, searchRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type mutateRequest struct {
	Operations     any  `json:"operations"`
	PartialFailure bool `json:"partial_failure"`
}

type mutateResponse struct {
	Results []struct {
		ResourceName string `json:"resource_name"`
		Error        *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"results"`
}

// CreateAds implements API.
func (c *RESTClient) CreateAds(ctx context.Context, customerID string, ops []AdOperation) ([]MutateResult, error) {
	url := fmt.Sprintf("%s/v17/customers/%s/adGroupAds:mutate", c.endpoint, customerID)
	return c.mutate(ctx, url, ops, len(ops))
}

// CreateLabels implements API.
func (c *RESTClient) CreateLabels(ctx context.Context, customerID string, names []string) ([]MutateResult, error) {
	url := fmt.Sprintf("%s/v17/customers/%s/labels:mutate", c.endpoint, customerID)
	type labelOp struct {
		Name string `json:"name"`
	}
	ops := make([]labelOp, 0, len(names))
	for _, n := range names {
		ops = append(ops, labelOp{Name: n})
	}
	return c.mutate(ctx, url, ops, len(ops))
}

// ApplyAdLabels implements API.
func (c *RESTClient) ApplyAdLabels(ctx context.Context, customerID string, pairs []LabelAssignment) ([]MutateResult, error) {
	url := fmt.Sprintf("%s/v17/customers/%s/adGroupAdLabels:mutate", c.endpoint, customerID)
	return c.mutate(ctx, url, pairs, len(pairs))
}

// ApplyAdGroupLabels implements API.
func (c *RESTClient) ApplyAdGroupLabels(ctx context.Context, customerID string, pairs []LabelAssignment) ([]MutateResult, error) {
	url := fmt.Sprintf("%s/v17/customers/%s/adGroupLabels:mutate", c.endpoint, customerID)
	return c.mutate(ctx, url, pairs, len(pairs))
}

func (c *RESTClient) mutate(ctx context.Context, url string, ops any, n int) ([]MutateResult, error) {
	if n == 0 {
		return nil, nil
	}
	var resp mutateResponse
	if err := c.post(ctx, url, mutateRequest{Operations: ops, PartialFailure: true}, &resp); err != nil {
		return nil, err
	}

	// The response is order-aligned with the submitted operations. A response
	// shorter than the request is an ambiguous partial failure: the uncovered
	// tail is marked failed, never assumed succeeded.
	results := make([]MutateResult, n)
	for i := range results {
		if i >= len(resp.Results) {
			results[i] = MutateResult{Err: &APIError{Message: "operation missing from mutate response"}}
			continue
		}
		r := resp.Results[i]
		if r.Error != nil {
			results[i] = MutateResult{Err: &APIError{Code: r.Error.Code, Message: r.Error.Message}}
			continue
		}
		results[i] = MutateResult{ResourceName: r.ResourceName}
	}
	return results, nil
}

func (c *RESTClient) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.developerToken != "" {
		req.Header.Set("developer-token", c.developerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	transient := errors.As(err, &netErr) && netErr.Timeout()
	return &APIError{Message: err.Error(), Transient: transient}
}
