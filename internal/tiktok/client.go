package tiktok

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

	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/dispatch"
)

// Credentials authorize calls on behalf of one advertiser.
type Credentials struct {
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
}

// ID is a platform identifier. The platform returns large numeric IDs that
// must not pass through float64, so numbers are kept as their literal text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

// Client calls the ads platform through the dispatch queue.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	queue      *dispatch.Queue
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.TikTokConfig, queue *dispatch.Queue, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		queue:      queue,
	}
}

// call queues one request and decodes the envelope's data into out.
// The timeout covers the HTTP exchange only, not time spent queued.
func (c *Client) call(ctx context.Context, creds Credentials, method, endpoint string, payload, out any) error {
	req := dispatch.Request{AppID: creds.AppID, Method: method, Endpoint: endpoint, Payload: payload}
	return c.queue.Push(ctx, req, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.send(ctx, creds.AccessToken, method, endpoint, payload, out)
	})
}

func (c *Client) send(ctx context.Context, accessToken, method, endpoint string, payload, out any) error {
	target := c.baseURL + endpoint
	var body io.Reader

	switch method {
	case http.MethodGet:
		query, err := encodeQuery(payload)
		if err != nil {
			return err
		}
		if query != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query
		}
	default:
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to encode payload: %w", err)
			}
			body = bytes.NewReader(b)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Access-Token", accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&env); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, resp.StatusCode, err)
	}
	if env.Code != CodeSuccess {
		return &APIError{Code: env.Code, Message: env.Message, RequestID: env.RequestID}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// encodeQuery turns a flat payload into query parameters. Non-string values
// are JSON encoded, which is how the platform expects lists and objects.
func encodeQuery(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", fmt.Errorf("payload must be an object: %w", err)
	}

	values := url.Values{}
	for key, raw := range fields {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			values.Set(key, s)
			continue
		}
		values.Set(key, string(raw))
	}
	return values.Encode(), nil
}
