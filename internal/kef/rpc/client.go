package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds ordinary request/response calls.
	DefaultTimeout = 3 * time.Second

	// longPollGrace is added on top of the poll timeout so the HTTP deadline
	// never fires before the speaker answers an idle long-poll.
	longPollGrace = 5 * time.Second

	maxErrorBody = 256
)

// Client executes calls against one speaker's /api endpoints.
type Client struct {
	host       string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a client for the speaker at host (ip or ip:port).
// Deadlines are applied per call, so the underlying http.Client has no
// global timeout and long-polls are not cut short.
func NewClient(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		host:    host,
		baseURL: fmt.Sprintf("http://%s/api", host),
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Host returns the speaker address this client talks to.
func (c *Client) Host() string {
	return c.host
}

// Call executes one request with the client's short timeout and returns the
// raw JSON response body.
func (c *Client) Call(ctx context.Context, endpoint Endpoint, params map[string]any, method Method) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, endpoint, params, method)
}

func (c *Client) do(ctx context.Context, endpoint Endpoint, params map[string]any, method Method) (json.RawMessage, error) {
	target := c.baseURL + "/" + string(endpoint)

	var req *http.Request
	var err error
	switch method {
	case MethodPost:
		body, marshalErr := json.Marshal(params)
		if marshalErr != nil {
			return nil, &TransportError{Endpoint: endpoint, Message: "encode request", Err: marshalErr}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		query := url.Values{}
		for key, value := range params {
			query.Set(key, fmt.Sprint(value))
		}
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Message: "build request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		message := "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "timed out"
		}
		return nil, &TransportError{Endpoint: endpoint, Message: message, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(resp, payload)}
	}

	if !json.Valid(payload) {
		return nil, &TransportError{Endpoint: endpoint, Message: "malformed JSON response"}
	}

	return payload, nil
}

func errorMessage(resp *http.Response, payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

// GetData reads a path and returns the first element of the response array,
// or nil when the speaker returned nothing for it.
func (c *Client) GetData(ctx context.Context, path string) (json.RawMessage, error) {
	payload, err := c.Call(ctx, EndpointGetData, map[string]any{
		"path":  path,
		"roles": RoleValue,
	}, MethodGet)
	if err != nil {
		return nil, err
	}
	return FirstElement(payload), nil
}

// GetValue reads a path and decodes its typed-value envelope.
func (c *Client) GetValue(ctx context.Context, path string) (Value, error) {
	raw, err := c.GetData(ctx, path)
	if err != nil {
		return Value{}, err
	}
	return ParseValue(raw), nil
}

// SetData writes value to path. The value is JSON-encoded into the request's
// "value" field as the speaker expects.
func (c *Client) SetData(ctx context.Context, path, roles string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return &TransportError{Endpoint: EndpointSetData, Message: "encode value", Err: err}
	}
	_, err = c.Call(ctx, EndpointSetData, map[string]any{
		"path":  path,
		"roles": roles,
		"value": string(encoded),
	}, MethodPost)
	return err
}

type queueItem struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// ModifyQueue subscribes to paths and returns the opaque queue id with any
// wrapping quotes removed.
func (c *Client) ModifyQueue(ctx context.Context, paths []string) (string, error) {
	subscribe := make([]queueItem, 0, len(paths))
	for _, path := range paths {
		subscribe = append(subscribe, queueItem{Path: path, Type: "itemWithValue"})
	}

	payload, err := c.Call(ctx, EndpointModifyQueue, map[string]any{
		"subscribe":   subscribe,
		"unsubscribe": []queueItem{},
	}, MethodPost)
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(payload, &id); err != nil {
		id = string(payload)
	}
	id = strings.Trim(strings.TrimSpace(id), `"`)
	if id == "" {
		return "", &TransportError{Endpoint: EndpointModifyQueue, Message: "empty queue id"}
	}
	return id, nil
}

type longPollResponse struct {
	Events map[string]json.RawMessage `json:"events"`
}

// LongPoll blocks until the speaker reports changes on queueID or timeout
// elapses. The result maps changed path to its raw value.
func (c *Client) LongPoll(ctx context.Context, queueID string, timeout time.Duration) (map[string]json.RawMessage, error) {
	seconds := int(math.Ceil(timeout.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second+longPollGrace)
	defer cancel()

	payload, err := c.do(ctx, EndpointLongPoll, map[string]any{
		"id":      queueID,
		"timeout": seconds,
	}, MethodPost)
	if err != nil {
		return nil, err
	}

	var decoded longPollResponse
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded.Events == nil {
		return map[string]json.RawMessage{}, nil
	}
	return decoded.Events, nil
}
