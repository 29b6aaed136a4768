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

	"github.com/cenkalti/backoff/v5"

	"github.com/qninhdt/gamepatch/internal/cards"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetryWait = 200 * time.Millisecond
	maxTries         = 2
)

// StatusError is a non-2xx answer from the card API
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("card api: status %d", e.Code)
	}
	return fmt.Sprintf("card api: status %d: %s", e.Code, e.Message)
}

// Hints pick the bot and instance a card is fetched for
type Hints struct {
	BotID      string
	BotName    string
	InstanceID string
}

// Client talks to the card endpoints of a gamepatch server
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
	retryWait  time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds each request attempt
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryWait sets the pause before the retry of a failed fetch
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// New creates a client for the API rooted at baseURL, for example
// "http://localhost:8080/gamepatch/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		retryWait:  defaultRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCard loads the payload of a card. Transport failures and 5xx
// answers are retried once.
func (c *Client) FetchCard(ctx context.Context, uid string, hints Hints) (*cards.Payload, error) {
	q := url.Values{}
	if hints.BotID != "" {
		q.Set("bot_id", hints.BotID)
	}
	if hints.BotName != "" {
		q.Set("bot_name", hints.BotName)
	}
	if hints.InstanceID != "" {
		q.Set("card_instance_id", hints.InstanceID)
	}
	path := "/cards/" + url.PathEscape(uid)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	return retry(ctx, c, func() (*cards.Payload, error) {
		var p cards.Payload
		if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// CreateInstance starts an instance of a card and returns its id
func (c *Client) CreateInstance(ctx context.Context, uid string, hints Hints) (string, error) {
	body := map[string]string{}
	if hints.BotID != "" {
		body["botId"] = hints.BotID
	}
	if hints.BotName != "" {
		body["botName"] = hints.BotName
	}

	return retry(ctx, c, func() (string, error) {
		var created cards.InstanceCreated
		if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(uid)+"/instances", body, &created); err != nil {
			return "", err
		}
		if created.CardInstanceID == "" {
			return "", backoff.Permanent(errors.New("card api: instance created without id"))
		}
		return created.CardInstanceID, nil
	})
}

// Respond submits an action. It is never retried: the protocol carries
// no idempotency key.
func (c *Client) Respond(ctx context.Context, uid string, req cards.RespondRequest) (*cards.RespondResult, error) {
	var result cards.RespondResult
	if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(uid)+"/respond", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// retry runs op up to maxTries times. Client errors are final.
func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryWait)),
		backoff.WithMaxTries(maxTries),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// do performs one request with the per-attempt timeout
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
