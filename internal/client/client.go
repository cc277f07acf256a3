// Package client talks to a marketplace node over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"marketplace_go/internal/api"
	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
	"marketplace_go/internal/identity"
)

// APIError is a non-2xx response that did not produce a sequenced command.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the node.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	base string
	http *retryablehttp.Client
}

func New(baseURL string, retries int) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = slog.Default()
	rc.CheckRetry = checkRetry
	// Hand the last response back instead of a generic "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{base: strings.TrimRight(baseURL, "/"), http: rc}
}

// checkRetry retries transport failures and responses that say "try later".
// Other 5xx are not retried: a command may already have been sequenced.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var body json.RawMessage
	status, err := c.do(ctx, http.MethodGet, path, nil, &body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeError(status, body)
	}
	return json.Unmarshal(body, out)
}

func decodeError(status int, body []byte) error {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return &APIError{Status: status, Message: http.StatusText(status)}
	}
	return &APIError{Status: status, Message: e.Error}
}

// Submit posts a signed envelope. A command the program rejected is
// returned as a response with OK false and a nil error.
func (c *Client) Submit(ctx context.Context, env *identity.Envelope) (*api.TxResponse, error) {
	var body json.RawMessage
	status, err := c.do(ctx, http.MethodPost, "/v1/tx", env, &body)
	if err != nil {
		return nil, err
	}

	var resp api.TxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeError(status, body)
	}
	if resp.Seq == 0 {
		return nil, &APIError{Status: status, Message: resp.Error}
	}
	return &resp, nil
}

// NextNonce returns the nonce the signer's next command must carry.
func (c *Client) NextNonce(ctx context.Context, signer domain.Pubkey) (uint64, error) {
	acct, err := c.Account(ctx, signer)
	if err != nil {
		return 0, err
	}
	return acct.Nonce + 1, nil
}

// Send signs ev with the next nonce for id and submits it.
func (c *Client) Send(ctx context.Context, id *identity.Identity, ev event.Event) (*api.TxResponse, error) {
	nonce, err := c.NextNonce(ctx, id.Pubkey())
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	env, err := identity.Seal(id, nonce, ev)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, env)
}

func (c *Client) Health(ctx context.Context) (*api.HealthView, error) {
	var h api.HealthView
	var body json.RawMessage
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, &body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, decodeError(status, body)
	}
	return &h, nil
}

func (c *Client) Account(ctx context.Context, addr domain.Pubkey) (*api.AccountView, error) {
	var v api.AccountView
	if err := c.get(ctx, "/v1/accounts/"+addr.String(), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Asset(ctx context.Context, id domain.Pubkey) (*domain.Asset, error) {
	var a domain.Asset
	if err := c.get(ctx, "/v1/assets/"+id.String(), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Marketplaces(ctx context.Context) ([]api.MarketplaceView, error) {
	var out []api.MarketplaceView
	if err := c.get(ctx, "/v1/marketplaces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Marketplace(ctx context.Context, addr domain.Pubkey) (*api.MarketplaceView, error) {
	var v api.MarketplaceView
	if err := c.get(ctx, "/v1/marketplaces/"+addr.String(), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Listings(ctx context.Context, marketplace domain.Pubkey) ([]api.ListingView, error) {
	var out []api.ListingView
	if err := c.get(ctx, "/v1/marketplaces/"+marketplace.String()+"/listings", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Listing(ctx context.Context, marketplace, asset domain.Pubkey) (*api.ListingView, error) {
	var v api.ListingView
	path := fmt.Sprintf("/v1/marketplaces/%s/listings/%s", marketplace, asset)
	if err := c.get(ctx, path, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// FeedURL returns the websocket URL of the commit feed, optionally
// filtered to one marketplace.
func (c *Client) FeedURL(marketplace domain.Pubkey) (string, error) {
	u, err := url.Parse(c.base + "/v1/feed")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if !marketplace.IsZero() {
		u.RawQuery = url.Values{"marketplace": {marketplace.String()}}.Encode()
	}
	return u.String(), nil
}
