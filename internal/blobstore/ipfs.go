// Package blobstore is a minimal client for the IPFS HTTP API.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"matchmaker-ledger/internal/domain"
)

// DefaultTimeout bounds every IPFS call.
const DefaultTimeout = 30 * time.Second

// Client adds and reads content-addressed files.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// NewClient creates a client for the IPFS API at baseURL, e.g.
// "http://ipfs:5001".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add stores content and returns its hash and size.
func (c *Client) Add(ctx context.Context, filename string, content io.Reader) (string, int64, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", 0, fmt.Errorf("copy content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("close multipart: %w", err)
	}

	resp, err := c.post(ctx, "/api/v0/add", url.Values{"cid-version": {"0"}}, w.FormDataContentType(), &body)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: decode ipfs add: %w", domain.ErrUnavailable, err)
	}
	size, _ := strconv.ParseInt(out.Size, 10, 64)
	return out.Hash, size, nil
}

// Cat returns the content stored under hash.
func (c *Client) Cat(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.post(ctx, "/api/v0/cat", url.Values{"arg": {hash}}, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read ipfs cat: %w", domain.ErrUnavailable, err)
	}
	return content, nil
}

// Health checks that the node answers a version request.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/v0/version", nil, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// post calls an IPFS API method. The caller closes the body on success.
func (c *Client) post(ctx context.Context, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ipfs %s: %w", domain.ErrUnavailable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ipfs %s: HTTP %d: %s", domain.ErrUnavailable, path, resp.StatusCode, string(msg))
	}
	return resp, nil
}
