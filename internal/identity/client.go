// Package identity resolves ledger addresses to member aliases through the
// identity service.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/domain"
)

// DefaultTimeout bounds every identity call.
const DefaultTimeout = 10 * time.Second

// Member is an identity service entry.
type Member struct {
	Alias   string `json:"alias"`
	Address string `json:"address"`
}

// Client talks to the identity service over HTTP JSON. Aliases resolved by
// address are cached for the process lifetime.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *xsync.Map[string, Member]
	logger  *zap.Logger
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the service at baseURL, e.g.
// "http://identity:3000".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		cache:   xsync.NewMap[string, Member](),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("identity")
	return c
}

// ResolveSelf returns the member this node acts as.
func (c *Client) ResolveSelf(ctx context.Context, auth string) (*Member, error) {
	var m Member
	if err := c.get(ctx, "/v1/self", auth, &m); err != nil {
		return nil, err
	}
	c.cache.Store(m.Address, m)
	return &m, nil
}

// ResolveByAddress returns the member holding address. Returns
// domain.ErrNotFound for unknown addresses.
func (c *Client) ResolveByAddress(ctx context.Context, address, auth string) (*Member, error) {
	if m, ok := c.cache.Load(address); ok {
		return &m, nil
	}
	var m Member
	if err := c.get(ctx, "/v1/members/"+url.PathEscape(address), auth, &m); err != nil {
		return nil, err
	}
	c.cache.Store(address, m)
	return &m, nil
}

// Alias returns the alias for address, or address itself when the identity
// service does not know it.
func (c *Client) Alias(ctx context.Context, address, auth string) (string, error) {
	m, err := c.ResolveByAddress(ctx, address, auth)
	if errors.Is(err, domain.ErrNotFound) {
		return address, nil
	}
	if err != nil {
		return "", err
	}
	if m.Alias == "" {
		return address, nil
	}
	return m.Alias, nil
}

// Health checks that the service reports a version.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/health", "", &resp); err != nil {
		return err
	}
	if resp.Version == "" {
		return fmt.Errorf("%w: identity service reported no version", domain.ErrUnavailable)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path, auth string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("identity request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: identity %s: %w", domain.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: identity %s", domain.ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: identity %s: HTTP %d: %s", domain.ErrUnavailable, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode identity %s: %w", domain.ErrUnavailable, path, err)
	}
	return nil
}
