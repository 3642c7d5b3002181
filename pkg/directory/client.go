package directory

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

	"github.com/google/uuid"

	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
)

const (
	errorBodyReadLimit int64 = 1024
	apiKeyHeader             = "X-Api-Key"
)

var errBaseURLRequired = errors.New("supplier directory base URL is required")

// Client calls the supplier directory service, which owns the per-category
// supplier rankings consumed by routing fan-out.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey attaches the directory API key to every request.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(apiKey)
	}
}

// WithTimeout replaces the default HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a directory client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return client, nil
}

// Rank returns supplier ids ordered best-first for the category, scoped to
// the buyer so the directory can exclude suppliers that refuse the account.
func (c *Client) Rank(ctx context.Context, category string, buyerID uuid.UUID) ([]uuid.UUID, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "supplier directory client not configured")
	}
	trimmedCategory := strings.TrimSpace(category)
	if trimmedCategory == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category is required")
	}
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer ID is required")
	}

	query := url.Values{}
	query.Set("category", trimmedCategory)
	query.Set("buyer_id", buyerID.String())
	rankURL := fmt.Sprintf("%s/v1/suppliers/rank?%s", c.baseURL, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rankURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build supplier rank request")
	}
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute supplier rank request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "supplier rank request failed")
	}

	var apiResp struct {
		Suppliers []struct {
			ID string `json:"id"`
		} `json:"suppliers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode supplier rank response")
	}

	ranked := make([]uuid.UUID, 0, len(apiResp.Suppliers))
	for _, supplier := range apiResp.Suppliers {
		id, err := uuid.Parse(supplier.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse supplier ID in rank response")
		}
		ranked = append(ranked, id)
	}

	return ranked, nil
}
