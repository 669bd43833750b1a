package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	storefrontTokenHeader = "X-Shopify-Storefront-Access-Token"
	adminTokenHeader      = "X-Shopify-Access-Token"
	maxErrorBodyLen       = 512
)

var (
	// ErrGraphQL wraps transport failures and top-level GraphQL errors.
	ErrGraphQL = errors.New("shopify graphql request failed")
	// ErrNotFound is returned when Shopify answers with a null entity.
	ErrNotFound = errors.New("not found")
	// ErrCartNotFound means the referenced cart no longer exists remotely.
	ErrCartNotFound = fmt.Errorf("cart %w", ErrNotFound)
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// GraphQLError is one entry of the top-level "errors" array.
type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

// UserError is a mutation-level validation error returned by Shopify.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

func (e *UserError) Error() string {
	if len(e.Field) > 0 {
		return strings.Join(e.Field, ".") + ": " + e.Message
	}
	return e.Message
}

// PageInfo carries cursor pagination state.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Connection is the nodes + pageInfo shape Shopify uses for lists.
type Connection[T any] struct {
	Nodes    []T      `json:"nodes"`
	PageInfo PageInfo `json:"pageInfo"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// ShopifyClient posts GraphQL documents to a single Shopify endpoint.
type ShopifyClient struct {
	endpoint    string
	tokenHeader string
	token       string
	http        *http.Client
}

// NewShopifyClient builds a client for an arbitrary GraphQL endpoint.
func NewShopifyClient(endpoint, tokenHeader, token string) *ShopifyClient {
	return &ShopifyClient{
		endpoint:    endpoint,
		tokenHeader: tokenHeader,
		token:       token,
		http:        httpClient,
	}
}

// NewStorefrontClient targets the public Storefront API of a shop.
func NewStorefrontClient(storeDomain, apiVersion, token string) *ShopifyClient {
	endpoint := fmt.Sprintf("https://%s/api/%s/graphql.json", storeDomain, apiVersion)
	return NewShopifyClient(endpoint, storefrontTokenHeader, token)
}

// NewAdminClient targets the Admin API of a shop.
func NewAdminClient(storeDomain, apiVersion, token string) *ShopifyClient {
	endpoint := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", storeDomain, apiVersion)
	return NewShopifyClient(endpoint, adminTokenHeader, token)
}

// Do executes a GraphQL document and decodes "data" into out (may be nil).
func (c *ShopifyClient) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal graphql payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(c.tokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGraphQL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGraphQL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrGraphQL, resp.StatusCode, truncate(string(body), maxErrorBodyLen))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGraphQL, err)
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrGraphQL, envelope.Errors[0].Message)
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrGraphQL, err)
	}

	return nil
}

// Query runs a GraphQL document and returns the decoded data as T.
func Query[T any](ctx context.Context, c *ShopifyClient, query string, variables map[string]any) (T, error) {
	var out T
	err := c.Do(ctx, query, variables, &out)
	return out, err
}

func firstUserError(errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	e := errs[0]
	return &e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
