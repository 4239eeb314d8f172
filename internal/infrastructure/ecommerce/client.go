// Package ecommerce implements the adapter to the upstream shop platform:
// the rate-limited catalog API client and install signature verification.
package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

const maxResponseSize = 16 << 20

// ShopDirectory resolves the upstream endpoint of a tenant
type ShopDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*shop.Shop, error)
}

// CatalogClient implements integration.UpstreamCatalog over the platform's REST API.
// Every call resolves the tenant's shop and credentials, waits for a rate
// grant, and then issues one Basic-authenticated request with its own deadline.
type CatalogClient struct {
	cfg         ClientConfig
	httpClient  *http.Client
	limiter     integration.RateLimiter
	credentials integration.CredentialStore
	shops       ShopDirectory
	logger      *zap.Logger
	now         func() time.Time

	rateWaits atomic.Int64
}

// ClientOption configures a CatalogClient
type ClientOption func(*CatalogClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cc *CatalogClient) {
		cc.httpClient = c
	}
}

// WithClientLogger sets the logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cc *CatalogClient) {
		cc.logger = l
	}
}

// NewCatalogClient creates a new upstream catalog client
func NewCatalogClient(
	cfg ClientConfig,
	limiter integration.RateLimiter,
	credentials integration.CredentialStore,
	shops ShopDirectory,
	opts ...ClientOption,
) (*CatalogClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &CatalogClient{
		cfg:         cfg,
		httpClient:  &http.Client{},
		limiter:     limiter,
		credentials: credentials,
		shops:       shops,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RateWaits returns how many times a call had to wait for a rate grant
func (c *CatalogClient) RateWaits() int64 {
	return c.rateWaits.Load()
}

// ---------------------------------------------------------------------------
// UpstreamCatalog
// ---------------------------------------------------------------------------

// FetchPage fetches one page of an entity listing
func (c *CatalogClient) FetchPage(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, cursor string) (*integration.Page, error) {
	if !entityType.IsValid() {
		return nil, fmt.Errorf("%w: %v", integration.ErrUpstreamRejected, catalog.ErrInvalidEntityType)
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	body, err := c.do(ctx, tenantID, http.MethodGet, string(entityType), query, nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid list response: %v", integration.ErrUpstreamRejected, err)
	}

	page := &integration.Page{
		Items:      make([]catalog.Entity, 0, len(resp.Items)),
		NextCursor: resp.NextCursor,
		Done:       !resp.HasMore || resp.NextCursor == "",
	}
	for _, raw := range resp.Items {
		e, err := decodeItem(entityType, raw)
		if err != nil {
			page.Rejected = append(page.Rejected, integration.NewItemError(entityType, peekID(raw), err))
			continue
		}
		page.Items = append(page.Items, e)
	}
	return page, nil
}

// FetchOne fetches a single item. A missing item yields integration.ErrUpstreamNotFound.
func (c *CatalogClient) FetchOne(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string) (catalog.Entity, error) {
	if !entityType.IsValid() {
		return nil, fmt.Errorf("%w: %v", integration.ErrUpstreamRejected, catalog.ErrInvalidEntityType)
	}
	body, err := c.do(ctx, tenantID, http.MethodGet, string(entityType)+"/"+url.PathEscape(upstreamID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeItem(entityType, body)
}

// RegisterWebhook subscribes callbackURL to create, update and delete events of an item group
func (c *CatalogClient) RegisterWebhook(ctx context.Context, tenantID uuid.UUID, group catalog.EntityType, callbackURL string) (string, error) {
	s, err := c.shops.FindByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(webhookRequest{
		ItemGroup: string(group),
		URL:       callbackURL,
		Secret:    integration.DeriveWebhookSecret(c.cfg.WebhookSigningKey, s.UpstreamShopID),
		Events: []string{
			string(integration.ItemActionCreate),
			string(integration.ItemActionUpdate),
			string(integration.ItemActionDelete),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ecommerce: failed to encode webhook request: %w", err)
	}

	body, err := c.do(ctx, tenantID, http.MethodPost, "webhooks", nil, payload)
	if err != nil {
		return "", err
	}
	var resp webhookResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", fmt.Errorf("%w: invalid webhook response", integration.ErrUpstreamRejected)
	}
	return resp.ID, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// acquire waits for a rate grant. Waits follow the limiter's retry hint,
// stretched by an exponential backoff so that concurrent waiters spread out.
func (c *CatalogClient) acquire(ctx context.Context, tenantID uuid.UUID) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	deadline := c.now().Add(c.cfg.MaxRateWait)

	for {
		decision := c.limiter.TryAcquire(tenantID)
		if decision.Granted {
			return nil
		}
		wait := max(decision.RetryAfter, bo.NextBackOff())
		if c.now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: no grant within %s", integration.ErrRateLimitExceeded, c.cfg.MaxRateWait)
		}
		c.rateWaits.Add(1)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *CatalogClient) do(ctx context.Context, tenantID uuid.UUID, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := c.shops.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, shop.ErrShopInactive
	}
	creds, err := c.credentials.Credentials(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrMissingCredentials, err)
	}
	if err := c.acquire(ctx, tenantID); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v1/shops/%s/%s", c.cfg.BaseURL(s.Cluster), url.PathEscape(s.UpstreamShopID), path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("ecommerce: failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.Key, creds.Secret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to read response: %v", integration.ErrUpstreamUnavailable, err)
	}

	c.logger.Debug("Upstream call",
		zap.String("tenant_id", tenantID.String()),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(start)),
	)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps HTTP status codes onto the sync error taxonomy.
// 429 is the platform's own throttle and is retried like a local rate denial.
func classifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: upstream returned 429", integration.ErrRateLimitExceeded)
	case status == http.StatusNotFound:
		return integration.ErrUpstreamNotFound
	case status < 500:
		return fmt.Errorf("%w: HTTP %d", integration.ErrUpstreamRejected, status)
	default:
		return fmt.Errorf("%w: HTTP %d", integration.ErrUpstreamUnavailable, status)
	}
}

// IsCancellation reports whether err stems from the caller's context
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ integration.UpstreamCatalog = (*CatalogClient)(nil)
