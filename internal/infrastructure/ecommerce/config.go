package ecommerce

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrConfigMissingBaseURL     = errors.New("ecommerce: base url template is required")
	ErrConfigMissingPlaceholder = errors.New("ecommerce: base url template must contain {cluster}")
)

// ClusterPlaceholder is replaced with the tenant's cluster id in BaseURLTemplate
const ClusterPlaceholder = "{cluster}"

// ClientConfig holds configuration for the upstream catalog API client
type ClientConfig struct {
	// BaseURLTemplate is the API root, e.g. "https://{cluster}.api.shopplatform.io"
	BaseURLTemplate string
	// RequestTimeout bounds every single HTTP call
	RequestTimeout time.Duration
	// MaxRateWait bounds how long a call waits for a rate grant
	MaxRateWait time.Duration
	// PageSize is the limit sent with list requests
	PageSize  int
	UserAgent string
	// WebhookSigningKey derives the per-shop webhook secret
	WebhookSigningKey []byte
}

// DefaultClientConfig returns a configuration with defaults filled in
func DefaultClientConfig(baseURLTemplate string) ClientConfig {
	return ClientConfig{
		BaseURLTemplate: baseURLTemplate,
		RequestTimeout:  30 * time.Second,
		MaxRateWait:     10 * time.Second,
		PageSize:        50,
		UserAgent:       "shopsync/1.0",
	}
}

// Validate validates the configuration and fills zero values with defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURLTemplate == "" {
		return ErrConfigMissingBaseURL
	}
	if !strings.Contains(c.BaseURLTemplate, ClusterPlaceholder) {
		return ErrConfigMissingPlaceholder
	}
	defaults := DefaultClientConfig(c.BaseURLTemplate)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.MaxRateWait <= 0 {
		c.MaxRateWait = defaults.MaxRateWait
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.UserAgent == "" {
		c.UserAgent = defaults.UserAgent
	}
	return nil
}

// BaseURL expands the template for a cluster
func (c *ClientConfig) BaseURL(cluster string) string {
	return strings.TrimRight(strings.ReplaceAll(c.BaseURLTemplate, ClusterPlaceholder, cluster), "/")
}
