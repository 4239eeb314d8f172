// Package tenant provides multi-tenant database scoping for GORM.
//
// The tenant id travels in the request context (see logger.WithTenantID).
// Callbacks registered by EnableAutoTenantFilter add WHERE tenant_id = ? to
// every query, update and delete on tables with a tenant_id column, and
// reject creates that carry another tenant's id.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopsync/backend/internal/infrastructure/logger"
)

var (
	// ErrTenantIDRequired is returned when tenant_id is required but not found
	ErrTenantIDRequired = errors.New("tenant_id is required but not found in context")
	// ErrInvalidTenantID is returned when tenant_id format is invalid
	ErrInvalidTenantID = errors.New("invalid tenant_id format")
)

// Scope applies tenant filtering to GORM queries
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// WithTenant binds tenantID to ctx so that the callbacks can enforce it
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID.String())
	return ctx
}

// FromContext returns the tenant bound to ctx
func FromContext(ctx context.Context) (uuid.UUID, error) {
	raw := logger.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, ErrTenantIDRequired
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidTenantID
	}
	return id, nil
}
